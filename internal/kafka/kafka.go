// Package kafka reads Maxwell messages from and writes change events to Kafka.
package kafka

import (
	"context"

	"github.com/pkg/errors"
	skafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"maxwell-cdc/internal/config"
	"maxwell-cdc/internal/models"
)

const BackendName = "kafka"

// fetcher is the part of *skafka.Reader the source uses
type fetcher interface {
	FetchMessage(ctx context.Context) (skafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// producer is the part of *skafka.Writer the sink uses
type producer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Reader consumes a topic as part of a consumer group. Offsets are committed
// when the processor acknowledges a message.
type Reader struct {
	reader fetcher
	log    *logrus.Entry
}

func NewReader(cfg config.KafkaConfig, logger *logrus.Logger) (*Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}

	r := skafka.NewReader(skafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
		Dialer:  &skafka.Dialer{Timeout: cfg.ConnectTimeout},
		MaxWait: cfg.MaxWait,
		// explicit commits only
		CommitInterval: 0,
	})

	log := logger.WithField("backend", BackendName)
	log.Infof("Consuming topic %s as group %s", cfg.Topic, cfg.GroupID)

	return &Reader{reader: r, log: log}, nil
}

// Read fetches the next message without committing it
func (r *Reader) Read(ctx context.Context) (*models.Message, error) {
	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	return &models.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Ack: func(ctx context.Context) error {
			if err := r.reader.CommitMessages(ctx, msg); err != nil {
				return errors.Wrapf(err, "unable to commit offset %d of partition %d", msg.Offset, msg.Partition)
			}
			return nil
		},
	}, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// Writer publishes change events to a topic, keyed by database.table so the
// events of one table stay ordered within a partition.
type Writer struct {
	writer producer
	log    *logrus.Entry
}

func NewWriter(cfg config.KafkaConfig, logger *logrus.Logger) (*Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}

	w := &skafka.Writer{
		Addr:         skafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &skafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: skafka.RequireAll,
	}

	return &Writer{
		writer: w,
		log:    logger.WithField("backend", BackendName),
	}, nil
}

func (w *Writer) Publish(ctx context.Context, event *models.ChangeEvent) error {
	data, err := event.Payload()
	if err != nil {
		return errors.Wrap(err, "unable to marshal event")
	}

	if err := w.writer.WriteMessages(ctx, skafka.Message{
		Key:   []byte(event.Key()),
		Value: data,
	}); err != nil {
		return errors.Wrap(err, "unable to write message to kafka")
	}

	w.log.Debugf("Published %s event for %s.%s", event.Kind, event.Database, event.Table)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}
