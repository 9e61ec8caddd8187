package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"maxwell-cdc/internal/config"
	"maxwell-cdc/internal/format"
	"maxwell-cdc/internal/metrics"
	"maxwell-cdc/internal/models"
)

const (
	defaultReadTimeout = 10 * time.Second
	defaultRetryWait   = time.Second
)

// Reader is a source of raw Maxwell messages. Read returns io.EOF when the
// source is exhausted and the context error when it times out.
type Reader interface {
	Read(ctx context.Context) (*models.Message, error)
}

// Publisher interface for publishing events
type Publisher interface {
	Publish(ctx context.Context, event *models.ChangeEvent) error
}

// Checkpointer records the binlog position of translated messages
type Checkpointer interface {
	Save(position, gtid string) (bool, error)
}

// Options holds the optional parts of a Processor
type Options struct {
	Transformer *Transformer
	Checkpoint  Checkpointer
	Metrics     *metrics.Metrics

	// SinkFormat is config.SinkFormatChangelog (default) or config.SinkFormatMaxwell
	SinkFormat  string
	ReadTimeout time.Duration
	RetryWait   time.Duration
}

// Processor reads Maxwell messages, translates them into change events and
// publishes them
type Processor struct {
	reader      Reader
	publisher   Publisher
	translator  *format.Translator
	encoder     *format.Encoder
	transformer *Transformer
	checkpoint  Checkpointer
	metrics     *metrics.Metrics
	sinkFormat  string
	readTimeout time.Duration
	retryWait   time.Duration
	logger      *logrus.Logger

	// metadata of the message just dropped by the translator
	dropped *format.Metadata
}

// NewProcessor creates a new event processor
func NewProcessor(reader Reader, publisher Publisher, translator *format.Translator, encoder *format.Encoder, opts Options, logger *logrus.Logger) *Processor {
	p := &Processor{
		reader:      reader,
		publisher:   publisher,
		encoder:     encoder,
		transformer: opts.Transformer,
		checkpoint:  opts.Checkpoint,
		metrics:     opts.Metrics,
		sinkFormat:  opts.SinkFormat,
		readTimeout: opts.ReadTimeout,
		retryWait:   opts.RetryWait,
		logger:      logger,
	}
	if p.sinkFormat == "" {
		p.sinkFormat = config.SinkFormatChangelog
	}
	if p.readTimeout == 0 {
		p.readTimeout = defaultReadTimeout
	}
	if p.retryWait == 0 {
		p.retryWait = defaultRetryWait
	}
	p.translator = translator.WithDropHandler(p.onDrop)
	return p
}

// Start processes messages until ctx is cancelled, the source is exhausted or
// a message cannot be translated.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info("Starting event processor...")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Context cancelled, stopping event processor")
			return nil
		default:
		}

		msg, err := p.read(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				continue
			case errors.Is(err, context.DeadlineExceeded):
				// no message within the read timeout
				continue
			case errors.Is(err, io.EOF):
				p.logger.Info("Source exhausted, stopping event processor")
				return nil
			}
			p.logger.Errorf("Error reading message: %v", err)
			p.sleep(ctx, time.Second)
			continue
		}

		if err := p.Process(ctx, msg); err != nil {
			return err
		}
	}
}

func (p *Processor) read(ctx context.Context) (*models.Message, error) {
	readCtx, cancel := context.WithTimeout(ctx, p.readTimeout)
	defer cancel()
	return p.reader.Read(readCtx)
}

// Process translates and publishes one message, then acknowledges it and
// saves its position. A message that cannot be translated is not acknowledged.
func (p *Processor) Process(ctx context.Context, msg *models.Message) error {
	p.dropped = nil
	events, err := p.translator.Translate(msg.Value)
	if err != nil {
		p.metrics.Message(metrics.ResultFailed)
		return fmt.Errorf("failed to translate message: %w", err)
	}

	for _, ev := range events {
		if err := p.publishEvent(ctx, ev); err != nil {
			return err
		}
	}

	if len(events) > 0 {
		p.metrics.Message(metrics.ResultTranslated)
	}

	if msg.Ack != nil {
		if err := msg.Ack(ctx); err != nil {
			return fmt.Errorf("failed to acknowledge message: %w", err)
		}
	}

	p.savePosition(events)
	return nil
}

// savePosition records the position of the last published event, or of the
// envelope when the whole message was dropped.
func (p *Processor) savePosition(events []format.ChangeEvent) {
	meta := p.dropped
	p.dropped = nil
	if len(events) > 0 {
		meta = &events[len(events)-1].Meta
	}
	if p.checkpoint == nil || meta == nil || meta.Position == "" {
		return
	}
	if _, err := p.checkpoint.Save(meta.Position, meta.GTID); err != nil {
		p.logger.Warnf("Failed to save position: %v", err)
	}
}

func (p *Processor) publishEvent(ctx context.Context, ev format.ChangeEvent) error {
	record, err := p.record(ev)
	if err != nil {
		return fmt.Errorf("failed to render %s event: %w", ev.Kind, err)
	}
	database, table := record.Database, record.Table

	if p.transformer != nil {
		record, err = p.transformer.Transform(record)
		if errors.Is(err, ErrEventRejected) || (err == nil && record == nil) {
			p.logger.Debugf("Event rejected by transformer: %s.%s (kind: %s)", database, table, ev.Kind)
			return nil
		}
		if err != nil {
			p.logger.Errorf("Error transforming event: %v", err)
			return nil
		}
	}

	if p.sinkFormat == config.SinkFormatMaxwell {
		kind, err := format.ParseChangeKind(record.Kind)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		if record.RawJSON, err = format.MarshalRecord(kind, record.Database, record.Table, record.Row); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}

	if err := p.publish(ctx, record); err != nil {
		return err
	}

	p.metrics.Event(record.Kind)
	p.logger.Debugf("Processed %s event for %s.%s", record.Kind, record.Database, record.Table)
	return nil
}

// record converts a translated event into the published shape
func (p *Processor) record(ev format.ChangeEvent) (*models.ChangeEvent, error) {
	row, err := p.encoder.RowData(ev.Row)
	if err != nil {
		return nil, err
	}
	return &models.ChangeEvent{
		Kind:       ev.Kind.String(),
		Database:   ev.Meta.Database,
		Table:      ev.Meta.Table,
		Timestamp:  ev.Meta.Timestamp,
		Position:   ev.Meta.Position,
		GTID:       ev.Meta.GTID,
		PrimaryKey: ev.Meta.PrimaryKeyColumns,
		Row:        row,
	}, nil
}

// publish retries a failed publish once
func (p *Processor) publish(ctx context.Context, record *models.ChangeEvent) error {
	err := p.publisher.Publish(ctx, record)
	if err == nil {
		return nil
	}

	p.logger.Warnf("Error publishing event, retrying: %v", err)
	if !p.sleep(ctx, p.retryWait) {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if err := p.publisher.Publish(ctx, record); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *Processor) onDrop(d format.Drop) {
	p.dropped = d.Meta
	switch d.Reason {
	case format.DropFiltered:
		p.metrics.Message(metrics.ResultFiltered)
		p.logger.Debugf("Message filtered out: %s", d.Message)
	case format.DropIgnored:
		p.metrics.Message(metrics.ResultIgnored)
		p.logger.Warnf("Ignoring message: %v", d.Err)
	}
}

// sleep waits for d and reports false if ctx was cancelled first
func (p *Processor) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
