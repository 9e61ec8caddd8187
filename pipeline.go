package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"maxwell-cdc/internal/checkpoint"
	"maxwell-cdc/internal/config"
	"maxwell-cdc/internal/file"
	"maxwell-cdc/internal/format"
	"maxwell-cdc/internal/kafka"
	natspub "maxwell-cdc/internal/nats"
	"maxwell-cdc/internal/processor"
	"maxwell-cdc/internal/schema"
)

type source interface {
	processor.Reader
	Close() error
}

type sink struct {
	processor.Publisher
	close func() error
	conn  *nats.Conn
}

func (s *sink) Close() error {
	return s.close()
}

// natsConn is handed to scripts for nats.publish and nats.kv when the sink is NATS
func (s *sink) natsConn() *nats.Conn {
	return s.conn
}

func newSource(cfg config.SourceConfig, logger *logrus.Logger) (source, error) {
	switch cfg.Type {
	case config.TypeNATS:
		sub, err := natspub.NewSubscriber(cfg.NATS.URL, cfg.NATS.Subject, cfg.NATS.Queue,
			cfg.NATS.MaxReconnect, cfg.NATS.ReconnectWait, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS subscriber: %w", err)
		}
		return sub, nil
	case config.TypeKafka:
		r, err := kafka.NewReader(cfg.Kafka, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka reader: %w", err)
		}
		return r, nil
	case config.TypeFile:
		r, err := file.NewReader(cfg.File.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create file reader: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported source type %q", cfg.Type)
	}
}

func newSink(cfg config.SinkConfig, logger *logrus.Logger) (*sink, error) {
	switch cfg.Type {
	case config.TypeNATS:
		pub, err := natspub.NewPublisher(cfg.NATS.URL, cfg.NATS.Subject,
			cfg.NATS.MaxReconnect, cfg.NATS.ReconnectWait, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
		}
		return &sink{Publisher: pub, close: pub.Close, conn: pub.GetConn()}, nil
	case config.TypeKafka:
		w, err := kafka.NewWriter(cfg.Kafka, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka writer: %w", err)
		}
		return &sink{Publisher: w, close: w.Close}, nil
	case config.TypeFile:
		w, err := file.NewWriter(cfg.File.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create file writer: %w", err)
		}
		return &sink{Publisher: w, close: w.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported sink type %q", cfg.Type)
	}
}

func newCheckpoint(path string, logger *logrus.Logger) (*checkpoint.Store, error) {
	store, err := checkpoint.NewStore(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	return store, nil
}

// resolveRowType builds the row schema from schema.columns, or looks the
// filtered table up in MySQL when no columns are declared.
func resolveRowType(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (schema.RowType, error) {
	if len(cfg.Schema.Columns) > 0 {
		columns := make([]schema.Column, 0, len(cfg.Schema.Columns))
		for _, c := range cfg.Schema.Columns {
			typ, err := schema.ParseLogicalType(c.Type)
			if err != nil {
				return schema.RowType{}, fmt.Errorf("schema column %q: %w", c.Name, err)
			}
			columns = append(columns, schema.Column{Name: c.Name, Type: typ})
		}
		rt, err := schema.NewRowType(columns...)
		if err != nil {
			return schema.RowType{}, fmt.Errorf("invalid schema: %w", err)
		}
		return rt, nil
	}

	database := cfg.Format[format.OptDatabaseInclude]
	table := cfg.Format[format.OptTableInclude]
	if database == "" || table == "" {
		return schema.RowType{}, fmt.Errorf("schema discovery needs %s and %s to name one table",
			format.OptDatabaseInclude, format.OptTableInclude)
	}

	m := cfg.Schema.MySQL
	loader, err := schema.NewLoader(schema.MySQLConfig{
		Host:     m.Host,
		Port:     m.Port,
		User:     m.User,
		Password: m.Password,
		Timeout:  m.Timeout,
	}, logger)
	if err != nil {
		return schema.RowType{}, err
	}
	defer loader.Close()

	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	if err := loader.Check(ctx); err != nil {
		return schema.RowType{}, err
	}
	rt, err := loader.Load(ctx, database, table)
	if err != nil {
		return schema.RowType{}, fmt.Errorf("failed to load schema of %s.%s: %w", database, table, err)
	}
	return rt, nil
}
