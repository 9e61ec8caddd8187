package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"maxwell-cdc/internal/models"
)

// Publisher handles publishing events to NATS
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *logrus.Logger
}

// connect dials url with the reconnect policy and handlers shared by the
// publisher and the subscriber.
func connect(url string, maxReconnect int, reconnectWait time.Duration, logger *logrus.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("maxwell-cdc"),
		nats.MaxReconnects(maxReconnect),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Infof("Connected to NATS at %s", url)
	return conn, nil
}

// NewPublisher creates a new NATS publisher
func NewPublisher(url, subject string, maxReconnect int, reconnectWait time.Duration, logger *logrus.Logger) (*Publisher, error) {
	conn, err := connect(url, maxReconnect, reconnectWait, logger)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}, nil
}

// Publish publishes a change event to NATS
func (p *Publisher) Publish(ctx context.Context, event *models.ChangeEvent) error {
	data, err := event.Payload()
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	p.logger.Debugf("Published %s event for %s.%s", event.Kind, event.Database, event.Table)
	return nil
}

// Close flushes pending messages and closes the NATS connection
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.conn.FlushWithContext(ctx)
	p.conn.Close()
	if err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}
	return nil
}

// GetConn returns the underlying NATS connection
func (p *Publisher) GetConn() *nats.Conn {
	return p.conn
}
