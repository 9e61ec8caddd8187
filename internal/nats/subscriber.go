package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"maxwell-cdc/internal/models"
)

// Subscriber reads Maxwell messages from a NATS subject
type Subscriber struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	logger *logrus.Logger
}

// NewSubscriber subscribes to subject, joining queue when it is not empty
func NewSubscriber(url, subject, queue string, maxReconnect int, reconnectWait time.Duration, logger *logrus.Logger) (*Subscriber, error) {
	conn, err := connect(url, maxReconnect, reconnectWait, logger)
	if err != nil {
		return nil, err
	}

	var sub *nats.Subscription
	if queue != "" {
		sub, err = conn.QueueSubscribeSync(subject, queue)
	} else {
		sub, err = conn.SubscribeSync(subject)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	logger.Infof("Subscribed to NATS subject %s", subject)

	return &Subscriber{
		conn:   conn,
		sub:    sub,
		logger: logger,
	}, nil
}

// Read waits for the next message. Core NATS has no acknowledgement, so the
// returned message has no Ack.
func (s *Subscriber) Read(ctx context.Context) (*models.Message, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return &models.Message{
		Key:   []byte(msg.Subject),
		Value: msg.Data,
	}, nil
}

// Close unsubscribes and closes the connection
func (s *Subscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warnf("Failed to unsubscribe: %v", err)
		}
	}
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
