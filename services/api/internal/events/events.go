// Package events publishes domain events after their transaction commits.
package events

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
)

const (
	TopicOrderPaid          = "order.paid"
	TopicOrderFailed        = "order.failed"
	TopicOrderUnfulfillable = "order.unfulfillable"
	TopicOrderRefunded      = "order.refunded"
	TopicTicketsIssued      = "tickets.issued"
	TopicTransferCreated    = "transfer.created"
	TopicTransferAccepted   = "transfer.accepted"
)

// Publisher delivers a JSON-encoded payload keyed for partitioning.
// Delivery is best-effort; callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// LogPublisher writes events to the log. It is used when no broker is
// configured.
type LogPublisher struct {
	logger logrus.FieldLogger
}

func NewLogPublisher(logger logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.logger.WithFields(logrus.Fields{
		"topic":   topic,
		"key":     key,
		"payload": string(body),
	}).Info("domain event")
	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }
