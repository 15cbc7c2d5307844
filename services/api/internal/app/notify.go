package app

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tixora/tixora/services/api/internal/domain"
	"github.com/tixora/tixora/services/api/internal/events"
)

type orderEvent struct {
	OrderID       string `json:"orderId"`
	UserID        string `json:"userId"`
	EventID       string `json:"eventId"`
	Status        string `json:"status"`
	Total         int64  `json:"total"`
	DisplayTotal  string `json:"displayTotal"`
	Currency      string `json:"currency"`
	FailureReason string `json:"failureReason,omitempty"`
}

func newOrderEvent(o domain.Order) orderEvent {
	return orderEvent{
		OrderID:       o.ID,
		UserID:        o.UserID,
		EventID:       o.EventID,
		Status:        string(o.Status),
		Total:         o.Total,
		DisplayTotal:  displayAmount(o.Total),
		Currency:      o.Currency,
		FailureReason: o.FailureReason,
	}
}

type ticketsIssuedEvent struct {
	OrderID   string   `json:"orderId"`
	UserID    string   `json:"userId"`
	TicketIDs []string `json:"ticketIds"`
}

type transferEvent struct {
	TransferID string `json:"transferId"`
	TicketID   string `json:"ticketId"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Status     string `json:"status"`
}

func newTransferEvent(t domain.TicketTransfer) transferEvent {
	return transferEvent{
		TransferID: t.ID,
		TicketID:   t.TicketID,
		FromUserID: t.FromUserID,
		ToUserID:   t.ToUserID,
		Status:     string(t.Status),
	}
}

type refundEvent struct {
	OrderID       string   `json:"orderId"`
	RefundID      string   `json:"refundId"`
	Amount        int64    `json:"amount"`
	DisplayAmount string   `json:"displayAmount"`
	OrderStatus   string   `json:"orderStatus"`
	TicketIDs     []string `json:"ticketIds"`
	Source        string   `json:"source"`
}

// displayAmount renders minor units with two decimals.
func displayAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// message is a domain event queued until the surrounding transaction commits.
type message struct {
	topic   string
	key     string
	payload any
}

func publishAll(ctx context.Context, p events.Publisher, logger logrus.FieldLogger, msgs []message) {
	for _, m := range msgs {
		if err := p.Publish(ctx, m.topic, m.key, m.payload); err != nil {
			logger.WithError(err).WithField("topic", m.topic).Warn("publish domain event")
		}
	}
}
