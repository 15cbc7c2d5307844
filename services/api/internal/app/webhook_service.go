package app

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tixora/tixora/services/api/internal/clock"
	"github.com/tixora/tixora/services/api/internal/domain"
	"github.com/tixora/tixora/services/api/internal/events"
	"github.com/tixora/tixora/services/api/internal/payment"
)

type WebhookRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// RecordWebhookEvent returns false when the event id was seen before.
	RecordWebhookEvent(ctx context.Context, e domain.WebhookEvent) (bool, error)
}

type WebhookVerifier interface {
	Verify(body []byte, header string, now time.Time) error
}

type OrderPayments interface {
	FindOrderForPayment(ctx context.Context, providerRef, orderID string) (domain.Order, error)
	MarkPaid(ctx context.Context, orderID string) (domain.Order, error)
	MarkFailed(ctx context.Context, orderID, reason string) (domain.Order, error)
}

type TicketIssuer interface {
	Issue(ctx context.Context, orderID string) (IssueResult, error)
}

type RefundReconciler interface {
	ReconcileProviderRefund(ctx context.Context, in ReconcileRefundInput) (ReconcileResult, error)
}

type WebhookProcessorDeps struct {
	Repo      WebhookRepository
	Verifier  WebhookVerifier
	Orders    OrderPayments
	Tickets   TicketIssuer
	Refunds   RefundReconciler
	Publisher events.Publisher
	Clock     clock.Clock
	Logger    logrus.FieldLogger
}

type WebhookProcessor struct {
	repo      WebhookRepository
	verifier  WebhookVerifier
	orders    OrderPayments
	tickets   TicketIssuer
	refunds   RefundReconciler
	publisher events.Publisher
	clock     clock.Clock
	logger    logrus.FieldLogger
}

func NewWebhookProcessor(deps WebhookProcessorDeps) *WebhookProcessor {
	p := &WebhookProcessor{
		repo:      deps.Repo,
		verifier:  deps.Verifier,
		orders:    deps.Orders,
		tickets:   deps.Tickets,
		refunds:   deps.Refunds,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}
	if p.publisher == nil {
		p.publisher = events.Nop{}
	}
	if p.logger == nil {
		p.logger = discardLogger()
	}
	return p
}

type WebhookResult struct {
	EventID string
	Type    string
	// Duplicate is true when the event was processed on an earlier delivery.
	Duplicate bool
	OrderID   string
}

// HandleEvent authenticates and applies one provider delivery. The dedup
// row and every side effect commit together, so a failed attempt leaves
// nothing behind and the redelivery is processed from scratch.
func (p *WebhookProcessor) HandleEvent(ctx context.Context, signature string, body []byte) (WebhookResult, error) {
	now := p.clock.Now()
	if err := p.verifier.Verify(body, signature, now); err != nil {
		p.logger.WithError(err).Warn("webhook signature rejected")
		return WebhookResult{}, domain.ErrWebhookSignatureInvalid
	}
	evt, err := payment.ParseEvent(body)
	if err != nil {
		return WebhookResult{}, err
	}

	res := WebhookResult{EventID: evt.ID, Type: evt.Type}
	log := p.logger.WithFields(logrus.Fields{
		"event_id":   evt.ID,
		"event_type": evt.Type,
	})

	var outbox []message
	err = p.repo.WithTx(ctx, func(txCtx context.Context) error {
		outbox = outbox[:0]
		fresh, err := p.repo.RecordWebhookEvent(txCtx, domain.WebhookEvent{
			ProviderEventID: evt.ID,
			Type:            evt.Type,
			ProcessedAt:     now,
		})
		if err != nil {
			return err
		}
		if !fresh {
			res.Duplicate = true
			return nil
		}
		orderID, msgs, err := p.dispatch(txCtx, evt, log)
		res.OrderID = orderID
		outbox = append(outbox, msgs...)
		return err
	})
	if err != nil {
		log.WithError(err).Error("webhook processing failed")
		return WebhookResult{}, err
	}
	if res.Duplicate {
		log.Info("duplicate webhook event ignored")
		return res, nil
	}
	log.WithField("order_id", res.OrderID).Info("webhook event processed")
	publishAll(ctx, p.publisher, p.logger, outbox)
	return res, nil
}

func (p *WebhookProcessor) dispatch(ctx context.Context, evt payment.Event, log logrus.FieldLogger) (string, []message, error) {
	switch evt.Type {
	case payment.EventCheckoutCompleted, payment.EventPaymentSucceeded:
		return p.handlePaid(ctx, evt, log)
	case payment.EventPaymentFailed:
		return p.handleFailed(ctx, evt, log)
	case payment.EventChargeRefunded:
		return p.handleRefunded(ctx, evt)
	default:
		log.Debug("webhook event type not handled")
		return "", nil, nil
	}
}

func (p *WebhookProcessor) handlePaid(ctx context.Context, evt payment.Event, log logrus.FieldLogger) (string, []message, error) {
	order, err := p.orders.FindOrderForPayment(ctx, evt.Data.PaymentIntentID, evt.Data.OrderID())
	if err != nil {
		return "", nil, err
	}
	var msgs []message

	paid, err := p.orders.MarkPaid(ctx, order.ID)
	var conflict *domain.StateConflictError
	switch {
	case err == nil:
		msgs = append(msgs, message{topic: events.TopicOrderPaid, key: paid.ID, payload: newOrderEvent(paid)})
	case errors.As(err, &conflict):
		if conflict.Current == domain.OrderFailed || conflict.Current == domain.OrderCancelled {
			log.WithFields(logrus.Fields{
				"order_id": order.ID,
				"status":   conflict.Current,
			}).Warn("payment captured for closed order")
			order.Status = conflict.Current
			msgs = append(msgs, message{topic: events.TopicOrderUnfulfillable, key: order.ID, payload: newOrderEvent(order)})
			return order.ID, msgs, nil
		}
		// Already paid on an earlier event; make sure tickets exist.
	case errors.Is(err, domain.ErrInsufficientInventory):
		failed, err := p.orders.MarkFailed(ctx, order.ID, FailureInventoryLapsed)
		if err != nil {
			return order.ID, nil, err
		}
		log.WithField("order_id", order.ID).Warn("paid order cannot be fulfilled")
		msgs = append(msgs, message{topic: events.TopicOrderUnfulfillable, key: failed.ID, payload: newOrderEvent(failed)})
		return order.ID, msgs, nil
	default:
		return order.ID, nil, err
	}

	issued, err := p.tickets.Issue(ctx, order.ID)
	if err != nil {
		return order.ID, nil, err
	}
	if issued.Created {
		msgs = append(msgs, ticketsIssuedMessage(order.ID, issued.Tickets))
	}
	return order.ID, msgs, nil
}

func (p *WebhookProcessor) handleFailed(ctx context.Context, evt payment.Event, log logrus.FieldLogger) (string, []message, error) {
	order, err := p.orders.FindOrderForPayment(ctx, evt.Data.PaymentIntentID, evt.Data.OrderID())
	if err != nil {
		return "", nil, err
	}
	reason := evt.Data.FailureReason
	if reason == "" {
		reason = "payment_failed"
	}
	failed, err := p.orders.MarkFailed(ctx, order.ID, reason)
	if errors.Is(err, domain.ErrOrderStateConflict) {
		log.WithError(err).WithField("order_id", order.ID).Info("payment failure for settled order ignored")
		return order.ID, nil, nil
	}
	if err != nil {
		return order.ID, nil, err
	}
	return order.ID, []message{{topic: events.TopicOrderFailed, key: failed.ID, payload: newOrderEvent(failed)}}, nil
}

func (p *WebhookProcessor) handleRefunded(ctx context.Context, evt payment.Event) (string, []message, error) {
	res, err := p.refunds.ReconcileProviderRefund(ctx, ReconcileRefundInput{
		ProviderRef:      evt.Data.PaymentIntentID,
		OrderID:          evt.Data.OrderID(),
		ProviderRefundID: evt.Data.RefundID,
		Amount:           evt.Data.Amount,
		Cumulative:       evt.Data.AmountRefunded,
		Reason:           "provider_initiated",
	})
	if err != nil {
		return "", nil, err
	}
	if !res.Recorded {
		return res.Refund.OrderID, nil, nil
	}
	return res.Refund.OrderID, []message{refundMessage(res.Refund, res.OrderStatus)}, nil
}
