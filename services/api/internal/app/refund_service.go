package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tixora/tixora/services/api/internal/clock"
	"github.com/tixora/tixora/services/api/internal/domain"
	"github.com/tixora/tixora/services/api/internal/events"
	"github.com/tixora/tixora/services/api/internal/payment"
)

type RefundRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	FindOrderByProviderRef(ctx context.Context, providerRef string) (domain.Order, error)
	ListTicketsByOrder(ctx context.Context, orderID string) ([]domain.Ticket, error)
	SumRefunded(ctx context.Context, orderID string) (int64, error)
	// RefundTickets flips the given active tickets of the order to refunded
	// and returns how many changed.
	RefundTickets(ctx context.Context, orderID string, ticketIDs []string) (int, error)
	CancelPendingTransfers(ctx context.Context, ticketIDs []string, now time.Time) (int, error)
	TransitionOrder(ctx context.Context, orderID string, from []domain.OrderStatus, to domain.OrderStatus, now time.Time, failureReason string) (bool, error)
	// InsertRefund returns false when the provider refund id is already
	// recorded. An api refund replaces a row first recorded from a provider
	// webhook and reports true.
	InsertRefund(ctx context.Context, r domain.Refund) (bool, error)
}

type PaymentRefunds interface {
	Refund(ctx context.Context, req payment.RefundRequest) (payment.RefundResult, error)
}

type RefundService struct {
	repo      RefundRepository
	payments  PaymentRefunds
	publisher events.Publisher
	clock     clock.Clock
	logger    logrus.FieldLogger
}

func NewRefundService(repo RefundRepository, payments PaymentRefunds, publisher events.Publisher, clk clock.Clock, logger logrus.FieldLogger) *RefundService {
	if logger == nil {
		logger = discardLogger()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &RefundService{
		repo:      repo,
		payments:  payments,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

type RefundInput struct {
	OrderID string
	// TicketIDs defaults to every active ticket of the order.
	TicketIDs []string
	// Amount overrides the summed ticket prices when set.
	Amount *int64
	Reason string
}

// Refund returns money for some or all tickets of an order. The provider is
// called first; local state changes only once it confirms.
func (s *RefundService) Refund(ctx context.Context, in RefundInput) (domain.Refund, error) {
	order, err := s.repo.GetOrder(ctx, in.OrderID)
	if err != nil {
		return domain.Refund{}, err
	}
	if !order.Status.Refundable() {
		return domain.Refund{}, fmt.Errorf("%w: order is %s", domain.ErrRefundIneligible, order.Status)
	}
	tickets, err := s.repo.ListTicketsByOrder(ctx, order.ID)
	if err != nil {
		return domain.Refund{}, err
	}
	targets, err := selectRefundTickets(tickets, in.TicketIDs)
	if err != nil {
		return domain.Refund{}, err
	}

	already, err := s.repo.SumRefunded(ctx, order.ID)
	if err != nil {
		return domain.Refund{}, err
	}
	remaining := order.Total - already
	var amount int64
	for _, t := range targets {
		amount += t.UnitPrice
	}
	if in.Amount != nil {
		if *in.Amount <= 0 || *in.Amount > remaining {
			return domain.Refund{}, fmt.Errorf("%w: amount must be between 1 and %d", domain.ErrRefundIneligible, remaining)
		}
		amount = *in.Amount
	}
	if amount > remaining {
		amount = remaining
	}
	if amount <= 0 {
		return domain.Refund{}, fmt.Errorf("%w: nothing left to refund", domain.ErrRefundIneligible)
	}

	ticketIDs := make([]string, 0, len(targets))
	for _, t := range targets {
		ticketIDs = append(ticketIDs, t.ID)
	}
	refund := domain.Refund{
		ID:        newID(),
		OrderID:   order.ID,
		Amount:    amount,
		Reason:    in.Reason,
		TicketIDs: ticketIDs,
		Status:    domain.RefundSucceeded,
		Source:    domain.RefundSourceAPI,
	}

	res, err := s.payments.Refund(ctx, payment.RefundRequest{
		PaymentIntentID: order.ProviderRef,
		Amount:          amount,
		Reason:          in.Reason,
		IdempotencyKey:  refund.ID,
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":  order.ID,
			"refund_id": refund.ID,
			"amount":    displayAmount(amount),
		}).Error("provider refund failed")
		return domain.Refund{}, err
	}
	refund.ProviderRefundID = res.ID

	var status domain.OrderStatus
	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		now := s.clock.Now()
		refund.CreatedAt = now
		current, err := s.repo.GetOrderForUpdate(txCtx, order.ID)
		if err != nil {
			return err
		}
		n, err := s.repo.RefundTickets(txCtx, order.ID, ticketIDs)
		if err != nil {
			return err
		}
		if n != len(ticketIDs) {
			s.logger.WithFields(logrus.Fields{
				"order_id": order.ID,
				"expected": len(ticketIDs),
				"refunded": n,
			}).Warn("tickets changed state during refund")
		}
		if _, err := s.repo.CancelPendingTransfers(txCtx, ticketIDs, now); err != nil {
			return err
		}
		recorded, err := s.repo.InsertRefund(txCtx, refund)
		if err != nil {
			return err
		}
		if !recorded {
			s.logger.WithFields(logrus.Fields{
				"order_id":           order.ID,
				"provider_refund_id": refund.ProviderRefundID,
			}).Warn("provider refund already recorded")
		}
		status, err = s.settleOrder(txCtx, current, now)
		return err
	})
	if err != nil {
		// The provider already moved the money; surface loudly so an
		// operator can reconcile.
		s.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":           order.ID,
			"provider_refund_id": refund.ProviderRefundID,
		}).Error("record refund after provider success")
		return domain.Refund{}, err
	}

	publishAll(ctx, s.publisher, s.logger, []message{refundMessage(refund, status)})
	return refund, nil
}

type ReconcileRefundInput struct {
	ProviderRef      string
	OrderID          string
	ProviderRefundID string
	Amount           int64
	// Cumulative is the provider's running refunded total for the charge,
	// when it reports one.
	Cumulative int64
	Reason     string
}

type ReconcileResult struct {
	// Recorded is false when the refund was already known.
	Recorded    bool
	Refund      domain.Refund
	OrderStatus domain.OrderStatus
}

// ReconcileProviderRefund records a refund issued at the provider. Once
// refunds cover the order total every remaining ticket is refunded;
// smaller amounts only mark the order partially refunded.
func (s *RefundService) ReconcileProviderRefund(ctx context.Context, in ReconcileRefundInput) (ReconcileResult, error) {
	if in.ProviderRefundID == "" || in.Amount <= 0 {
		return ReconcileResult{}, fmt.Errorf("%w: refund id and amount required", domain.ErrWebhookPayloadInvalid)
	}
	var res ReconcileResult
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		now := s.clock.Now()
		order, err := s.lookupOrder(txCtx, in.ProviderRef, in.OrderID)
		if err != nil {
			return err
		}
		order, err = s.repo.GetOrderForUpdate(txCtx, order.ID)
		if err != nil {
			return err
		}
		res.OrderStatus = order.Status
		if !order.Status.Refundable() && order.Status != domain.OrderRefunded {
			s.logger.WithFields(logrus.Fields{
				"order_id": order.ID,
				"status":   order.Status,
			}).Warn("provider refund for order that was never paid")
			return nil
		}

		refund := domain.Refund{
			ID:               newID(),
			OrderID:          order.ID,
			ProviderRefundID: in.ProviderRefundID,
			Amount:           in.Amount,
			Reason:           in.Reason,
			Status:           domain.RefundSucceeded,
			Source:           domain.RefundSourceProvider,
			CreatedAt:        now,
		}
		already, err := s.repo.SumRefunded(txCtx, order.ID)
		if err != nil {
			return err
		}
		full := already+in.Amount >= order.Total || in.Cumulative >= order.Total
		if full {
			tickets, err := s.repo.ListTicketsByOrder(txCtx, order.ID)
			if err != nil {
				return err
			}
			for _, t := range tickets {
				if t.Status == domain.TicketActive {
					refund.TicketIDs = append(refund.TicketIDs, t.ID)
				}
			}
		}
		inserted, err := s.repo.InsertRefund(txCtx, refund)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		if len(refund.TicketIDs) > 0 {
			if _, err := s.repo.RefundTickets(txCtx, order.ID, refund.TicketIDs); err != nil {
				return err
			}
			if _, err := s.repo.CancelPendingTransfers(txCtx, refund.TicketIDs, now); err != nil {
				return err
			}
		}
		status := domain.OrderPartiallyRefunded
		if full {
			status = domain.OrderRefunded
		}
		if order.Status.Refundable() {
			if _, err := s.repo.TransitionOrder(txCtx, order.ID, []domain.OrderStatus{domain.OrderPaid, domain.OrderPartiallyRefunded}, status, now, ""); err != nil {
				return err
			}
			res.OrderStatus = status
		}
		res.Recorded = true
		res.Refund = refund
		return nil
	})
	return res, err
}

func (s *RefundService) lookupOrder(ctx context.Context, providerRef, orderID string) (domain.Order, error) {
	if providerRef != "" {
		order, err := s.repo.FindOrderByProviderRef(ctx, providerRef)
		if err == nil {
			return order, nil
		}
		if orderID == "" {
			return domain.Order{}, err
		}
	}
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return s.repo.GetOrder(ctx, orderID)
}

// settleOrder picks refunded or partially_refunded from the tickets still
// active after this refund.
func (s *RefundService) settleOrder(ctx context.Context, order domain.Order, now time.Time) (domain.OrderStatus, error) {
	tickets, err := s.repo.ListTicketsByOrder(ctx, order.ID)
	if err != nil {
		return "", err
	}
	status := domain.OrderRefunded
	for _, t := range tickets {
		if t.Status == domain.TicketActive {
			status = domain.OrderPartiallyRefunded
			break
		}
	}
	ok, err := s.repo.TransitionOrder(ctx, order.ID, []domain.OrderStatus{domain.OrderPaid, domain.OrderPartiallyRefunded}, status, now, "")
	if err != nil {
		return "", err
	}
	if !ok {
		s.logger.WithFields(logrus.Fields{
			"order_id": order.ID,
			"status":   order.Status,
		}).Warn("order status moved during refund")
		return order.Status, nil
	}
	return status, nil
}

func selectRefundTickets(tickets []domain.Ticket, ids []string) ([]domain.Ticket, error) {
	if len(ids) == 0 {
		out := make([]domain.Ticket, 0, len(tickets))
		for _, t := range tickets {
			if t.Status == domain.TicketActive {
				out = append(out, t)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: no active tickets", domain.ErrRefundIneligible)
		}
		return out, nil
	}
	byID := make(map[string]domain.Ticket, len(tickets))
	for _, t := range tickets {
		byID[t.ID] = t
	}
	ids = dedupe(ids)
	out := make([]domain.Ticket, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: ticket %s is not part of the order", domain.ErrRefundIneligible, id)
		}
		if t.Status != domain.TicketActive {
			return nil, fmt.Errorf("%w: ticket %s is %s", domain.ErrRefundIneligible, id, t.Status)
		}
		out = append(out, t)
	}
	return out, nil
}

func refundMessage(r domain.Refund, status domain.OrderStatus) message {
	return message{
		topic: events.TopicOrderRefunded,
		key:   r.OrderID,
		payload: refundEvent{
			OrderID:       r.OrderID,
			RefundID:      r.ID,
			Amount:        r.Amount,
			DisplayAmount: displayAmount(r.Amount),
			OrderStatus:   string(status),
			TicketIDs:     r.TicketIDs,
			Source:        string(r.Source),
		},
	}
}
