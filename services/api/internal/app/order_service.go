package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tixora/tixora/services/api/internal/clock"
	"github.com/tixora/tixora/services/api/internal/domain"
	"github.com/tixora/tixora/services/api/internal/payment"
)

type OrderRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetHolds(ctx context.Context, holdIDs []string) ([]domain.CartHold, error)
	GetTiers(ctx context.Context, tierIDs []string) (map[string]domain.TicketTier, error)
	// CreateOrder inserts the order with its line items.
	CreateOrder(ctx context.Context, order domain.Order) error
	// AttachHolds links unreleased, unexpired, unattached holds of userID to
	// the order and returns how many rows it linked.
	AttachHolds(ctx context.Context, orderID, userID string, holdIDs []string, now time.Time) (int, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	FindOrderByProviderRef(ctx context.Context, providerRef string) (domain.Order, error)
	// TransitionOrder updates status only when it is one of from.
	TransitionOrder(ctx context.Context, orderID string, from []domain.OrderStatus, to domain.OrderStatus, now time.Time, failureReason string) (bool, error)
	// CloseOrderHolds releases the order's unreleased holds with reason and
	// returns them.
	CloseOrderHolds(ctx context.Context, orderID string, reason domain.ReleaseReason, now time.Time) ([]domain.CartHold, error)
	// IncrementPromoUsage bumps used_count unless max_uses is reached.
	IncrementPromoUsage(ctx context.Context, promoID string) (bool, error)
}

type PromoValidator interface {
	Validate(ctx context.Context, in ValidatePromoInput) (domain.PromoCode, error)
}

type PaymentIntents interface {
	CreatePaymentIntent(ctx context.Context, req payment.PaymentIntentRequest) (payment.PaymentIntent, error)
}

type OrderServiceDeps struct {
	Repo     OrderRepository
	Ledger   InventoryLedger
	Promos   PromoValidator
	Payments PaymentIntents
	Clock    clock.Clock
	Logger   logrus.FieldLogger
}

type OrderService struct {
	repo     OrderRepository
	ledger   InventoryLedger
	promos   PromoValidator
	payments PaymentIntents
	clock    clock.Clock
	logger   logrus.FieldLogger
}

func NewOrderService(deps OrderServiceDeps) *OrderService {
	logger := deps.Logger
	if logger == nil {
		logger = discardLogger()
	}
	return &OrderService{
		repo:     deps.Repo,
		ledger:   deps.Ledger,
		promos:   deps.Promos,
		payments: deps.Payments,
		clock:    deps.Clock,
		logger:   logger,
	}
}

// FailureInventoryLapsed marks orders whose payment arrived after their
// holds lapsed and the tier had sold out in the meantime.
const FailureInventoryLapsed = "inventory_lapsed"

type CreateOrderInput struct {
	UserID    string
	EventID   string
	HoldIDs   []string
	PromoCode string
	Metadata  map[string]string
}

type CreateOrderResult struct {
	Order        domain.Order
	ClientSecret string
}

// CreateOrder prices the user's holds, opens a payment intent and persists
// the pending order with the holds attached.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (CreateOrderResult, error) {
	if in.UserID == "" || in.EventID == "" {
		return CreateOrderResult{}, domain.ErrInvalidRequest
	}
	holdIDs := dedupe(in.HoldIDs)
	if len(holdIDs) == 0 {
		return CreateOrderResult{}, domain.ErrInvalidRequest
	}

	now := s.clock.Now()
	holds, err := s.repo.GetHolds(ctx, holdIDs)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if len(holds) != len(holdIDs) {
		return CreateOrderResult{}, domain.ErrHoldNotFound
	}
	tierIDs := make([]string, 0, len(holds))
	for _, h := range holds {
		if h.UserID != in.UserID {
			return CreateOrderResult{}, domain.ErrHoldNotOwned
		}
		if !h.Active(now) {
			return CreateOrderResult{}, domain.ErrHoldExpired
		}
		if h.OrderID != "" {
			return CreateOrderResult{}, domain.ErrHoldUnavailable
		}
		tierIDs = append(tierIDs, h.TierID)
	}
	tiers, err := s.repo.GetTiers(ctx, dedupe(tierIDs))
	if err != nil {
		return CreateOrderResult{}, err
	}

	order := domain.Order{
		ID:        newID(),
		UserID:    in.UserID,
		EventID:   in.EventID,
		Status:    domain.OrderPending,
		Metadata:  in.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	itemIndex := make(map[string]int)
	for _, h := range holds {
		tier, ok := tiers[h.TierID]
		if !ok {
			return CreateOrderResult{}, domain.ErrTierNotFound
		}
		if tier.EventID != in.EventID {
			return CreateOrderResult{}, fmt.Errorf("%w: hold %s is for another event", domain.ErrInvalidRequest, h.ID)
		}
		if order.Currency == "" {
			order.Currency = tier.Currency
		} else if order.Currency != tier.Currency {
			return CreateOrderResult{}, domain.ErrCurrencyMismatch
		}
		if i, ok := itemIndex[h.TierID]; ok {
			order.LineItems[i].Quantity += h.Quantity
		} else {
			itemIndex[h.TierID] = len(order.LineItems)
			order.LineItems = append(order.LineItems, domain.LineItem{
				TierID:    h.TierID,
				Quantity:  h.Quantity,
				UnitPrice: tier.Price,
			})
		}
		order.Subtotal += tier.Price * int64(h.Quantity)
	}

	if in.PromoCode != "" {
		promo, err := s.promos.Validate(ctx, ValidatePromoInput{
			Code:    in.PromoCode,
			EventID: in.EventID,
			UserID:  in.UserID,
		})
		if err != nil {
			return CreateOrderResult{}, err
		}
		order.PromoCodeID = promo.ID
		order.Discount = promo.DiscountFor(order.Subtotal)
	}
	order.Total = order.Subtotal - order.Discount

	intent, err := s.payments.CreatePaymentIntent(ctx, payment.PaymentIntentRequest{
		OrderID:  order.ID,
		Amount:   order.Total,
		Currency: order.Currency,
		Metadata: map[string]string{"user_id": order.UserID, "event_id": order.EventID},
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("create payment intent")
		return CreateOrderResult{}, err
	}
	order.ProviderRef = intent.ID

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.CreateOrder(txCtx, order); err != nil {
			return err
		}
		n, err := s.repo.AttachHolds(txCtx, order.ID, order.UserID, holdIDs, now)
		if err != nil {
			return err
		}
		if n != len(holdIDs) {
			return domain.ErrHoldUnavailable
		}
		return nil
	})
	if err != nil {
		return CreateOrderResult{}, err
	}
	return CreateOrderResult{Order: order, ClientSecret: intent.ClientSecret}, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// FindOrderForPayment resolves the order a provider event refers to, by
// intent id first and then by the order id echoed in the intent metadata.
func (s *OrderService) FindOrderForPayment(ctx context.Context, providerRef, orderID string) (domain.Order, error) {
	if providerRef != "" {
		order, err := s.repo.FindOrderByProviderRef(ctx, providerRef)
		if err == nil || !errors.Is(err, domain.ErrOrderNotFound) {
			return order, err
		}
	}
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return s.repo.GetOrder(ctx, orderID)
}

// MarkPaid settles a pending order: attached holds are consumed into sold
// inventory, lapsed quantities are sold directly and the promo usage is
// counted. domain.ErrInsufficientInventory means the order can no longer
// be fulfilled; nothing is written in that case.
func (s *OrderService) MarkPaid(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		now := s.clock.Now()
		order, err := s.repo.GetOrderForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(order.Status, domain.OrderPaid) {
			return &domain.StateConflictError{OrderID: orderID, Current: order.Status, Target: domain.OrderPaid}
		}

		consumed, err := s.repo.CloseOrderHolds(txCtx, orderID, domain.ReleaseConsumed, now)
		if err != nil {
			return err
		}
		covered := make(map[string]int)
		for _, h := range consumed {
			if err := s.ledger.CommitSale(txCtx, h.TierID, h.Quantity); err != nil {
				return err
			}
			covered[h.TierID] += h.Quantity
		}
		for _, li := range order.LineItems {
			if short := li.Quantity - covered[li.TierID]; short > 0 {
				if err := s.ledger.SellDirect(txCtx, li.TierID, short); err != nil {
					return err
				}
			}
		}

		if order.PromoCodeID != "" {
			ok, err := s.repo.IncrementPromoUsage(txCtx, order.PromoCodeID)
			if err != nil {
				return err
			}
			if !ok {
				s.logger.WithFields(logrus.Fields{
					"order_id": orderID,
					"promo_id": order.PromoCodeID,
				}).Warn("promo usage limit reached at payment time")
			}
		}

		ok, err := s.repo.TransitionOrder(txCtx, orderID, []domain.OrderStatus{domain.OrderPending}, domain.OrderPaid, now, "")
		if err != nil {
			return err
		}
		if !ok {
			return &domain.StateConflictError{OrderID: orderID, Current: order.Status, Target: domain.OrderPaid}
		}
		order.Status = domain.OrderPaid
		order.PaidAt = &now
		order.UpdatedAt = now
		out = order
		return nil
	})
	return out, err
}

// MarkFailed moves a pending order to failed and returns its holds.
func (s *OrderService) MarkFailed(ctx context.Context, orderID, reason string) (domain.Order, error) {
	return s.close(ctx, orderID, "", domain.OrderFailed, reason)
}

// CancelOrder lets the owning user abandon a pending order.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID string) (domain.Order, error) {
	if userID == "" {
		return domain.Order{}, domain.ErrInvalidRequest
	}
	return s.close(ctx, orderID, userID, domain.OrderCancelled, "")
}

func (s *OrderService) close(ctx context.Context, orderID, userID string, to domain.OrderStatus, reason string) (domain.Order, error) {
	var out domain.Order
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		now := s.clock.Now()
		order, err := s.repo.GetOrderForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}
		if userID != "" && order.UserID != userID {
			return domain.ErrOrderNotOwned
		}
		if !domain.CanTransition(order.Status, to) {
			return &domain.StateConflictError{OrderID: orderID, Current: order.Status, Target: to}
		}
		ok, err := s.repo.TransitionOrder(txCtx, orderID, []domain.OrderStatus{domain.OrderPending}, to, now, reason)
		if err != nil {
			return err
		}
		if !ok {
			return &domain.StateConflictError{OrderID: orderID, Current: order.Status, Target: to}
		}
		released, err := s.repo.CloseOrderHolds(txCtx, orderID, domain.ReleaseExplicit, now)
		if err != nil {
			return err
		}
		for _, h := range released {
			if err := s.ledger.Release(txCtx, h.TierID, h.Quantity); err != nil {
				return err
			}
		}
		order.Status = to
		order.FailureReason = reason
		order.UpdatedAt = now
		out = order
		return nil
	})
	return out, err
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
