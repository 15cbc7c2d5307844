package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tixora/tixora/services/api/internal/clock"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type HoldRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateHold(ctx context.Context, hold domain.CartHold) error
	GetHoldForUpdate(ctx context.Context, holdID string) (domain.CartHold, error)
	// ReleaseHold marks an unreleased hold released and reports whether
	// this call was the one that released it.
	ReleaseHold(ctx context.Context, holdID string, reason domain.ReleaseReason, now time.Time) (bool, error)
	// ReleaseExpiredHolds releases unreleased holds with expires_at <= now,
	// restricted to tierID when it is not empty, and returns them.
	ReleaseExpiredHolds(ctx context.Context, tierID string, now time.Time) ([]domain.CartHold, error)
}

type HoldService struct {
	repo    HoldRepository
	ledger  InventoryLedger
	clock   clock.Clock
	holdTTL time.Duration
	logger  logrus.FieldLogger
}

const defaultHoldTTL = 10 * time.Minute

func NewHoldService(repo HoldRepository, ledger InventoryLedger, clk clock.Clock, opts ...HoldServiceOption) *HoldService {
	svc := &HoldService{
		repo:    repo,
		ledger:  ledger,
		clock:   clk,
		holdTTL: defaultHoldTTL,
		logger:  discardLogger(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type HoldServiceOption func(*HoldService)

// WithHoldTTL overrides the default TTL for new holds.
func WithHoldTTL(d time.Duration) HoldServiceOption {
	return func(s *HoldService) {
		if d > 0 {
			s.holdTTL = d
		}
	}
}

func WithHoldLogger(l logrus.FieldLogger) HoldServiceOption {
	return func(s *HoldService) {
		if l != nil {
			s.logger = l
		}
	}
}

type CreateHoldInput struct {
	UserID   string
	TierID   string
	Quantity int
	// TTL overrides the configured hold lifetime when positive.
	TTL time.Duration
}

// CreateHold reserves inventory for a user. Expired holds on the tier are
// swept first so their units count as available.
func (s *HoldService) CreateHold(ctx context.Context, in CreateHoldInput) (domain.CartHold, error) {
	if in.Quantity <= 0 {
		return domain.CartHold{}, domain.ErrInvalidQuantity
	}
	if in.UserID == "" || in.TierID == "" {
		return domain.CartHold{}, domain.ErrInvalidRequest
	}
	ttl := s.holdTTL
	if in.TTL > 0 {
		ttl = in.TTL
	}

	now := s.clock.Now()
	hold := domain.CartHold{
		ID:        newID(),
		UserID:    in.UserID,
		TierID:    in.TierID,
		Quantity:  in.Quantity,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.sweep(txCtx, in.TierID, now); err != nil {
			return err
		}
		if err := s.ledger.TryReserve(txCtx, in.TierID, in.Quantity); err != nil {
			return err
		}
		return s.repo.CreateHold(txCtx, hold)
	})
	if err != nil {
		return domain.CartHold{}, err
	}
	return hold, nil
}

// ReleaseHold gives a hold's units back. Releasing an already released
// hold is a no-op. An empty userID skips the ownership check.
func (s *HoldService) ReleaseHold(ctx context.Context, holdID, userID string) error {
	now := s.clock.Now()
	return s.repo.WithTx(ctx, func(txCtx context.Context) error {
		hold, err := s.repo.GetHoldForUpdate(txCtx, holdID)
		if err != nil {
			return err
		}
		if userID != "" && hold.UserID != userID {
			return domain.ErrHoldNotOwned
		}
		if hold.Released {
			return nil
		}
		if hold.OrderID != "" {
			return domain.ErrHoldUnavailable
		}
		released, err := s.repo.ReleaseHold(txCtx, holdID, domain.ReleaseExplicit, now)
		if err != nil {
			return err
		}
		if !released {
			return nil
		}
		return s.ledger.Release(txCtx, hold.TierID, hold.Quantity)
	})
}

// Availability sweeps the tier's expired holds and returns its counters.
func (s *HoldService) Availability(ctx context.Context, tierID string) (domain.TicketTier, error) {
	now := s.clock.Now()
	var tier domain.TicketTier
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.sweep(txCtx, tierID, now); err != nil {
			return err
		}
		t, err := s.ledger.GetTier(txCtx, tierID)
		if err != nil {
			return err
		}
		tier = t
		return nil
	})
	return tier, err
}

// SweepTiers releases the lapsed holds of tierIDs in one transaction.
func (s *HoldService) SweepTiers(ctx context.Context, tierIDs []string) (int, error) {
	now := s.clock.Now()
	var n int
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		for _, id := range tierIDs {
			swept, err := s.sweep(txCtx, id, now)
			if err != nil {
				return err
			}
			n += swept
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SweepExpired releases every lapsed hold. It backs the periodic sweeper.
func (s *HoldService) SweepExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	var n int
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		swept, err := s.sweep(txCtx, "", now)
		n = swept
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.WithField("holds", n).Info("released expired holds")
	}
	return n, nil
}

func (s *HoldService) sweep(ctx context.Context, tierID string, now time.Time) (int, error) {
	expired, err := s.repo.ReleaseExpiredHolds(ctx, tierID, now)
	if err != nil {
		return 0, err
	}
	byTier := make(map[string]int)
	order := make([]string, 0)
	for _, h := range expired {
		if _, seen := byTier[h.TierID]; !seen {
			order = append(order, h.TierID)
		}
		byTier[h.TierID] += h.Quantity
	}
	for _, id := range order {
		if err := s.ledger.Release(ctx, id, byTier[id]); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}
