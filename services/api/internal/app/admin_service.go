package app

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tixora/tixora/services/api/internal/clock"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type AdminRepository interface {
	CreateEvent(ctx context.Context, event domain.Event) error
	ListEvents(ctx context.Context) ([]domain.Event, error)
	CreateTier(ctx context.Context, tier domain.TicketTier) error
	ListTiersByEvent(ctx context.Context, eventID string) ([]domain.TicketTier, error)
	CreatePromoCode(ctx context.Context, p domain.PromoCode) error
}

// TierSweeper releases lapsed holds on the given tiers and reports how
// many it released.
type TierSweeper interface {
	SweepTiers(ctx context.Context, tierIDs []string) (int, error)
}

type AdminService struct {
	repo    AdminRepository
	sweeper TierSweeper
	clock   clock.Clock
}

type AdminServiceOption func(*AdminService)

// WithTierSweeper makes tier listings release lapsed holds before the
// counters are reported.
func WithTierSweeper(sw TierSweeper) AdminServiceOption {
	return func(s *AdminService) {
		s.sweeper = sw
	}
}

func NewAdminService(repo AdminRepository, clk clock.Clock, opts ...AdminServiceOption) *AdminService {
	svc := &AdminService{
		repo:  repo,
		clock: clk,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type CreateEventInput struct {
	Name     string
	StartsAt *time.Time
}

func (s *AdminService) CreateEvent(ctx context.Context, in CreateEventInput) (domain.Event, error) {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Event{}, domain.ErrEventNameRequired
	}
	startsAt := s.clock.Now()
	if in.StartsAt != nil {
		startsAt = in.StartsAt.UTC()
	}

	event := domain.Event{
		ID:       newID(),
		Name:     in.Name,
		StartsAt: startsAt,
	}

	if err := s.repo.CreateEvent(ctx, event); err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

func (s *AdminService) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return s.repo.ListEvents(ctx)
}

type CreateTierInput struct {
	EventID       string
	Name          string
	Price         int64
	Currency      string
	TotalQuantity int
	AccessLevel   domain.AccessLevel
}

func (s *AdminService) CreateTier(ctx context.Context, in CreateTierInput) (domain.TicketTier, error) {
	if in.EventID == "" {
		return domain.TicketTier{}, domain.ErrInvalidID
	}
	if strings.TrimSpace(in.Name) == "" {
		return domain.TicketTier{}, domain.ErrTierNameRequired
	}
	if in.TotalQuantity <= 0 {
		return domain.TicketTier{}, domain.ErrInvalidCapacity
	}
	if in.Price < 0 {
		return domain.TicketTier{}, domain.ErrInvalidPrice
	}
	if len(in.Currency) != 3 {
		return domain.TicketTier{}, domain.ErrInvalidRequest
	}
	access := in.AccessLevel
	if access == "" {
		access = domain.AccessGeneral
	}
	if !access.Valid() {
		return domain.TicketTier{}, domain.ErrInvalidRequest
	}

	tier := domain.TicketTier{
		ID:            newID(),
		EventID:       in.EventID,
		Name:          in.Name,
		Price:         in.Price,
		Currency:      strings.ToUpper(in.Currency),
		TotalQuantity: in.TotalQuantity,
		AccessLevel:   access,
	}

	if err := s.repo.CreateTier(ctx, tier); err != nil {
		return domain.TicketTier{}, err
	}
	return tier, nil
}

func (s *AdminService) ListTiers(ctx context.Context, eventID string) ([]domain.TicketTier, error) {
	if eventID == "" {
		return nil, domain.ErrInvalidID
	}
	tiers, err := s.repo.ListTiersByEvent(ctx, eventID)
	if err != nil || s.sweeper == nil || len(tiers) == 0 {
		return tiers, err
	}
	ids := make([]string, len(tiers))
	for i, t := range tiers {
		ids[i] = t.ID
	}
	swept, err := s.sweeper.SweepTiers(ctx, ids)
	if err != nil {
		return nil, err
	}
	if swept == 0 {
		return tiers, nil
	}
	return s.repo.ListTiersByEvent(ctx, eventID)
}

type CreatePromoInput struct {
	Code          string
	EventID       string
	DiscountType  domain.DiscountType
	DiscountValue decimal.Decimal
	MaxUses       *int
	ExpiresAt     *time.Time
}

// CreatePromoCode registers a discount code. An empty EventID makes the
// code valid for every event.
func (s *AdminService) CreatePromoCode(ctx context.Context, in CreatePromoInput) (domain.PromoCode, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return domain.PromoCode{}, domain.ErrInvalidRequest
	}
	switch in.DiscountType {
	case domain.DiscountPercentage:
		if in.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
			return domain.PromoCode{}, domain.ErrInvalidRequest
		}
	case domain.DiscountFixed:
	default:
		return domain.PromoCode{}, domain.ErrInvalidRequest
	}
	if !in.DiscountValue.IsPositive() {
		return domain.PromoCode{}, domain.ErrInvalidRequest
	}
	if in.MaxUses != nil && *in.MaxUses <= 0 {
		return domain.PromoCode{}, domain.ErrInvalidRequest
	}

	promo := domain.PromoCode{
		ID:            newID(),
		Code:          code,
		EventID:       in.EventID,
		DiscountType:  in.DiscountType,
		DiscountValue: in.DiscountValue,
		MaxUses:       in.MaxUses,
		ExpiresAt:     in.ExpiresAt,
		IsActive:      true,
	}
	if err := s.repo.CreatePromoCode(ctx, promo); err != nil {
		return domain.PromoCode{}, err
	}
	return promo, nil
}
