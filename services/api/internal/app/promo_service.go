package app

import (
	"context"
	"strings"

	"github.com/tixora/tixora/services/api/internal/clock"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type PromoRepository interface {
	// FindPromoByCode matches case-insensitively and returns nil when absent.
	FindPromoByCode(ctx context.Context, code string) (*domain.PromoCode, error)
	// HasActiveRedemption reports whether the user has an order for the
	// event referencing the promo that is neither failed nor cancelled.
	HasActiveRedemption(ctx context.Context, promoID, eventID, userID string) (bool, error)
}

type PromoService struct {
	repo  PromoRepository
	clock clock.Clock
}

func NewPromoService(repo PromoRepository, clk clock.Clock) *PromoService {
	return &PromoService{repo: repo, clock: clk}
}

type ValidatePromoInput struct {
	Code    string
	EventID string
	UserID  string
}

// Validate applies the promo rules in order and returns the first failure
// as a *domain.PromoError. It never writes.
func (s *PromoService) Validate(ctx context.Context, in ValidatePromoInput) (domain.PromoCode, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return domain.PromoCode{}, &domain.PromoError{Reason: domain.PromoNotFound}
	}
	promo, err := s.repo.FindPromoByCode(ctx, code)
	if err != nil {
		return domain.PromoCode{}, err
	}
	if promo == nil || !promo.IsActive {
		return domain.PromoCode{}, &domain.PromoError{Reason: domain.PromoNotFound}
	}
	if promo.ExpiresAt != nil && !promo.ExpiresAt.After(s.clock.Now()) {
		return domain.PromoCode{}, &domain.PromoError{Reason: domain.PromoExpired}
	}
	// A promo without an event applies to every event.
	if promo.EventID != "" && promo.EventID != in.EventID {
		return domain.PromoCode{}, &domain.PromoError{Reason: domain.PromoWrongEvent}
	}
	if promo.MaxUses != nil && promo.UsedCount >= *promo.MaxUses {
		return domain.PromoCode{}, &domain.PromoError{Reason: domain.PromoUsageLimit}
	}
	if in.UserID != "" {
		redeemed, err := s.repo.HasActiveRedemption(ctx, promo.ID, in.EventID, in.UserID)
		if err != nil {
			return domain.PromoCode{}, err
		}
		if redeemed {
			return domain.PromoCode{}, &domain.PromoError{Reason: domain.PromoAlreadyRedeemed}
		}
	}
	return *promo, nil
}
