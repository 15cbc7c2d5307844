package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type PromoRepository struct {
	querier
}

func NewPromoRepository(pool *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{querier{pool: pool}}
}

func (r *PromoRepository) FindPromoByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	const query = `
SELECT id, code, COALESCE(event_id::text, ''), discount_type, discount_value::text,
	max_uses, used_count, expires_at, is_active
FROM promo_codes
WHERE UPPER(code) = UPPER($1)`

	var (
		p     domain.PromoCode
		value string
	)
	err := r.queryRow(ctx, query, code).Scan(
		&p.ID, &p.Code, &p.EventID, &p.DiscountType, &value,
		&p.MaxUses, &p.UsedCount, &p.ExpiresAt, &p.IsActive,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find promo code: %w", err)
	}
	p.DiscountValue, err = decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("parse promo discount %q: %w", value, err)
	}
	return &p, nil
}

func (r *PromoRepository) HasActiveRedemption(ctx context.Context, promoID, eventID, userID string) (bool, error) {
	const query = `
SELECT EXISTS (
	SELECT 1
	FROM orders
	WHERE promo_code_id = $1
		AND event_id = $2
		AND user_id = $3
		AND status NOT IN ('failed', 'cancelled')
)`

	var exists bool
	if err := r.queryRow(ctx, query, promoID, eventID, userID).Scan(&exists); err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("check promo redemption: %w", err)
	}
	return exists, nil
}

