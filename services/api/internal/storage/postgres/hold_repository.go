package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type HoldRepository struct {
	querier
}

func NewHoldRepository(pool *pgxpool.Pool) *HoldRepository {
	return &HoldRepository{querier{pool: pool}}
}

func (r *HoldRepository) CreateHold(ctx context.Context, hold domain.CartHold) error {
	const query = `
INSERT INTO cart_holds (id, user_id, tier_id, quantity, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.exec(ctx, query, hold.ID, hold.UserID, hold.TierID, hold.Quantity, hold.ExpiresAt, hold.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.ErrTierNotFound
		}
		return fmt.Errorf("create hold: %w", err)
	}
	return nil
}

func (r *HoldRepository) GetHoldForUpdate(ctx context.Context, holdID string) (domain.CartHold, error) {
	h, err := scanHold(r.queryRow(ctx, `SELECT `+holdColumns+` FROM cart_holds WHERE id = $1 FOR UPDATE`, holdID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.CartHold{}, domain.ErrInvalidID
		}
		if isNoRows(err) {
			return domain.CartHold{}, domain.ErrHoldNotFound
		}
		return domain.CartHold{}, fmt.Errorf("get hold: %w", err)
	}
	return h, nil
}

func (r *HoldRepository) ReleaseHold(ctx context.Context, holdID string, reason domain.ReleaseReason, now time.Time) (bool, error) {
	const query = `
UPDATE cart_holds
SET released = TRUE, released_at = $3, release_reason = $2
WHERE id = $1 AND released = FALSE`

	tag, err := r.exec(ctx, query, holdID, string(reason), now)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("release hold: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *HoldRepository) ReleaseExpiredHolds(ctx context.Context, tierID string, now time.Time) ([]domain.CartHold, error) {
	const query = `
UPDATE cart_holds
SET released = TRUE, released_at = $1, release_reason = 'expired'
WHERE released = FALSE
	AND expires_at <= $1
	AND ($2 = '' OR tier_id::text = $2)
RETURNING ` + holdColumns

	rows, err := r.query(ctx, query, now, tierID)
	if err != nil {
		return nil, fmt.Errorf("release expired holds: %w", err)
	}
	holds, err := collectHolds(rows)
	if err != nil {
		return nil, fmt.Errorf("release expired holds: %w", err)
	}
	return holds, nil
}
