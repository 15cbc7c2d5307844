package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type OrderRepository struct {
	querier
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{querier{pool: pool}}
}

func (r *OrderRepository) GetHolds(ctx context.Context, holdIDs []string) ([]domain.CartHold, error) {
	if err := checkIDs(holdIDs); err != nil {
		return nil, err
	}
	rows, err := r.query(ctx, `SELECT `+holdColumns+` FROM cart_holds WHERE id = ANY($1)`, holdIDs)
	if err != nil {
		return nil, fmt.Errorf("get holds: %w", err)
	}
	holds, err := collectHolds(rows)
	if err != nil {
		return nil, fmt.Errorf("get holds: %w", err)
	}
	return holds, nil
}

func (r *OrderRepository) GetTiers(ctx context.Context, tierIDs []string) (map[string]domain.TicketTier, error) {
	if err := checkIDs(tierIDs); err != nil {
		return nil, err
	}
	rows, err := r.query(ctx, `SELECT `+tierColumns+` FROM ticket_tiers WHERE id = ANY($1)`, tierIDs)
	if err != nil {
		return nil, fmt.Errorf("get tiers: %w", err)
	}
	defer rows.Close()

	tiers := make(map[string]domain.TicketTier, len(tierIDs))
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		tiers[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get tiers: %w", err)
	}
	return tiers, nil
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order domain.Order) error {
	const insertOrder = `
INSERT INTO orders (
	id, user_id, event_id, promo_code_id, subtotal, discount, total, currency,
	status, provider_ref, failure_reason, metadata, created_at, updated_at
)
VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	const insertItem = `
INSERT INTO order_line_items (order_id, tier_id, quantity, unit_price)
VALUES ($1, $2, $3, $4)`

	metadata := order.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return r.WithTx(ctx, func(ctx context.Context) error {
		_, err := r.exec(ctx, insertOrder,
			order.ID, order.UserID, order.EventID, order.PromoCodeID,
			order.Subtotal, order.Discount, order.Total, order.Currency,
			string(order.Status), order.ProviderRef, order.FailureReason, metadata,
			order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			switch {
			case isInvalidUUID(err):
				return domain.ErrInvalidID
			case isForeignKeyViolation(err):
				return domain.ErrEventNotFound
			case isUniqueViolation(err):
				return fmt.Errorf("%w: provider reference already used", domain.ErrOrderStateConflict)
			}
			return fmt.Errorf("create order: %w", err)
		}
		for _, li := range order.LineItems {
			if _, err := r.exec(ctx, insertItem, order.ID, li.TierID, li.Quantity, li.UnitPrice); err != nil {
				if isForeignKeyViolation(err) {
					return domain.ErrTierNotFound
				}
				return fmt.Errorf("create order line item: %w", err)
			}
		}
		return nil
	})
}

func (r *OrderRepository) AttachHolds(ctx context.Context, orderID, userID string, holdIDs []string, now time.Time) (int, error) {
	const query = `
UPDATE cart_holds
SET order_id = $1
WHERE id = ANY($3)
	AND user_id = $2
	AND released = FALSE
	AND order_id IS NULL
	AND expires_at > $4`

	if err := checkIDs(holdIDs); err != nil {
		return 0, err
	}
	tag, err := r.exec(ctx, query, orderID, userID, holdIDs, now)
	if err != nil {
		return 0, fmt.Errorf("attach holds: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return r.getOrder(ctx, `id = $1`, orderID, false)
}

func (r *OrderRepository) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return r.getOrder(ctx, `id = $1`, orderID, true)
}

func (r *OrderRepository) FindOrderByProviderRef(ctx context.Context, providerRef string) (domain.Order, error) {
	return r.getOrder(ctx, `provider_ref = $1`, providerRef, false)
}

func (r *OrderRepository) TransitionOrder(ctx context.Context, orderID string, from []domain.OrderStatus, to domain.OrderStatus, now time.Time, failureReason string) (bool, error) {
	return r.transitionOrder(ctx, orderID, from, to, now, failureReason)
}

func (r *OrderRepository) CloseOrderHolds(ctx context.Context, orderID string, reason domain.ReleaseReason, now time.Time) ([]domain.CartHold, error) {
	const query = `
UPDATE cart_holds
SET released = TRUE, released_at = $3, release_reason = $2
WHERE order_id = $1 AND released = FALSE
RETURNING ` + holdColumns

	rows, err := r.query(ctx, query, orderID, string(reason), now)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("close order holds: %w", err)
	}
	holds, err := collectHolds(rows)
	if err != nil {
		return nil, fmt.Errorf("close order holds: %w", err)
	}
	return holds, nil
}

func (r *OrderRepository) IncrementPromoUsage(ctx context.Context, promoID string) (bool, error) {
	const query = `
UPDATE promo_codes
SET used_count = used_count + 1
WHERE id = $1 AND (max_uses IS NULL OR used_count < max_uses)`

	tag, err := r.exec(ctx, query, promoID)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("increment promo usage: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
