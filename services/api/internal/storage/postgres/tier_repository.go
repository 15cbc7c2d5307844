package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tixora/tixora/services/api/internal/domain"
)

// TierRepository is the inventory ledger. Every counter change is a single
// conditional UPDATE, so concurrent reservations never oversell a tier.
type TierRepository struct {
	querier
}

func NewTierRepository(pool *pgxpool.Pool) *TierRepository {
	return &TierRepository{querier{pool: pool}}
}

func (r *TierRepository) TryReserve(ctx context.Context, tierID string, qty int) error {
	const query = `
UPDATE ticket_tiers
SET held_quantity = held_quantity + $2
WHERE id = $1 AND total_quantity - sold_quantity - held_quantity >= $2`

	return r.adjust(ctx, "reserve", query, tierID, qty)
}

func (r *TierRepository) Release(ctx context.Context, tierID string, qty int) error {
	const query = `
UPDATE ticket_tiers
SET held_quantity = held_quantity - $2
WHERE id = $1 AND held_quantity >= $2`

	return r.adjust(ctx, "release", query, tierID, qty)
}

func (r *TierRepository) CommitSale(ctx context.Context, tierID string, qty int) error {
	const query = `
UPDATE ticket_tiers
SET held_quantity = held_quantity - $2,
	sold_quantity = sold_quantity + $2
WHERE id = $1 AND held_quantity >= $2`

	return r.adjust(ctx, "commit sale", query, tierID, qty)
}

func (r *TierRepository) SellDirect(ctx context.Context, tierID string, qty int) error {
	const query = `
UPDATE ticket_tiers
SET sold_quantity = sold_quantity + $2
WHERE id = $1 AND total_quantity - sold_quantity - held_quantity >= $2`

	return r.adjust(ctx, "sell", query, tierID, qty)
}

func (r *TierRepository) GetTier(ctx context.Context, tierID string) (domain.TicketTier, error) {
	t, err := scanTier(r.queryRow(ctx, `SELECT `+tierColumns+` FROM ticket_tiers WHERE id = $1`, tierID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.TicketTier{}, domain.ErrInvalidID
		}
		if isNoRows(err) {
			return domain.TicketTier{}, domain.ErrTierNotFound
		}
		return domain.TicketTier{}, fmt.Errorf("get tier: %w", err)
	}
	return t, nil
}

// adjust runs a guarded counter update. When the guard rejects the row it
// tells a missing tier apart from a counter that would go out of range.
func (r *TierRepository) adjust(ctx context.Context, op, query, tierID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	tag, err := r.exec(ctx, query, tierID, qty)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isCheckViolation(err) {
			return domain.ErrInsufficientInventory
		}
		return fmt.Errorf("%s tier: %w", op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetTier(ctx, tierID); err != nil {
		return err
	}
	return domain.ErrInsufficientInventory
}
