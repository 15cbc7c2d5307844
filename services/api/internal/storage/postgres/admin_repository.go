package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type AdminRepository struct {
	querier
}

func NewAdminRepository(pool *pgxpool.Pool) *AdminRepository {
	return &AdminRepository{querier{pool: pool}}
}

func (r *AdminRepository) CreateEvent(ctx context.Context, event domain.Event) error {
	const query = `
INSERT INTO events (id, name, starts_at)
VALUES ($1, $2, $3)`

	if _, err := r.exec(ctx, query, event.ID, event.Name, event.StartsAt); err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func (r *AdminRepository) ListEvents(ctx context.Context) ([]domain.Event, error) {
	const query = `
SELECT id, name, starts_at
FROM events
ORDER BY starts_at, name`

	rows, err := r.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.Name, &e.StartsAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (r *AdminRepository) CreateTier(ctx context.Context, tier domain.TicketTier) error {
	const query = `
INSERT INTO ticket_tiers (id, event_id, name, price, currency, total_quantity, access_level)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.exec(ctx, query, tier.ID, tier.EventID, tier.Name, tier.Price, tier.Currency, tier.TotalQuantity, string(tier.AccessLevel))
	if err != nil {
		switch {
		case isInvalidUUID(err):
			return domain.ErrInvalidID
		case isForeignKeyViolation(err):
			return domain.ErrEventNotFound
		case isUniqueViolation(err):
			return fmt.Errorf("%w: tier name already used for event", domain.ErrInvalidRequest)
		case isCheckViolation(err):
			return domain.ErrInvalidCapacity
		}
		return fmt.Errorf("create tier: %w", err)
	}
	return nil
}

func (r *AdminRepository) ListTiersByEvent(ctx context.Context, eventID string) ([]domain.TicketTier, error) {
	rows, err := r.query(ctx, `SELECT `+tierColumns+` FROM ticket_tiers WHERE event_id = $1 ORDER BY price, name`, eventID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	defer rows.Close()

	var tiers []domain.TicketTier
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		tiers = append(tiers, t)
	}
	if err := rows.Err(); err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	return tiers, nil
}

// CreatePromoCode stores an organizer-defined code.
func (r *AdminRepository) CreatePromoCode(ctx context.Context, p domain.PromoCode) error {
	const query = `
INSERT INTO promo_codes (id, code, event_id, discount_type, discount_value, max_uses, used_count, expires_at, is_active)
VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5::numeric, $6, $7, $8, $9)`

	_, err := r.exec(ctx, query,
		p.ID, p.Code, p.EventID, string(p.DiscountType), p.DiscountValue.String(),
		p.MaxUses, p.UsedCount, p.ExpiresAt, p.IsActive,
	)
	if err != nil {
		switch {
		case isInvalidUUID(err):
			return domain.ErrInvalidID
		case isForeignKeyViolation(err):
			return domain.ErrEventNotFound
		case isUniqueViolation(err):
			return fmt.Errorf("%w: promo code already exists", domain.ErrInvalidRequest)
		case isCheckViolation(err):
			return fmt.Errorf("%w: promo code values out of range", domain.ErrInvalidRequest)
		}
		return fmt.Errorf("create promo code: %w", err)
	}
	return nil
}
