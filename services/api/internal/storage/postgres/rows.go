package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type scanner interface {
	Scan(dest ...any) error
}

// checkIDs rejects malformed UUIDs before they reach an array parameter,
// where pgx would fail client-side instead of returning 22P02.
func checkIDs(ids []string) error {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return domain.ErrInvalidID
		}
	}
	return nil
}

const tierColumns = `id, event_id, name, price, currency, total_quantity, sold_quantity, held_quantity, access_level`

func scanTier(row scanner) (domain.TicketTier, error) {
	var t domain.TicketTier
	err := row.Scan(&t.ID, &t.EventID, &t.Name, &t.Price, &t.Currency, &t.TotalQuantity, &t.SoldQuantity, &t.HeldQuantity, &t.AccessLevel)
	return t, err
}

const holdColumns = `id, user_id, tier_id, quantity, expires_at, released, released_at, COALESCE(release_reason, ''), COALESCE(order_id::text, ''), created_at`

func scanHold(row scanner) (domain.CartHold, error) {
	var h domain.CartHold
	err := row.Scan(&h.ID, &h.UserID, &h.TierID, &h.Quantity, &h.ExpiresAt, &h.Released, &h.ReleasedAt, &h.ReleaseReason, &h.OrderID, &h.CreatedAt)
	return h, err
}

func collectHolds(rows pgx.Rows) ([]domain.CartHold, error) {
	defer rows.Close()
	var out []domain.CartHold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

const orderColumns = `id, user_id, event_id, COALESCE(promo_code_id::text, ''), subtotal, discount, total, currency, status, provider_ref, failure_reason, metadata, created_at, updated_at, paid_at`

func scanOrder(row scanner) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.UserID, &o.EventID, &o.PromoCodeID, &o.Subtotal, &o.Discount, &o.Total, &o.Currency, &o.Status, &o.ProviderRef, &o.FailureReason, &o.Metadata, &o.CreatedAt, &o.UpdatedAt, &o.PaidAt)
	return o, err
}

const ticketColumns = `id, order_id, tier_id, event_id, user_id, sequence, unit_price, qr_token, status, used_at, created_at`

func scanTicket(row scanner) (domain.Ticket, error) {
	var t domain.Ticket
	err := row.Scan(&t.ID, &t.OrderID, &t.TierID, &t.EventID, &t.UserID, &t.Sequence, &t.UnitPrice, &t.QRToken, &t.Status, &t.UsedAt, &t.CreatedAt)
	return t, err
}

// getOrder loads one order with its line items. where is a predicate on
// orders with a single $1 placeholder.
func (q querier) getOrder(ctx context.Context, where string, arg any, forUpdate bool) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where
	if forUpdate {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(q.queryRow(ctx, query, arg))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Order{}, domain.ErrInvalidID
		}
		if isNoRows(err) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}

	rows, err := q.query(ctx, `
SELECT tier_id, quantity, unit_price
FROM order_line_items
WHERE order_id = $1
ORDER BY tier_id`, o.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order line items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var li domain.LineItem
		if err := rows.Scan(&li.TierID, &li.Quantity, &li.UnitPrice); err != nil {
			return domain.Order{}, fmt.Errorf("scan line item: %w", err)
		}
		o.LineItems = append(o.LineItems, li)
	}
	if err := rows.Err(); err != nil {
		return domain.Order{}, fmt.Errorf("get order line items: %w", err)
	}
	return o, nil
}

func (q querier) transitionOrder(ctx context.Context, orderID string, from []domain.OrderStatus, to domain.OrderStatus, now time.Time, failureReason string) (bool, error) {
	const stmt = `
UPDATE orders
SET status = $3,
	updated_at = $4,
	paid_at = CASE WHEN $3 = 'paid' THEN $4 ELSE paid_at END,
	failure_reason = CASE WHEN $5 <> '' THEN $5 ELSE failure_reason END
WHERE id = $1 AND status = ANY($2)`

	statuses := make([]string, 0, len(from))
	for _, s := range from {
		statuses = append(statuses, string(s))
	}
	tag, err := q.exec(ctx, stmt, orderID, statuses, string(to), now, failureReason)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("transition order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q querier) listTicketsByOrder(ctx context.Context, orderID string) ([]domain.Ticket, error) {
	rows, err := q.query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE order_id = $1 ORDER BY tier_id, sequence`, orderID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()
	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return out, nil
}

func (q querier) getTicketForUpdate(ctx context.Context, ticketID string) (domain.Ticket, error) {
	t, err := scanTicket(q.queryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1 FOR UPDATE`, ticketID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Ticket{}, domain.ErrInvalidID
		}
		if isNoRows(err) {
			return domain.Ticket{}, domain.ErrTicketNotFound
		}
		return domain.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}
