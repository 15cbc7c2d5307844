package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type RefundRepository struct {
	querier
}

func NewRefundRepository(pool *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{querier{pool: pool}}
}

func (r *RefundRepository) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return r.getOrder(ctx, `id = $1`, orderID, false)
}

func (r *RefundRepository) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return r.getOrder(ctx, `id = $1`, orderID, true)
}

func (r *RefundRepository) FindOrderByProviderRef(ctx context.Context, providerRef string) (domain.Order, error) {
	return r.getOrder(ctx, `provider_ref = $1`, providerRef, false)
}

func (r *RefundRepository) ListTicketsByOrder(ctx context.Context, orderID string) ([]domain.Ticket, error) {
	return r.listTicketsByOrder(ctx, orderID)
}

func (r *RefundRepository) SumRefunded(ctx context.Context, orderID string) (int64, error) {
	const query = `
SELECT COALESCE(SUM(amount), 0)::bigint
FROM refunds
WHERE order_id = $1`

	var total int64
	if err := r.queryRow(ctx, query, orderID).Scan(&total); err != nil {
		if isInvalidUUID(err) {
			return 0, domain.ErrInvalidID
		}
		return 0, fmt.Errorf("sum refunds: %w", err)
	}
	return total, nil
}

func (r *RefundRepository) RefundTickets(ctx context.Context, orderID string, ticketIDs []string) (int, error) {
	const query = `
UPDATE tickets
SET status = 'refunded'
WHERE order_id = $1 AND id = ANY($2) AND status = 'active'`

	if len(ticketIDs) == 0 {
		return 0, nil
	}
	if err := checkIDs(ticketIDs); err != nil {
		return 0, err
	}
	tag, err := r.exec(ctx, query, orderID, ticketIDs)
	if err != nil {
		if isInvalidUUID(err) {
			return 0, domain.ErrInvalidID
		}
		return 0, fmt.Errorf("refund tickets: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *RefundRepository) CancelPendingTransfers(ctx context.Context, ticketIDs []string, now time.Time) (int, error) {
	const query = `
UPDATE ticket_transfers
SET status = 'cancelled', responded_at = $2
WHERE ticket_id = ANY($1) AND status = 'pending'`

	if len(ticketIDs) == 0 {
		return 0, nil
	}
	if err := checkIDs(ticketIDs); err != nil {
		return 0, err
	}
	tag, err := r.exec(ctx, query, ticketIDs, now)
	if err != nil {
		return 0, fmt.Errorf("cancel transfers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *RefundRepository) TransitionOrder(ctx context.Context, orderID string, from []domain.OrderStatus, to domain.OrderStatus, now time.Time, failureReason string) (bool, error) {
	return r.transitionOrder(ctx, orderID, from, to, now, failureReason)
}

// InsertRefund stores a refund keyed by its provider refund id. An api refund
// takes over a row the provider webhook recorded first; any other repeat is
// skipped and reported as false.
func (r *RefundRepository) InsertRefund(ctx context.Context, refund domain.Refund) (bool, error) {
	const query = `
INSERT INTO refunds (id, order_id, provider_refund_id, amount, reason, ticket_ids, status, source, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (provider_refund_id) DO UPDATE
SET id = EXCLUDED.id, reason = EXCLUDED.reason, ticket_ids = EXCLUDED.ticket_ids, source = EXCLUDED.source
WHERE refunds.source = 'provider' AND EXCLUDED.source = 'api'`

	ticketIDs := refund.TicketIDs
	if ticketIDs == nil {
		ticketIDs = []string{}
	}
	if err := checkIDs(ticketIDs); err != nil {
		return false, err
	}
	tag, err := r.exec(ctx, query,
		refund.ID, refund.OrderID, refund.ProviderRefundID, refund.Amount, refund.Reason,
		ticketIDs, string(refund.Status), string(refund.Source), refund.CreatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return false, domain.ErrOrderNotFound
		}
		return false, fmt.Errorf("insert refund: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
