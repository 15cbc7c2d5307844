package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type TicketRepository struct {
	querier
}

func NewTicketRepository(pool *pgxpool.Pool) *TicketRepository {
	return &TicketRepository{querier{pool: pool}}
}

func (r *TicketRepository) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return r.getOrder(ctx, `id = $1`, orderID, false)
}

func (r *TicketRepository) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return r.getOrder(ctx, `id = $1`, orderID, true)
}

func (r *TicketRepository) ListTicketsByOrder(ctx context.Context, orderID string) ([]domain.Ticket, error) {
	return r.listTicketsByOrder(ctx, orderID)
}

// InsertTickets writes the batch in one round trip. Rows that collide on
// (order_id, tier_id, sequence) are skipped so re-issuing is a no-op.
func (r *TicketRepository) InsertTickets(ctx context.Context, tickets []domain.Ticket) error {
	const query = `
INSERT INTO tickets (id, order_id, tier_id, event_id, user_id, sequence, unit_price, qr_token, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (order_id, tier_id, sequence) DO NOTHING`

	if len(tickets) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range tickets {
		batch.Queue(query, t.ID, t.OrderID, t.TierID, t.EventID, t.UserID, t.Sequence, t.UnitPrice, t.QRToken, string(t.Status), t.CreatedAt)
	}
	return r.WithTx(ctx, func(ctx context.Context) error {
		results := txFromContext(ctx).SendBatch(ctx, batch)
		for range tickets {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				if isForeignKeyViolation(err) {
					return domain.ErrOrderNotFound
				}
				return fmt.Errorf("insert ticket: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("insert tickets: %w", err)
		}
		return nil
	})
}

func (r *TicketRepository) GetTicketForUpdate(ctx context.Context, ticketID string) (domain.Ticket, error) {
	return r.getTicketForUpdate(ctx, ticketID)
}

func (r *TicketRepository) MarkTicketUsed(ctx context.Context, ticketID, userID string, now time.Time) (bool, error) {
	const query = `
UPDATE tickets
SET status = 'used', used_at = $3
WHERE id = $1 AND user_id = $2 AND status = 'active'`

	tag, err := r.exec(ctx, query, ticketID, userID, now)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("mark ticket used: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
