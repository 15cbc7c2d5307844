package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type TransferRepository struct {
	querier
}

func NewTransferRepository(pool *pgxpool.Pool) *TransferRepository {
	return &TransferRepository{querier{pool: pool}}
}

func (r *TransferRepository) GetTicketForUpdate(ctx context.Context, ticketID string) (domain.Ticket, error) {
	return r.getTicketForUpdate(ctx, ticketID)
}

func (r *TransferRepository) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	const query = `
SELECT id, name, starts_at
FROM events
WHERE id = $1`

	var e domain.Event
	if err := r.queryRow(ctx, query, eventID).Scan(&e.ID, &e.Name, &e.StartsAt); err != nil {
		if isInvalidUUID(err) {
			return domain.Event{}, domain.ErrInvalidID
		}
		if isNoRows(err) {
			return domain.Event{}, domain.ErrEventNotFound
		}
		return domain.Event{}, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (r *TransferRepository) ExpirePendingTransfers(ctx context.Context, ticketID string, now time.Time) (int, error) {
	const query = `
UPDATE ticket_transfers
SET status = 'expired', responded_at = $1
WHERE status = 'pending'
	AND expires_at <= $1
	AND ($2 = '' OR ticket_id::text = $2)`

	tag, err := r.exec(ctx, query, now, ticketID)
	if err != nil {
		return 0, fmt.Errorf("expire transfers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *TransferRepository) CreateTransfer(ctx context.Context, t domain.TicketTransfer) error {
	const query = `
INSERT INTO ticket_transfers (id, ticket_id, from_user_id, to_user_id, status, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.exec(ctx, query, t.ID, t.TicketID, t.FromUserID, t.ToUserID, string(t.Status), t.ExpiresAt, t.CreatedAt)
	if err != nil {
		switch {
		case isUniqueViolationOn(err, "ticket_transfers_one_pending"):
			return domain.ErrTransferAlreadyPending
		case isInvalidUUID(err):
			return domain.ErrInvalidID
		case isForeignKeyViolation(err):
			return domain.ErrTicketNotFound
		}
		return fmt.Errorf("create transfer: %w", err)
	}
	return nil
}

func (r *TransferRepository) GetTransferForUpdate(ctx context.Context, transferID string) (domain.TicketTransfer, error) {
	const query = `
SELECT id, ticket_id, from_user_id, to_user_id, status, expires_at, created_at, responded_at
FROM ticket_transfers
WHERE id = $1
FOR UPDATE`

	var t domain.TicketTransfer
	err := r.queryRow(ctx, query, transferID).Scan(
		&t.ID, &t.TicketID, &t.FromUserID, &t.ToUserID, &t.Status, &t.ExpiresAt, &t.CreatedAt, &t.RespondedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.TicketTransfer{}, domain.ErrInvalidID
		}
		if isNoRows(err) {
			return domain.TicketTransfer{}, domain.ErrTransferNotFound
		}
		return domain.TicketTransfer{}, fmt.Errorf("get transfer: %w", err)
	}
	return t, nil
}

func (r *TransferRepository) CloseTransfer(ctx context.Context, transferID string, status domain.TransferStatus, now time.Time) (bool, error) {
	const query = `
UPDATE ticket_transfers
SET status = $2, responded_at = $3
WHERE id = $1 AND status = 'pending'`

	tag, err := r.exec(ctx, query, transferID, string(status), now)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("close transfer: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TransferRepository) ReassignTicket(ctx context.Context, ticketID, fromUserID, toUserID, qrToken string) (bool, error) {
	const query = `
UPDATE tickets
SET user_id = $3, qr_token = $4
WHERE id = $1 AND user_id = $2 AND status = 'active'`

	tag, err := r.exec(ctx, query, ticketID, fromUserID, toUserID, qrToken)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("reassign ticket: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
