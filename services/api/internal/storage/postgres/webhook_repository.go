package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type WebhookRepository struct {
	querier
}

func NewWebhookRepository(pool *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{querier{pool: pool}}
}

// RecordWebhookEvent claims the provider event id. It must run in the same
// transaction as the event's side effects so a failed delivery can retry.
func (r *WebhookRepository) RecordWebhookEvent(ctx context.Context, e domain.WebhookEvent) (bool, error) {
	const query = `
INSERT INTO webhook_events (provider_event_id, type, processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (provider_event_id) DO NOTHING`

	tag, err := r.exec(ctx, query, e.ProviderEventID, e.Type, e.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
