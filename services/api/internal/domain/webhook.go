package domain

import "time"

// WebhookEvent is a dedup ledger row for a processed provider event.
type WebhookEvent struct {
	ProviderEventID string
	Type            string
	ProcessedAt     time.Time
}
