package domain

import "time"

type ReleaseReason string

const (
	ReleaseExplicit ReleaseReason = "released"
	ReleaseExpired  ReleaseReason = "expired"
	ReleaseConsumed ReleaseReason = "consumed"
)

// CartHold is a temporary claim on tier capacity.
type CartHold struct {
	ID            string
	UserID        string
	TierID        string
	Quantity      int
	ExpiresAt     time.Time
	Released      bool
	ReleasedAt    *time.Time
	ReleaseReason ReleaseReason
	OrderID       string
	CreatedAt     time.Time
}

// Active reports whether the hold still reserves inventory at now.
func (h CartHold) Active(now time.Time) bool {
	return !h.Released && h.ExpiresAt.After(now)
}
