package domain

import "time"

// Event is the thing tickets admit to. Tiers, promo codes and transfers are
// all scoped to one.
type Event struct {
	ID       string
	Name     string
	StartsAt time.Time
}

// Started reports whether doors have opened at now.
func (e Event) Started(now time.Time) bool {
	return !e.StartsAt.After(now)
}
