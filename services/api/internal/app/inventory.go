package app

import (
	"context"

	"github.com/tixora/tixora/services/api/internal/domain"
)

// InventoryLedger is the authoritative per-tier counter of held and sold
// units. Every method must be a single conditional statement so concurrent
// callers on the same tier cannot oversell.
type InventoryLedger interface {
	// TryReserve moves qty available units to held, or returns
	// domain.ErrInsufficientInventory.
	TryReserve(ctx context.Context, tierID string, qty int) error
	// Release returns qty held units to available.
	Release(ctx context.Context, tierID string, qty int) error
	// CommitSale converts qty held units to sold.
	CommitSale(ctx context.Context, tierID string, qty int) error
	// SellDirect marks qty available units sold without a prior hold.
	SellDirect(ctx context.Context, tierID string, qty int) error
	GetTier(ctx context.Context, tierID string) (domain.TicketTier, error)
}
