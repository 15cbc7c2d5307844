package domain

import "time"

type TicketStatus string

const (
	TicketActive      TicketStatus = "active"
	TicketUsed        TicketStatus = "used"
	TicketTransferred TicketStatus = "transferred"
	TicketRefunded    TicketStatus = "refunded"
	TicketExpired     TicketStatus = "expired"
)

// Ticket is one owned, scannable unit of a paid order.
type Ticket struct {
	ID        string
	OrderID   string
	TierID    string
	EventID   string
	UserID    string
	Sequence  int
	UnitPrice int64
	QRToken   string
	Status    TicketStatus
	UsedAt    *time.Time
	CreatedAt time.Time
}
