package domain

import "time"

type RefundSource string

const (
	RefundSourceAPI      RefundSource = "api"
	RefundSourceProvider RefundSource = "provider"
)

type RefundStatus string

const RefundSucceeded RefundStatus = "succeeded"

// Refund records money returned to the buyer and the tickets it covered.
type Refund struct {
	ID               string
	OrderID          string
	ProviderRefundID string
	Amount           int64
	Reason           string
	TicketIDs        []string
	Status           RefundStatus
	Source           RefundSource
	CreatedAt        time.Time
}
