package domain

import "time"

type OrderStatus string

const (
	OrderPending           OrderStatus = "pending"
	OrderPaid              OrderStatus = "paid"
	OrderFailed            OrderStatus = "failed"
	OrderCancelled         OrderStatus = "cancelled"
	OrderRefunded          OrderStatus = "refunded"
	OrderPartiallyRefunded OrderStatus = "partially_refunded"
)

// CanTransition reports whether the order state machine allows from -> to.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case OrderPending:
		return to == OrderPaid || to == OrderFailed || to == OrderCancelled
	case OrderPaid, OrderPartiallyRefunded:
		return to == OrderRefunded || to == OrderPartiallyRefunded
	}
	return false
}

// Refundable reports whether refunds may be taken against the order.
func (s OrderStatus) Refundable() bool {
	return s == OrderPaid || s == OrderPartiallyRefunded
}

type LineItem struct {
	TierID    string
	Quantity  int
	UnitPrice int64
}

// Order tracks a checkout from payment intent to settlement.
type Order struct {
	ID            string
	UserID        string
	EventID       string
	LineItems     []LineItem
	PromoCodeID   string
	Subtotal      int64
	Discount      int64
	Total         int64
	Currency      string
	Status        OrderStatus
	ProviderRef   string
	FailureReason string
	// Metadata holds opaque client-supplied data; business logic never reads it.
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
}

// TicketCount is the number of tickets the order entitles its owner to.
func (o Order) TicketCount() int {
	n := 0
	for _, li := range o.LineItems {
		n += li.Quantity
	}
	return n
}
