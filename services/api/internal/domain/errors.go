package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID       = errors.New("invalid id")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidRequest  = errors.New("invalid request")

	ErrEventNotFound     = errors.New("event not found")
	ErrEventNameRequired = errors.New("event name is required")
	ErrEventStarted      = errors.New("event already started")

	ErrTierNotFound          = errors.New("ticket tier not found")
	ErrTierNameRequired      = errors.New("tier name is required")
	ErrInvalidCapacity       = errors.New("invalid capacity")
	ErrInvalidPrice          = errors.New("invalid price")
	ErrInsufficientInventory = errors.New("insufficient inventory")

	ErrHoldNotFound     = errors.New("hold not found")
	ErrHoldExpired      = errors.New("hold expired")
	ErrHoldNotOwned     = errors.New("hold belongs to another user")
	ErrHoldUnavailable  = errors.New("hold already attached to an order")
	ErrCurrencyMismatch = errors.New("holds span multiple currencies")

	ErrInvalidPromoCode = errors.New("invalid promo code")

	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderStateConflict = errors.New("order state conflict")
	ErrOrderNotOwned      = errors.New("order belongs to another user")
	ErrOrderNotPaid       = errors.New("order not paid")

	ErrWebhookSignatureInvalid = errors.New("webhook signature invalid")
	ErrWebhookPayloadInvalid   = errors.New("webhook payload invalid")

	ErrTicketNotFound     = errors.New("ticket not found")
	ErrTicketNotActive    = errors.New("ticket not active")
	ErrTicketTokenInvalid = errors.New("ticket token invalid")

	ErrTransferNotFound       = errors.New("transfer not found")
	ErrTransferNotAuthorized  = errors.New("transfer not authorized")
	ErrTransferExpired        = errors.New("transfer expired")
	ErrTransferAlreadyPending = errors.New("transfer already pending")
	ErrTransferNotPending     = errors.New("transfer not pending")
	ErrTransferToSelf         = errors.New("cannot transfer a ticket to its owner")

	ErrRefundIneligible = errors.New("refund ineligible")
	ErrPaymentProvider  = errors.New("payment provider error")
)

// PromoReason identifies which promo validation rule failed.
type PromoReason string

const (
	PromoNotFound        PromoReason = "not-found"
	PromoExpired         PromoReason = "expired"
	PromoWrongEvent      PromoReason = "wrong-event"
	PromoUsageLimit      PromoReason = "usage-limit"
	PromoAlreadyRedeemed PromoReason = "already-redeemed"
)

// PromoError reports a failed promo validation. It matches ErrInvalidPromoCode.
type PromoError struct {
	Reason PromoReason
}

func (e *PromoError) Error() string {
	return fmt.Sprintf("invalid promo code: %s", e.Reason)
}

func (e *PromoError) Unwrap() error {
	return ErrInvalidPromoCode
}

// StateConflictError is returned when an order transition does not match
// the persisted status.
type StateConflictError struct {
	OrderID string
	Current OrderStatus
	Target  OrderStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("order %s: cannot transition from %s to %s", e.OrderID, e.Current, e.Target)
}

func (e *StateConflictError) Unwrap() error {
	return ErrOrderStateConflict
}

// ProviderError wraps a failure reported by the payment provider.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("payment provider %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("payment provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrPaymentProvider, e.Err}
}
