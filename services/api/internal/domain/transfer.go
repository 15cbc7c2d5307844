package domain

import "time"

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferAccepted  TransferStatus = "accepted"
	TransferDeclined  TransferStatus = "declined"
	TransferCancelled TransferStatus = "cancelled"
	TransferExpired   TransferStatus = "expired"
)

// TicketTransfer is a peer-to-peer ownership change awaiting consent.
type TicketTransfer struct {
	ID          string
	TicketID    string
	FromUserID  string
	ToUserID    string
	Status      TransferStatus
	ExpiresAt   time.Time
	CreatedAt   time.Time
	RespondedAt *time.Time
}
