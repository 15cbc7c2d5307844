package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tixora/tixora/services/api/internal/clock"
	"github.com/tixora/tixora/services/api/internal/domain"
	"github.com/tixora/tixora/services/api/internal/events"
)

type TransferRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetTicketForUpdate(ctx context.Context, ticketID string) (domain.Ticket, error)
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
	// ExpirePendingTransfers expires pending transfers past their deadline,
	// restricted to ticketID when it is not empty.
	ExpirePendingTransfers(ctx context.Context, ticketID string, now time.Time) (int, error)
	// CreateTransfer returns domain.ErrTransferAlreadyPending when the
	// ticket already has a pending transfer.
	CreateTransfer(ctx context.Context, t domain.TicketTransfer) error
	GetTransferForUpdate(ctx context.Context, transferID string) (domain.TicketTransfer, error)
	// CloseTransfer moves a pending transfer to status.
	CloseTransfer(ctx context.Context, transferID string, status domain.TransferStatus, now time.Time) (bool, error)
	// ReassignTicket moves an active ticket from one owner to another.
	ReassignTicket(ctx context.Context, ticketID, fromUserID, toUserID, qrToken string) (bool, error)
}

type TransferService struct {
	repo        TransferRepository
	signer      TokenSigner
	publisher   events.Publisher
	clock       clock.Clock
	transferTTL time.Duration
	logger      logrus.FieldLogger
}

const defaultTransferTTL = 48 * time.Hour

type TransferServiceOption func(*TransferService)

func WithTransferTTL(d time.Duration) TransferServiceOption {
	return func(s *TransferService) {
		if d > 0 {
			s.transferTTL = d
		}
	}
}

func WithTransferLogger(l logrus.FieldLogger) TransferServiceOption {
	return func(s *TransferService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithTransferPublisher(p events.Publisher) TransferServiceOption {
	return func(s *TransferService) {
		if p != nil {
			s.publisher = p
		}
	}
}

func NewTransferService(repo TransferRepository, signer TokenSigner, clk clock.Clock, opts ...TransferServiceOption) *TransferService {
	svc := &TransferService{
		repo:        repo,
		signer:      signer,
		publisher:   events.Nop{},
		clock:       clk,
		transferTTL: defaultTransferTTL,
		logger:      discardLogger(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type CreateTransferInput struct {
	FromUserID string
	ToUserID   string
	TicketID   string
	TTL        time.Duration
}

// CreateTransfer offers a ticket to another user. The offer lapses at the
// earlier of now+TTL and the event start.
func (s *TransferService) CreateTransfer(ctx context.Context, in CreateTransferInput) (domain.TicketTransfer, error) {
	if in.FromUserID == "" || in.ToUserID == "" || in.TicketID == "" {
		return domain.TicketTransfer{}, domain.ErrInvalidRequest
	}
	if in.FromUserID == in.ToUserID {
		return domain.TicketTransfer{}, domain.ErrTransferToSelf
	}
	ttl := s.transferTTL
	if in.TTL > 0 {
		ttl = in.TTL
	}

	var tr domain.TicketTransfer
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		now := s.clock.Now()
		ticket, err := s.repo.GetTicketForUpdate(txCtx, in.TicketID)
		if err != nil {
			return err
		}
		if ticket.UserID != in.FromUserID {
			return domain.ErrTransferNotAuthorized
		}
		if ticket.Status != domain.TicketActive {
			return domain.ErrTicketNotActive
		}
		event, err := s.repo.GetEvent(txCtx, ticket.EventID)
		if err != nil {
			return err
		}
		if event.Started(now) {
			return domain.ErrEventStarted
		}
		if _, err := s.repo.ExpirePendingTransfers(txCtx, ticket.ID, now); err != nil {
			return err
		}

		expiresAt := now.Add(ttl)
		if expiresAt.After(event.StartsAt) {
			expiresAt = event.StartsAt
		}
		tr = domain.TicketTransfer{
			ID:         newID(),
			TicketID:   ticket.ID,
			FromUserID: in.FromUserID,
			ToUserID:   in.ToUserID,
			Status:     domain.TransferPending,
			ExpiresAt:  expiresAt,
			CreatedAt:  now,
		}
		return s.repo.CreateTransfer(txCtx, tr)
	})
	if err != nil {
		return domain.TicketTransfer{}, err
	}
	publishAll(ctx, s.publisher, s.logger, []message{{
		topic:   events.TopicTransferCreated,
		key:     tr.TicketID,
		payload: newTransferEvent(tr),
	}})
	return tr, nil
}

type RespondTransferInput struct {
	TransferID string
	UserID     string
	Accept     bool
}

// Respond lets the recipient accept or decline. Accepting moves the ticket
// to the recipient and mints a fresh QR token so the sender's copy stops
// working.
func (s *TransferService) Respond(ctx context.Context, in RespondTransferInput) (domain.TicketTransfer, error) {
	if in.TransferID == "" || in.UserID == "" {
		return domain.TicketTransfer{}, domain.ErrInvalidRequest
	}
	var (
		tr      domain.TicketTransfer
		expired bool
	)
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		now := s.clock.Now()
		t, err := s.repo.GetTransferForUpdate(txCtx, in.TransferID)
		if err != nil {
			return err
		}
		if t.ToUserID != in.UserID {
			return domain.ErrTransferNotAuthorized
		}
		switch t.Status {
		case domain.TransferPending:
		case domain.TransferExpired:
			return domain.ErrTransferExpired
		default:
			return domain.ErrTransferNotPending
		}
		if !t.ExpiresAt.After(now) {
			if _, err := s.repo.CloseTransfer(txCtx, t.ID, domain.TransferExpired, now); err != nil {
				return err
			}
			expired = true
			return nil
		}

		if !in.Accept {
			if err := s.closePending(txCtx, t.ID, domain.TransferDeclined, now); err != nil {
				return err
			}
			t.Status = domain.TransferDeclined
			t.RespondedAt = &now
			tr = t
			return nil
		}

		ticket, err := s.repo.GetTicketForUpdate(txCtx, t.TicketID)
		if err != nil {
			return err
		}
		if ticket.UserID != t.FromUserID || ticket.Status != domain.TicketActive {
			return domain.ErrTicketNotActive
		}
		ticket.UserID = t.ToUserID
		token, err := s.signer.Sign(claimsFor(ticket))
		if err != nil {
			return err
		}
		ok, err := s.repo.ReassignTicket(txCtx, ticket.ID, t.FromUserID, t.ToUserID, token)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrTicketNotActive
		}
		if err := s.closePending(txCtx, t.ID, domain.TransferAccepted, now); err != nil {
			return err
		}
		t.Status = domain.TransferAccepted
		t.RespondedAt = &now
		tr = t
		return nil
	})
	if err != nil {
		return domain.TicketTransfer{}, err
	}
	if expired {
		return domain.TicketTransfer{}, domain.ErrTransferExpired
	}
	if tr.Status == domain.TransferAccepted {
		s.logger.WithFields(logrus.Fields{
			"transfer_id": tr.ID,
			"ticket_id":   tr.TicketID,
		}).Info("ticket transferred")
		publishAll(ctx, s.publisher, s.logger, []message{{
			topic:   events.TopicTransferAccepted,
			key:     tr.TicketID,
			payload: newTransferEvent(tr),
		}})
	}
	return tr, nil
}

// CancelTransfer withdraws a pending offer. Only the sender may cancel.
func (s *TransferService) CancelTransfer(ctx context.Context, transferID, userID string) (domain.TicketTransfer, error) {
	if transferID == "" || userID == "" {
		return domain.TicketTransfer{}, domain.ErrInvalidRequest
	}
	var tr domain.TicketTransfer
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		now := s.clock.Now()
		t, err := s.repo.GetTransferForUpdate(txCtx, transferID)
		if err != nil {
			return err
		}
		if t.FromUserID != userID {
			return domain.ErrTransferNotAuthorized
		}
		if t.Status != domain.TransferPending {
			return domain.ErrTransferNotPending
		}
		if err := s.closePending(txCtx, t.ID, domain.TransferCancelled, now); err != nil {
			return err
		}
		t.Status = domain.TransferCancelled
		t.RespondedAt = &now
		tr = t
		return nil
	})
	return tr, err
}

// SweepExpired expires every lapsed pending transfer.
func (s *TransferService) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.repo.ExpirePendingTransfers(ctx, "", s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.WithField("transfers", n).Info("expired pending transfers")
	}
	return n, nil
}

func (s *TransferService) closePending(ctx context.Context, transferID string, status domain.TransferStatus, now time.Time) error {
	ok, err := s.repo.CloseTransfer(ctx, transferID, status, now)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrTransferNotPending
	}
	return nil
}
