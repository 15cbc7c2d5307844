package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tixora/tixora/services/api/internal/clock"
	"github.com/tixora/tixora/services/api/internal/domain"
	"github.com/tixora/tixora/services/api/internal/events"
	"github.com/tixora/tixora/services/api/internal/qrtoken"
)

type TicketRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	ListTicketsByOrder(ctx context.Context, orderID string) ([]domain.Ticket, error)
	// InsertTickets skips rows whose (order, tier, sequence) already exists.
	InsertTickets(ctx context.Context, tickets []domain.Ticket) error
	GetTicketForUpdate(ctx context.Context, ticketID string) (domain.Ticket, error)
	// MarkTicketUsed flips an active ticket owned by userID to used.
	MarkTicketUsed(ctx context.Context, ticketID, userID string, now time.Time) (bool, error)
}

type TokenSigner interface {
	Sign(c qrtoken.Claims) (string, error)
	Verify(token string) (qrtoken.Claims, error)
}

type TicketService struct {
	repo      TicketRepository
	signer    TokenSigner
	publisher events.Publisher
	clock     clock.Clock
	logger    logrus.FieldLogger
}

func NewTicketService(repo TicketRepository, signer TokenSigner, publisher events.Publisher, clk clock.Clock, logger logrus.FieldLogger) *TicketService {
	if logger == nil {
		logger = discardLogger()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &TicketService{
		repo:      repo,
		signer:    signer,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

type IssueResult struct {
	Tickets []domain.Ticket
	// Created is false when the tickets already existed.
	Created bool
}

// IssueForOrder issues the tickets of a paid order and publishes
// tickets.issued the first time.
func (s *TicketService) IssueForOrder(ctx context.Context, orderID string) ([]domain.Ticket, error) {
	res, err := s.Issue(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if res.Created {
		publishAll(ctx, s.publisher, s.logger, []message{ticketsIssuedMessage(orderID, res.Tickets)})
	}
	return res.Tickets, nil
}

// Issue creates one ticket per purchased unit. Calling it again for the
// same order returns the existing tickets. It publishes nothing so it can
// run inside a caller's transaction.
func (s *TicketService) Issue(ctx context.Context, orderID string) (IssueResult, error) {
	var res IssueResult
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		order, err := s.repo.GetOrderForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}
		existing, err := s.repo.ListTicketsByOrder(txCtx, orderID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			res.Tickets = existing
			return nil
		}
		if order.Status != domain.OrderPaid {
			return domain.ErrOrderNotPaid
		}

		now := s.clock.Now()
		tickets := make([]domain.Ticket, 0, order.TicketCount())
		for _, li := range order.LineItems {
			for seq := 1; seq <= li.Quantity; seq++ {
				t := domain.Ticket{
					ID:        newID(),
					OrderID:   order.ID,
					TierID:    li.TierID,
					EventID:   order.EventID,
					UserID:    order.UserID,
					Sequence:  seq,
					UnitPrice: li.UnitPrice,
					Status:    domain.TicketActive,
					CreatedAt: now,
				}
				token, err := s.signer.Sign(claimsFor(t))
				if err != nil {
					return err
				}
				t.QRToken = token
				tickets = append(tickets, t)
			}
		}
		if err := s.repo.InsertTickets(txCtx, tickets); err != nil {
			return err
		}
		stored, err := s.repo.ListTicketsByOrder(txCtx, orderID)
		if err != nil {
			return err
		}
		res.Tickets = stored
		res.Created = true
		return nil
	})
	if err != nil {
		return IssueResult{}, err
	}
	if res.Created {
		s.logger.WithFields(logrus.Fields{
			"order_id": orderID,
			"tickets":  len(res.Tickets),
		}).Info("tickets issued")
	}
	return res, nil
}

func (s *TicketService) ListTickets(ctx context.Context, orderID string) ([]domain.Ticket, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListTicketsByOrder(ctx, orderID)
}

// VerifyToken checks a QR token's signature without touching storage.
func (s *TicketService) VerifyToken(token string) (qrtoken.Claims, error) {
	c, err := s.signer.Verify(token)
	if err != nil {
		return qrtoken.Claims{}, domain.ErrTicketTokenInvalid
	}
	return c, nil
}

// CheckIn admits the holder of token. Tokens minted for a previous owner
// are rejected.
func (s *TicketService) CheckIn(ctx context.Context, token string) (domain.Ticket, error) {
	claims, err := s.VerifyToken(token)
	if err != nil {
		return domain.Ticket{}, err
	}
	var out domain.Ticket
	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		now := s.clock.Now()
		t, err := s.repo.GetTicketForUpdate(txCtx, claims.TicketID)
		if err != nil {
			return err
		}
		if t.UserID != claims.UserID {
			return domain.ErrTransferNotAuthorized
		}
		if t.Status != domain.TicketActive {
			return domain.ErrTicketNotActive
		}
		ok, err := s.repo.MarkTicketUsed(txCtx, t.ID, claims.UserID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrTicketNotActive
		}
		t.Status = domain.TicketUsed
		t.UsedAt = &now
		out = t
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("ticket_id", claims.TicketID).Warn("check-in rejected")
		return domain.Ticket{}, err
	}
	return out, nil
}

func claimsFor(t domain.Ticket) qrtoken.Claims {
	return qrtoken.Claims{
		TicketID: t.ID,
		EventID:  t.EventID,
		TierID:   t.TierID,
		UserID:   t.UserID,
	}
}

func ticketsIssuedMessage(orderID string, tickets []domain.Ticket) message {
	ids := make([]string, 0, len(tickets))
	userID := ""
	for _, t := range tickets {
		ids = append(ids, t.ID)
		if userID == "" {
			userID = t.UserID
		}
	}
	return message{
		topic:   events.TopicTicketsIssued,
		key:     orderID,
		payload: ticketsIssuedEvent{OrderID: orderID, UserID: userID, TicketIDs: ids},
	}
}
