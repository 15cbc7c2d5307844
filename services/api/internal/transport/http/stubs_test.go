package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/tixora/tixora/services/api/internal/app"
	"github.com/tixora/tixora/services/api/internal/domain"
)

var errUnexpectedCall = errors.New("unexpected call")

// stubServices implements every service interface the router needs. Unset
// funcs fail the call so a test only wires what it exercises.
type stubServices struct {
	createEvent     func(app.CreateEventInput) (domain.Event, error)
	listEvents      func() ([]domain.Event, error)
	createTier      func(app.CreateTierInput) (domain.TicketTier, error)
	listTiers       func(string) ([]domain.TicketTier, error)
	createPromo     func(app.CreatePromoInput) (domain.PromoCode, error)
	createHold      func(app.CreateHoldInput) (domain.CartHold, error)
	releaseHold     func(holdID, userID string) error
	availability    func(string) (domain.TicketTier, error)
	validatePromo   func(app.ValidatePromoInput) (domain.PromoCode, error)
	createOrder     func(app.CreateOrderInput) (app.CreateOrderResult, error)
	getOrder        func(string) (domain.Order, error)
	cancelOrder     func(orderID, userID string) (domain.Order, error)
	issueTickets    func(string) ([]domain.Ticket, error)
	listTickets     func(string) ([]domain.Ticket, error)
	checkIn         func(string) (domain.Ticket, error)
	refund          func(app.RefundInput) (domain.Refund, error)
	createTransfer  func(app.CreateTransferInput) (domain.TicketTransfer, error)
	respondTransfer func(app.RespondTransferInput) (domain.TicketTransfer, error)
	cancelTransfer  func(transferID, userID string) (domain.TicketTransfer, error)
	handleEvent     func(signature string, body []byte) (app.WebhookResult, error)
}

func (s *stubServices) CreateEvent(_ context.Context, in app.CreateEventInput) (domain.Event, error) {
	if s.createEvent == nil {
		return domain.Event{}, errUnexpectedCall
	}
	return s.createEvent(in)
}

func (s *stubServices) ListEvents(_ context.Context) ([]domain.Event, error) {
	if s.listEvents == nil {
		return nil, errUnexpectedCall
	}
	return s.listEvents()
}

func (s *stubServices) CreateTier(_ context.Context, in app.CreateTierInput) (domain.TicketTier, error) {
	if s.createTier == nil {
		return domain.TicketTier{}, errUnexpectedCall
	}
	return s.createTier(in)
}

func (s *stubServices) ListTiers(_ context.Context, eventID string) ([]domain.TicketTier, error) {
	if s.listTiers == nil {
		return nil, errUnexpectedCall
	}
	return s.listTiers(eventID)
}

func (s *stubServices) CreatePromoCode(_ context.Context, in app.CreatePromoInput) (domain.PromoCode, error) {
	if s.createPromo == nil {
		return domain.PromoCode{}, errUnexpectedCall
	}
	return s.createPromo(in)
}

func (s *stubServices) CreateHold(_ context.Context, in app.CreateHoldInput) (domain.CartHold, error) {
	if s.createHold == nil {
		return domain.CartHold{}, errUnexpectedCall
	}
	return s.createHold(in)
}

func (s *stubServices) ReleaseHold(_ context.Context, holdID, userID string) error {
	if s.releaseHold == nil {
		return errUnexpectedCall
	}
	return s.releaseHold(holdID, userID)
}

func (s *stubServices) Availability(_ context.Context, tierID string) (domain.TicketTier, error) {
	if s.availability == nil {
		return domain.TicketTier{}, errUnexpectedCall
	}
	return s.availability(tierID)
}

func (s *stubServices) Validate(_ context.Context, in app.ValidatePromoInput) (domain.PromoCode, error) {
	if s.validatePromo == nil {
		return domain.PromoCode{}, errUnexpectedCall
	}
	return s.validatePromo(in)
}

func (s *stubServices) CreateOrder(_ context.Context, in app.CreateOrderInput) (app.CreateOrderResult, error) {
	if s.createOrder == nil {
		return app.CreateOrderResult{}, errUnexpectedCall
	}
	return s.createOrder(in)
}

func (s *stubServices) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	if s.getOrder == nil {
		return domain.Order{}, errUnexpectedCall
	}
	return s.getOrder(orderID)
}

func (s *stubServices) CancelOrder(_ context.Context, orderID, userID string) (domain.Order, error) {
	if s.cancelOrder == nil {
		return domain.Order{}, errUnexpectedCall
	}
	return s.cancelOrder(orderID, userID)
}

func (s *stubServices) IssueForOrder(_ context.Context, orderID string) ([]domain.Ticket, error) {
	if s.issueTickets == nil {
		return nil, errUnexpectedCall
	}
	return s.issueTickets(orderID)
}

func (s *stubServices) ListTickets(_ context.Context, orderID string) ([]domain.Ticket, error) {
	if s.listTickets == nil {
		return nil, errUnexpectedCall
	}
	return s.listTickets(orderID)
}

func (s *stubServices) CheckIn(_ context.Context, token string) (domain.Ticket, error) {
	if s.checkIn == nil {
		return domain.Ticket{}, errUnexpectedCall
	}
	return s.checkIn(token)
}

func (s *stubServices) Refund(_ context.Context, in app.RefundInput) (domain.Refund, error) {
	if s.refund == nil {
		return domain.Refund{}, errUnexpectedCall
	}
	return s.refund(in)
}

func (s *stubServices) CreateTransfer(_ context.Context, in app.CreateTransferInput) (domain.TicketTransfer, error) {
	if s.createTransfer == nil {
		return domain.TicketTransfer{}, errUnexpectedCall
	}
	return s.createTransfer(in)
}

func (s *stubServices) Respond(_ context.Context, in app.RespondTransferInput) (domain.TicketTransfer, error) {
	if s.respondTransfer == nil {
		return domain.TicketTransfer{}, errUnexpectedCall
	}
	return s.respondTransfer(in)
}

func (s *stubServices) CancelTransfer(_ context.Context, transferID, userID string) (domain.TicketTransfer, error) {
	if s.cancelTransfer == nil {
		return domain.TicketTransfer{}, errUnexpectedCall
	}
	return s.cancelTransfer(transferID, userID)
}

func (s *stubServices) HandleEvent(_ context.Context, signature string, body []byte) (app.WebhookResult, error) {
	if s.handleEvent == nil {
		return app.WebhookResult{}, errUnexpectedCall
	}
	return s.handleEvent(signature, body)
}

func newTestRouter(s *stubServices) http.Handler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewRouter(Deps{
		Admin:     s,
		Holds:     s,
		Promos:    s,
		Orders:    s,
		Tickets:   s,
		Refunds:   s,
		Transfers: s,
		Webhooks:  s,
		Logger:    logger,
	})
}

// do sends one request through the router. An empty userID omits the
// identity header.
func do(t *testing.T, h http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func assertResponse(t *testing.T, rec *httptest.ResponseRecorder, status int, substr string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d (body %q)", status, rec.Code, rec.Body.String())
	}
	if substr != "" && !strings.Contains(rec.Body.String(), substr) {
		t.Fatalf("expected response to contain %q, got %q", substr, rec.Body.String())
	}
}
