package app

import (
	"context"
	"testing"
	"time"

	"github.com/tixora/tixora/services/api/internal/clock"
	"github.com/tixora/tixora/services/api/internal/domain"
	"github.com/tixora/tixora/services/api/internal/payment"
	"github.com/tixora/tixora/services/api/internal/qrtoken"
)

const testWebhookSecret = "whsec_test"

var testNow = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

type harness struct {
	store     *memStore
	clock     *clock.Manual
	payments  *fakePayments
	publisher *recordingPublisher
	signer    *qrtoken.Signer

	holds     *HoldService
	promos    *PromoService
	orders    *OrderService
	tickets   *TicketService
	transfers *TransferService
	refunds   *RefundService
	webhooks  *WebhookProcessor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	signer, err := qrtoken.NewSigner("ticket-secret")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	h := &harness{
		store:     newMemStore(),
		clock:     clock.NewManual(testNow),
		payments:  &fakePayments{},
		publisher: &recordingPublisher{},
		signer:    signer,
	}
	h.holds = NewHoldService(h.store, h.store, h.clock)
	h.promos = NewPromoService(h.store, h.clock)
	h.orders = NewOrderService(OrderServiceDeps{
		Repo:     h.store,
		Ledger:   h.store,
		Promos:   h.promos,
		Payments: h.payments,
		Clock:    h.clock,
	})
	h.tickets = NewTicketService(h.store, signer, h.publisher, h.clock, nil)
	h.transfers = NewTransferService(h.store, signer, h.clock, WithTransferPublisher(h.publisher))
	h.refunds = NewRefundService(h.store, h.payments, h.publisher, h.clock, nil)
	h.webhooks = NewWebhookProcessor(WebhookProcessorDeps{
		Repo:      h.store,
		Verifier:  payment.NewVerifier(testWebhookSecret, 5*time.Minute),
		Orders:    h.orders,
		Tickets:   h.tickets,
		Refunds:   h.refunds,
		Publisher: h.publisher,
		Clock:     h.clock,
	})
	return h
}

// seedEvent adds an event a week out with one tier.
func (h *harness) seedEvent(eventID, tierID string, capacity int, price int64) {
	h.store.addEvent(eventID, testNow.Add(7*24*time.Hour))
	h.store.addTier(tierID, eventID, capacity, price, "EUR")
}

func (h *harness) hold(t *testing.T, userID, tierID string, qty int) domain.CartHold {
	t.Helper()
	hold, err := h.holds.CreateHold(context.Background(), CreateHoldInput{UserID: userID, TierID: tierID, Quantity: qty})
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}
	return hold
}

func (h *harness) order(t *testing.T, userID, eventID string, holdIDs ...string) domain.Order {
	t.Helper()
	res, err := h.orders.CreateOrder(context.Background(), CreateOrderInput{UserID: userID, EventID: eventID, HoldIDs: holdIDs})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return res.Order
}

// paidOrder walks userID through hold, order, payment and issuance.
func (h *harness) paidOrder(t *testing.T, userID, eventID, tierID string, qty int) (domain.Order, []domain.Ticket) {
	t.Helper()
	ctx := context.Background()
	hold := h.hold(t, userID, tierID, qty)
	order := h.order(t, userID, eventID, hold.ID)
	paid, err := h.orders.MarkPaid(ctx, order.ID)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	tickets, err := h.tickets.IssueForOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("issue tickets: %v", err)
	}
	return paid, tickets
}

func (h *harness) deliver(t *testing.T, body string) (WebhookResult, error) {
	t.Helper()
	sig := payment.SignPayload(testWebhookSecret, []byte(body), h.clock.Now())
	return h.webhooks.HandleEvent(context.Background(), sig, []byte(body))
}
