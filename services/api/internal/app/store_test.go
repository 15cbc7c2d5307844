package app

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tixora/tixora/services/api/internal/domain"
	"github.com/tixora/tixora/services/api/internal/payment"
)

// memStore is an in-memory stand-in for every repository and the ledger.
// WithTx serializes callers and restores a snapshot on error; nested calls
// behave like savepoints.
type memStore struct {
	mu sync.Mutex
	memState

	failOn map[string]error
}

type memState struct {
	events    map[string]domain.Event
	tiers     map[string]domain.TicketTier
	holds     map[string]domain.CartHold
	promos    map[string]domain.PromoCode
	orders    map[string]domain.Order
	tickets   map[string]domain.Ticket
	transfers map[string]domain.TicketTransfer
	webhooks  map[string]domain.WebhookEvent
	refunds   []domain.Refund
}

type memTxKey struct{}

func newMemStore() *memStore {
	return &memStore{
		memState: memState{
			events:    map[string]domain.Event{},
			tiers:     map[string]domain.TicketTier{},
			holds:     map[string]domain.CartHold{},
			promos:    map[string]domain.PromoCode{},
			orders:    map[string]domain.Order{},
			tickets:   map[string]domain.Ticket{},
			transfers: map[string]domain.TicketTransfer{},
			webhooks:  map[string]domain.WebhookEvent{},
		},
		failOn: map[string]error{},
	}
}

func (s *memStore) snapshot() memState {
	return memState{
		events:    maps.Clone(s.events),
		tiers:     maps.Clone(s.tiers),
		holds:     maps.Clone(s.holds),
		promos:    maps.Clone(s.promos),
		orders:    maps.Clone(s.orders),
		tickets:   maps.Clone(s.tickets),
		transfers: maps.Clone(s.transfers),
		webhooks:  maps.Clone(s.webhooks),
		refunds:   append([]domain.Refund(nil), s.refunds...),
	}
}

func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		ctx = context.WithValue(ctx, memTxKey{}, true)
	}
	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.memState = snap
		return err
	}
	return nil
}

func (s *memStore) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// setFailure makes method return err until cleared with a nil err.
func (s *memStore) setFailure(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, method)
		return
	}
	s.failOn[method] = err
}

// Seeding and inspection helpers.

func (s *memStore) addEvent(id string, startsAt time.Time) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := domain.Event{ID: id, Name: "event " + id, StartsAt: startsAt}
	s.events[id] = e
	return e
}

func (s *memStore) addTier(id, eventID string, total int, price int64, currency string) domain.TicketTier {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := domain.TicketTier{
		ID:            id,
		EventID:       eventID,
		Name:          "tier " + id,
		Price:         price,
		Currency:      currency,
		TotalQuantity: total,
		AccessLevel:   domain.AccessGeneral,
	}
	s.tiers[id] = t
	return t
}

func (s *memStore) addPromo(p domain.PromoCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promos[p.ID] = p
}

func (s *memStore) putOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *memStore) tier(id string) domain.TicketTier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tiers[id]
}

func (s *memStore) hold(id string) domain.CartHold {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holds[id]
}

func (s *memStore) order(id string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memStore) ticket(id string) domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickets[id]
}

func (s *memStore) transfer(id string) domain.TicketTransfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfers[id]
}

func (s *memStore) promo(id string) domain.PromoCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promos[id]
}

func (s *memStore) counts() (tickets, webhooks, refunds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets), len(s.webhooks), len(s.refunds)
}

func (s *memStore) refundRows() []domain.Refund {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Refund(nil), s.refunds...)
}

// InventoryLedger

func (s *memStore) TryReserve(ctx context.Context, tierID string, qty int) error {
	defer s.lock(ctx)()
	t, ok := s.tiers[tierID]
	if !ok {
		return domain.ErrTierNotFound
	}
	if t.Available() < qty {
		return domain.ErrInsufficientInventory
	}
	t.HeldQuantity += qty
	s.tiers[tierID] = t
	return nil
}

func (s *memStore) Release(ctx context.Context, tierID string, qty int) error {
	defer s.lock(ctx)()
	t, ok := s.tiers[tierID]
	if !ok {
		return domain.ErrTierNotFound
	}
	if t.HeldQuantity < qty {
		return fmt.Errorf("release %d from tier %s holding %d", qty, tierID, t.HeldQuantity)
	}
	t.HeldQuantity -= qty
	s.tiers[tierID] = t
	return nil
}

func (s *memStore) CommitSale(ctx context.Context, tierID string, qty int) error {
	defer s.lock(ctx)()
	t, ok := s.tiers[tierID]
	if !ok {
		return domain.ErrTierNotFound
	}
	if t.HeldQuantity < qty {
		return fmt.Errorf("commit %d from tier %s holding %d", qty, tierID, t.HeldQuantity)
	}
	t.HeldQuantity -= qty
	t.SoldQuantity += qty
	s.tiers[tierID] = t
	return nil
}

func (s *memStore) SellDirect(ctx context.Context, tierID string, qty int) error {
	defer s.lock(ctx)()
	t, ok := s.tiers[tierID]
	if !ok {
		return domain.ErrTierNotFound
	}
	if t.Available() < qty {
		return domain.ErrInsufficientInventory
	}
	t.SoldQuantity += qty
	s.tiers[tierID] = t
	return nil
}

func (s *memStore) GetTier(ctx context.Context, tierID string) (domain.TicketTier, error) {
	defer s.lock(ctx)()
	t, ok := s.tiers[tierID]
	if !ok {
		return domain.TicketTier{}, domain.ErrTierNotFound
	}
	return t, nil
}

func (s *memStore) ListTiersByEvent(ctx context.Context, eventID string) ([]domain.TicketTier, error) {
	defer s.lock(ctx)()
	var out []domain.TicketTier
	for _, t := range s.tiers {
		if t.EventID == eventID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Holds

func (s *memStore) CreateHold(ctx context.Context, hold domain.CartHold) error {
	defer s.lock(ctx)()
	s.holds[hold.ID] = hold
	return nil
}

func (s *memStore) GetHoldForUpdate(ctx context.Context, holdID string) (domain.CartHold, error) {
	defer s.lock(ctx)()
	h, ok := s.holds[holdID]
	if !ok {
		return domain.CartHold{}, domain.ErrHoldNotFound
	}
	return h, nil
}

func (s *memStore) ReleaseHold(ctx context.Context, holdID string, reason domain.ReleaseReason, now time.Time) (bool, error) {
	defer s.lock(ctx)()
	h, ok := s.holds[holdID]
	if !ok || h.Released {
		return false, nil
	}
	s.holds[holdID] = released(h, reason, now)
	return true, nil
}

func (s *memStore) ReleaseExpiredHolds(ctx context.Context, tierID string, now time.Time) ([]domain.CartHold, error) {
	defer s.lock(ctx)()
	var out []domain.CartHold
	for id, h := range s.holds {
		if h.Released || h.ExpiresAt.After(now) || (tierID != "" && h.TierID != tierID) {
			continue
		}
		s.holds[id] = released(h, domain.ReleaseExpired, now)
		out = append(out, h)
	}
	return out, nil
}

func released(h domain.CartHold, reason domain.ReleaseReason, now time.Time) domain.CartHold {
	h.Released = true
	h.ReleasedAt = &now
	h.ReleaseReason = reason
	return h
}

// Orders

func (s *memStore) GetHolds(ctx context.Context, holdIDs []string) ([]domain.CartHold, error) {
	defer s.lock(ctx)()
	var out []domain.CartHold
	for _, id := range holdIDs {
		if h, ok := s.holds[id]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *memStore) GetTiers(ctx context.Context, tierIDs []string) (map[string]domain.TicketTier, error) {
	defer s.lock(ctx)()
	out := make(map[string]domain.TicketTier)
	for _, id := range tierIDs {
		if t, ok := s.tiers[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (s *memStore) CreateOrder(ctx context.Context, order domain.Order) error {
	defer s.lock(ctx)()
	if err := s.failOn["CreateOrder"]; err != nil {
		return err
	}
	order.LineItems = append([]domain.LineItem(nil), order.LineItems...)
	s.orders[order.ID] = order
	return nil
}

func (s *memStore) AttachHolds(ctx context.Context, orderID, userID string, holdIDs []string, now time.Time) (int, error) {
	defer s.lock(ctx)()
	n := 0
	for _, id := range holdIDs {
		h, ok := s.holds[id]
		if !ok || h.UserID != userID || h.Released || !h.ExpiresAt.After(now) || h.OrderID != "" {
			continue
		}
		h.OrderID = orderID
		s.holds[id] = h
		n++
	}
	return n, nil
}

func (s *memStore) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	defer s.lock(ctx)()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *memStore) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return s.GetOrder(ctx, orderID)
}

func (s *memStore) FindOrderByProviderRef(ctx context.Context, providerRef string) (domain.Order, error) {
	defer s.lock(ctx)()
	for _, o := range s.orders {
		if o.ProviderRef == providerRef {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (s *memStore) TransitionOrder(ctx context.Context, orderID string, from []domain.OrderStatus, to domain.OrderStatus, now time.Time, failureReason string) (bool, error) {
	defer s.lock(ctx)()
	o, ok := s.orders[orderID]
	if !ok {
		return false, nil
	}
	matched := false
	for _, f := range from {
		if o.Status == f {
			matched = true
		}
	}
	if !matched {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = now
	if to == domain.OrderPaid {
		o.PaidAt = &now
	}
	if failureReason != "" {
		o.FailureReason = failureReason
	}
	s.orders[orderID] = o
	return true, nil
}

func (s *memStore) CloseOrderHolds(ctx context.Context, orderID string, reason domain.ReleaseReason, now time.Time) ([]domain.CartHold, error) {
	defer s.lock(ctx)()
	var out []domain.CartHold
	for id, h := range s.holds {
		if h.OrderID != orderID || h.Released {
			continue
		}
		s.holds[id] = released(h, reason, now)
		out = append(out, h)
	}
	return out, nil
}

func (s *memStore) IncrementPromoUsage(ctx context.Context, promoID string) (bool, error) {
	defer s.lock(ctx)()
	p, ok := s.promos[promoID]
	if !ok || (p.MaxUses != nil && p.UsedCount >= *p.MaxUses) {
		return false, nil
	}
	p.UsedCount++
	s.promos[promoID] = p
	return true, nil
}

// Promos

func (s *memStore) FindPromoByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	defer s.lock(ctx)()
	for _, p := range s.promos {
		if strings.EqualFold(p.Code, code) {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *memStore) HasActiveRedemption(ctx context.Context, promoID, eventID, userID string) (bool, error) {
	defer s.lock(ctx)()
	for _, o := range s.orders {
		if o.PromoCodeID != promoID || o.EventID != eventID || o.UserID != userID {
			continue
		}
		if o.Status != domain.OrderFailed && o.Status != domain.OrderCancelled {
			return true, nil
		}
	}
	return false, nil
}

// Tickets

func (s *memStore) ListTicketsByOrder(ctx context.Context, orderID string) ([]domain.Ticket, error) {
	defer s.lock(ctx)()
	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TierID != out[j].TierID {
			return out[i].TierID < out[j].TierID
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func (s *memStore) InsertTickets(ctx context.Context, tickets []domain.Ticket) error {
	defer s.lock(ctx)()
	if err := s.failOn["InsertTickets"]; err != nil {
		return err
	}
	for _, t := range tickets {
		dup := false
		for _, e := range s.tickets {
			if e.OrderID == t.OrderID && e.TierID == t.TierID && e.Sequence == t.Sequence {
				dup = true
				break
			}
		}
		if !dup {
			s.tickets[t.ID] = t
		}
	}
	return nil
}

func (s *memStore) GetTicketForUpdate(ctx context.Context, ticketID string) (domain.Ticket, error) {
	defer s.lock(ctx)()
	t, ok := s.tickets[ticketID]
	if !ok {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	return t, nil
}

func (s *memStore) MarkTicketUsed(ctx context.Context, ticketID, userID string, now time.Time) (bool, error) {
	defer s.lock(ctx)()
	t, ok := s.tickets[ticketID]
	if !ok || t.UserID != userID || t.Status != domain.TicketActive {
		return false, nil
	}
	t.Status = domain.TicketUsed
	t.UsedAt = &now
	s.tickets[ticketID] = t
	return true, nil
}

// Transfers

func (s *memStore) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	defer s.lock(ctx)()
	e, ok := s.events[eventID]
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return e, nil
}

func (s *memStore) ExpirePendingTransfers(ctx context.Context, ticketID string, now time.Time) (int, error) {
	defer s.lock(ctx)()
	n := 0
	for id, tr := range s.transfers {
		if tr.Status != domain.TransferPending || tr.ExpiresAt.After(now) || (ticketID != "" && tr.TicketID != ticketID) {
			continue
		}
		tr.Status = domain.TransferExpired
		tr.RespondedAt = &now
		s.transfers[id] = tr
		n++
	}
	return n, nil
}

func (s *memStore) CreateTransfer(ctx context.Context, t domain.TicketTransfer) error {
	defer s.lock(ctx)()
	for _, tr := range s.transfers {
		if tr.TicketID == t.TicketID && tr.Status == domain.TransferPending {
			return domain.ErrTransferAlreadyPending
		}
	}
	s.transfers[t.ID] = t
	return nil
}

func (s *memStore) GetTransferForUpdate(ctx context.Context, transferID string) (domain.TicketTransfer, error) {
	defer s.lock(ctx)()
	tr, ok := s.transfers[transferID]
	if !ok {
		return domain.TicketTransfer{}, domain.ErrTransferNotFound
	}
	return tr, nil
}

func (s *memStore) CloseTransfer(ctx context.Context, transferID string, status domain.TransferStatus, now time.Time) (bool, error) {
	defer s.lock(ctx)()
	tr, ok := s.transfers[transferID]
	if !ok || tr.Status != domain.TransferPending {
		return false, nil
	}
	tr.Status = status
	tr.RespondedAt = &now
	s.transfers[transferID] = tr
	return true, nil
}

func (s *memStore) ReassignTicket(ctx context.Context, ticketID, fromUserID, toUserID, qrToken string) (bool, error) {
	defer s.lock(ctx)()
	t, ok := s.tickets[ticketID]
	if !ok || t.UserID != fromUserID || t.Status != domain.TicketActive {
		return false, nil
	}
	t.UserID = toUserID
	t.QRToken = qrToken
	s.tickets[ticketID] = t
	return true, nil
}

// Refunds

func (s *memStore) SumRefunded(ctx context.Context, orderID string) (int64, error) {
	defer s.lock(ctx)()
	var sum int64
	for _, r := range s.refunds {
		if r.OrderID == orderID {
			sum += r.Amount
		}
	}
	return sum, nil
}

func (s *memStore) RefundTickets(ctx context.Context, orderID string, ticketIDs []string) (int, error) {
	defer s.lock(ctx)()
	n := 0
	for _, id := range ticketIDs {
		t, ok := s.tickets[id]
		if !ok || t.OrderID != orderID || t.Status != domain.TicketActive {
			continue
		}
		t.Status = domain.TicketRefunded
		s.tickets[id] = t
		n++
	}
	return n, nil
}

func (s *memStore) CancelPendingTransfers(ctx context.Context, ticketIDs []string, now time.Time) (int, error) {
	defer s.lock(ctx)()
	n := 0
	for id, tr := range s.transfers {
		if tr.Status != domain.TransferPending {
			continue
		}
		for _, tid := range ticketIDs {
			if tr.TicketID == tid {
				tr.Status = domain.TransferCancelled
				tr.RespondedAt = &now
				s.transfers[id] = tr
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *memStore) InsertRefund(ctx context.Context, r domain.Refund) (bool, error) {
	defer s.lock(ctx)()
	if r.ProviderRefundID != "" {
		for i, e := range s.refunds {
			if e.ProviderRefundID != r.ProviderRefundID {
				continue
			}
			if e.Source == domain.RefundSourceProvider && r.Source == domain.RefundSourceAPI {
				e.ID, e.Reason, e.TicketIDs, e.Source = r.ID, r.Reason, r.TicketIDs, r.Source
				s.refunds[i] = e
				return true, nil
			}
			return false, nil
		}
	}
	s.refunds = append(s.refunds, r)
	return true, nil
}

// Webhooks

func (s *memStore) RecordWebhookEvent(ctx context.Context, e domain.WebhookEvent) (bool, error) {
	defer s.lock(ctx)()
	if _, ok := s.webhooks[e.ProviderEventID]; ok {
		return false, nil
	}
	s.webhooks[e.ProviderEventID] = e
	return true, nil
}

// fakePayments records provider calls.
type fakePayments struct {
	mu        sync.Mutex
	intents   []payment.PaymentIntentRequest
	refunds   []payment.RefundRequest
	intentErr error
	refundErr error
}

func (f *fakePayments) CreatePaymentIntent(ctx context.Context, req payment.PaymentIntentRequest) (payment.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.intentErr != nil {
		return payment.PaymentIntent{}, f.intentErr
	}
	f.intents = append(f.intents, req)
	return payment.PaymentIntent{
		ID:           fmt.Sprintf("pi_%d", len(f.intents)),
		ClientSecret: fmt.Sprintf("pi_%d_secret", len(f.intents)),
		Status:       "requires_payment_method",
	}, nil
}

func (f *fakePayments) Refund(ctx context.Context, req payment.RefundRequest) (payment.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return payment.RefundResult{}, f.refundErr
	}
	f.refunds = append(f.refunds, req)
	return payment.RefundResult{
		ID:     fmt.Sprintf("re_%d", len(f.refunds)),
		Amount: req.Amount,
		Status: "succeeded",
	}, nil
}

type publishedEvent struct {
	topic string
	key   string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic: topic, key: key})
	return nil
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.topic)
	}
	return out
}

func (p *recordingPublisher) count(topic string) int {
	n := 0
	for _, t := range p.topics() {
		if t == topic {
			n++
		}
	}
	return n
}
