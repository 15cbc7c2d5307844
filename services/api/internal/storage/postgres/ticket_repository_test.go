package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tixora/tixora/services/api/internal/domain"
	"github.com/tixora/tixora/services/api/internal/testutil"
)

func testTickets(order domain.Order, n int) []domain.Ticket {
	now := time.Now().UTC()
	out := make([]domain.Ticket, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Ticket{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			TierID:    order.LineItems[0].TierID,
			EventID:   order.EventID,
			UserID:    order.UserID,
			Sequence:  i + 1,
			UnitPrice: order.LineItems[0].UnitPrice,
			QRToken:   "token-" + uuid.NewString(),
			Status:    domain.TicketActive,
			CreatedAt: now,
		})
	}
	return out
}

func TestTicketRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewTicketRepository(pool)
	orders := NewOrderRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	t.Run("InsertTickets skips existing sequences", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		eventID := testutil.InsertEvent(t, ctx, pool, "Concert", time.Now().Add(24*time.Hour))
		tierID := testutil.InsertTier(t, ctx, pool, eventID, "Floor", 5000, "EUR", 10)
		order := insertTestOrder(t, ctx, orders, eventID, tierID, "user-1", "", 3)

		if err := repo.InsertTickets(ctx, testTickets(order, 3)); err != nil {
			t.Fatalf("insert tickets: %v", err)
		}
		if err := repo.InsertTickets(ctx, testTickets(order, 3)); err != nil {
			t.Fatalf("re-insert tickets: %v", err)
		}

		tickets, err := repo.ListTicketsByOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("list tickets: %v", err)
		}
		if len(tickets) != 3 {
			t.Fatalf("expected 3 tickets, got %d", len(tickets))
		}
		for i, tk := range tickets {
			if tk.Sequence != i+1 || tk.Status != domain.TicketActive {
				t.Fatalf("unexpected ticket %d: %+v", i, tk)
			}
		}
	})

	t.Run("MarkTicketUsed requires the current owner", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		eventID := testutil.InsertEvent(t, ctx, pool, "Concert", time.Now().Add(24*time.Hour))
		tierID := testutil.InsertTier(t, ctx, pool, eventID, "Floor", 5000, "EUR", 10)
		order := insertTestOrder(t, ctx, orders, eventID, tierID, "user-1", "", 1)
		tickets := testTickets(order, 1)
		if err := repo.InsertTickets(ctx, tickets); err != nil {
			t.Fatalf("insert tickets: %v", err)
		}
		now := time.Now().UTC()

		ok, err := repo.MarkTicketUsed(ctx, tickets[0].ID, "user-2", now)
		if err != nil || ok {
			t.Fatalf("expected foreign user rejected, got %v %v", ok, err)
		}
		ok, err = repo.MarkTicketUsed(ctx, tickets[0].ID, "user-1", now)
		if err != nil || !ok {
			t.Fatalf("expected check-in, got %v %v", ok, err)
		}
		ok, err = repo.MarkTicketUsed(ctx, tickets[0].ID, "user-1", now)
		if err != nil || ok {
			t.Fatalf("expected second check-in rejected, got %v %v", ok, err)
		}

		got, err := repo.GetTicketForUpdate(ctx, tickets[0].ID)
		if err != nil {
			t.Fatalf("get ticket: %v", err)
		}
		if got.Status != domain.TicketUsed || got.UsedAt == nil {
			t.Fatalf("unexpected ticket: %+v", got)
		}
	})
}

func TestTransferRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewTransferRepository(pool)
	tickets := NewTicketRepository(pool)
	orders := NewOrderRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	setup := func(t *testing.T, ctx context.Context) domain.Ticket {
		t.Helper()
		testutil.TruncateAll(t, ctx, pool)
		eventID := testutil.InsertEvent(t, ctx, pool, "Concert", time.Now().Add(24*time.Hour))
		tierID := testutil.InsertTier(t, ctx, pool, eventID, "Floor", 5000, "EUR", 10)
		order := insertTestOrder(t, ctx, orders, eventID, tierID, "user-1", "", 1)
		issued := testTickets(order, 1)
		if err := tickets.InsertTickets(ctx, issued); err != nil {
			t.Fatalf("insert tickets: %v", err)
		}
		return issued[0]
	}
	newTransfer := func(ticketID string, expiresAt time.Time) domain.TicketTransfer {
		return domain.TicketTransfer{
			ID:         uuid.NewString(),
			TicketID:   ticketID,
			FromUserID: "user-1",
			ToUserID:   "user-2",
			Status:     domain.TransferPending,
			ExpiresAt:  expiresAt,
			CreatedAt:  time.Now().UTC(),
		}
	}

	t.Run("one pending transfer per ticket", func(t *testing.T) {
		ctx := context.Background()
		ticket := setup(t, ctx)

		first := newTransfer(ticket.ID, time.Now().Add(time.Hour))
		if err := repo.CreateTransfer(ctx, first); err != nil {
			t.Fatalf("create transfer: %v", err)
		}
		if err := repo.CreateTransfer(ctx, newTransfer(ticket.ID, time.Now().Add(time.Hour))); err != domain.ErrTransferAlreadyPending {
			t.Fatalf("expected ErrTransferAlreadyPending, got %v", err)
		}

		ok, err := repo.CloseTransfer(ctx, first.ID, domain.TransferDeclined, time.Now())
		if err != nil || !ok {
			t.Fatalf("expected decline, got %v %v", ok, err)
		}
		if err := repo.CreateTransfer(ctx, newTransfer(ticket.ID, time.Now().Add(time.Hour))); err != nil {
			t.Fatalf("expected new transfer after decline, got %v", err)
		}

		got, err := repo.GetTransferForUpdate(ctx, first.ID)
		if err != nil {
			t.Fatalf("get transfer: %v", err)
		}
		if got.Status != domain.TransferDeclined || got.RespondedAt == nil {
			t.Fatalf("unexpected transfer: %+v", got)
		}
		if _, err := repo.GetTransferForUpdate(ctx, uuid.NewString()); err != domain.ErrTransferNotFound {
			t.Fatalf("expected ErrTransferNotFound, got %v", err)
		}
	})

	t.Run("ExpirePendingTransfers and ReassignTicket", func(t *testing.T) {
		ctx := context.Background()
		ticket := setup(t, ctx)
		now := time.Now().UTC()

		stale := newTransfer(ticket.ID, now.Add(-time.Minute))
		if err := repo.CreateTransfer(ctx, stale); err != nil {
			t.Fatalf("create transfer: %v", err)
		}
		n, err := repo.ExpirePendingTransfers(ctx, ticket.ID, now)
		if err != nil || n != 1 {
			t.Fatalf("expected 1 expired, got %d %v", n, err)
		}

		ok, err := repo.ReassignTicket(ctx, ticket.ID, "user-1", "user-2", "new-token")
		if err != nil || !ok {
			t.Fatalf("expected reassignment, got %v %v", ok, err)
		}
		ok, err = repo.ReassignTicket(ctx, ticket.ID, "user-1", "user-3", "other-token")
		if err != nil || ok {
			t.Fatalf("expected stale owner rejected, got %v %v", ok, err)
		}

		got, err := repo.GetTicketForUpdate(ctx, ticket.ID)
		if err != nil {
			t.Fatalf("get ticket: %v", err)
		}
		if got.UserID != "user-2" || got.QRToken != "new-token" {
			t.Fatalf("unexpected ticket: %+v", got)
		}
	})
}

func TestRefundRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewRefundRepository(pool)
	tickets := NewTicketRepository(pool)
	transfers := NewTransferRepository(pool)
	orders := NewOrderRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	ctx := context.Background()
	testutil.TruncateAll(t, ctx, pool)
	eventID := testutil.InsertEvent(t, ctx, pool, "Concert", time.Now().Add(24*time.Hour))
	tierID := testutil.InsertTier(t, ctx, pool, eventID, "Floor", 5000, "EUR", 10)
	order := insertTestOrder(t, ctx, orders, eventID, tierID, "user-1", "", 4)
	issued := testTickets(order, 4)
	if err := tickets.InsertTickets(ctx, issued); err != nil {
		t.Fatalf("insert tickets: %v", err)
	}
	pending := domain.TicketTransfer{
		ID:         uuid.NewString(),
		TicketID:   issued[0].ID,
		FromUserID: "user-1",
		ToUserID:   "user-2",
		Status:     domain.TransferPending,
		ExpiresAt:  time.Now().Add(time.Hour),
		CreatedAt:  time.Now(),
	}
	if err := transfers.CreateTransfer(ctx, pending); err != nil {
		t.Fatalf("create transfer: %v", err)
	}

	refunded := []string{issued[0].ID, issued[1].ID}
	n, err := repo.RefundTickets(ctx, order.ID, refunded)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 tickets refunded, got %d %v", n, err)
	}
	n, err = repo.RefundTickets(ctx, order.ID, refunded)
	if err != nil || n != 0 {
		t.Fatalf("expected refund to be idempotent, got %d %v", n, err)
	}
	n, err = repo.CancelPendingTransfers(ctx, refunded, time.Now())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 transfer cancelled, got %d %v", n, err)
	}

	refund := domain.Refund{
		ID:               uuid.NewString(),
		OrderID:          order.ID,
		ProviderRefundID: "re_1",
		Amount:           10000,
		TicketIDs:        refunded,
		Status:           domain.RefundSucceeded,
		Source:           domain.RefundSourceAPI,
		CreatedAt:        time.Now(),
	}
	ok, err := repo.InsertRefund(ctx, refund)
	if err != nil || !ok {
		t.Fatalf("expected refund recorded, got %v %v", ok, err)
	}
	refund.ID = uuid.NewString()
	ok, err = repo.InsertRefund(ctx, refund)
	if err != nil || ok {
		t.Fatalf("expected duplicate provider refund skipped, got %v %v", ok, err)
	}

	total, err := repo.SumRefunded(ctx, order.ID)
	if err != nil || total != 10000 {
		t.Fatalf("expected 10000 refunded, got %d %v", total, err)
	}

	webhookRow := domain.Refund{
		ID:               uuid.NewString(),
		OrderID:          order.ID,
		ProviderRefundID: "re_2",
		Amount:           500,
		Status:           domain.RefundSucceeded,
		Source:           domain.RefundSourceProvider,
		CreatedAt:        time.Now(),
	}
	if ok, err := repo.InsertRefund(ctx, webhookRow); err != nil || !ok {
		t.Fatalf("expected provider refund recorded, got %v %v", ok, err)
	}
	apiRow := webhookRow
	apiRow.ID = uuid.NewString()
	apiRow.Source = domain.RefundSourceAPI
	apiRow.Reason = "requested_by_customer"
	apiRow.TicketIDs = refunded
	if ok, err := repo.InsertRefund(ctx, apiRow); err != nil || !ok {
		t.Fatalf("expected api refund to take over provider row, got %v %v", ok, err)
	}
	var (
		source    string
		ticketIDs []string
	)
	err = pool.QueryRow(ctx, `SELECT source, ticket_ids::text[] FROM refunds WHERE provider_refund_id = 're_2'`).Scan(&source, &ticketIDs)
	if err != nil || source != string(domain.RefundSourceAPI) || len(ticketIDs) != len(refunded) {
		t.Fatalf("expected api row with tickets, got %s %v %v", source, ticketIDs, err)
	}
	webhookRow.ID = uuid.NewString()
	if ok, err := repo.InsertRefund(ctx, webhookRow); err != nil || ok {
		t.Fatalf("expected late provider row skipped, got %v %v", ok, err)
	}
	total, err = repo.SumRefunded(ctx, order.ID)
	if err != nil || total != 10500 {
		t.Fatalf("expected 10500 refunded, got %d %v", total, err)
	}
}

func TestWebhookRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewWebhookRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	ctx := context.Background()
	testutil.TruncateAll(t, ctx, pool)
	event := domain.WebhookEvent{ProviderEventID: "evt_1", Type: "payment_intent.succeeded", ProcessedAt: time.Now()}

	first, err := repo.RecordWebhookEvent(ctx, event)
	if err != nil || !first {
		t.Fatalf("expected first delivery recorded, got %v %v", first, err)
	}
	again, err := repo.RecordWebhookEvent(ctx, event)
	if err != nil || again {
		t.Fatalf("expected redelivery detected, got %v %v", again, err)
	}

	t.Run("rolled back claims are released", func(t *testing.T) {
		rolled := domain.WebhookEvent{ProviderEventID: "evt_2", Type: "payment_intent.succeeded", ProcessedAt: time.Now()}
		errBoom := errors.New("boom")
		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			if _, err := repo.RecordWebhookEvent(txCtx, rolled); err != nil {
				return err
			}
			return errBoom
		})
		if err != errBoom {
			t.Fatalf("expected rollback error, got %v", err)
		}
		ok, err := repo.RecordWebhookEvent(ctx, rolled)
		if err != nil || !ok {
			t.Fatalf("expected retry to claim the event, got %v %v", ok, err)
		}
	})
}
