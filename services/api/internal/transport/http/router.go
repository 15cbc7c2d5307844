package http

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/tixora/tixora/services/api/internal/app"
	"github.com/tixora/tixora/services/api/internal/domain"
)

// AdminService is the organizer surface: events, tiers and promo codes.
type AdminService interface {
	CreateEvent(ctx context.Context, in app.CreateEventInput) (domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
	CreateTier(ctx context.Context, in app.CreateTierInput) (domain.TicketTier, error)
	ListTiers(ctx context.Context, eventID string) ([]domain.TicketTier, error)
	CreatePromoCode(ctx context.Context, in app.CreatePromoInput) (domain.PromoCode, error)
}

type HoldService interface {
	CreateHold(ctx context.Context, in app.CreateHoldInput) (domain.CartHold, error)
	ReleaseHold(ctx context.Context, holdID, userID string) error
	Availability(ctx context.Context, tierID string) (domain.TicketTier, error)
}

type PromoService interface {
	Validate(ctx context.Context, in app.ValidatePromoInput) (domain.PromoCode, error)
}

type OrderService interface {
	CreateOrder(ctx context.Context, in app.CreateOrderInput) (app.CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID, userID string) (domain.Order, error)
}

type TicketService interface {
	IssueForOrder(ctx context.Context, orderID string) ([]domain.Ticket, error)
	ListTickets(ctx context.Context, orderID string) ([]domain.Ticket, error)
	CheckIn(ctx context.Context, token string) (domain.Ticket, error)
}

type RefundService interface {
	Refund(ctx context.Context, in app.RefundInput) (domain.Refund, error)
}

type TransferService interface {
	CreateTransfer(ctx context.Context, in app.CreateTransferInput) (domain.TicketTransfer, error)
	Respond(ctx context.Context, in app.RespondTransferInput) (domain.TicketTransfer, error)
	CancelTransfer(ctx context.Context, transferID, userID string) (domain.TicketTransfer, error)
}

type WebhookProcessor interface {
	HandleEvent(ctx context.Context, signature string, body []byte) (app.WebhookResult, error)
}

type Deps struct {
	Admin     AdminService
	Holds     HoldService
	Promos    PromoService
	Orders    OrderService
	Tickets   TicketService
	Refunds   RefundService
	Transfers TransferService
	Webhooks  WebhookProcessor
	Logger    logrus.FieldLogger
}

type Handler struct {
	admin     AdminService
	holds     HoldService
	promos    PromoService
	orders    OrderService
	tickets   TicketService
	refunds   RefundService
	transfers TransferService
	webhooks  WebhookProcessor
	validate  *validator.Validate
	logger    logrus.FieldLogger
}

// NewRouter wires every route onto a gorilla/mux router with request
// logging. CORS is applied by the caller around the returned handler.
func NewRouter(deps Deps) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Handler{
		admin:     deps.Admin,
		holds:     deps.Holds,
		promos:    deps.Promos,
		orders:    deps.Orders,
		tickets:   deps.Tickets,
		refunds:   deps.Refunds,
		transfers: deps.Transfers,
		webhooks:  deps.Webhooks,
		validate:  newValidator(),
		logger:    logger,
	}

	r := mux.NewRouter()
	r.Use(RequestLogger(logger))
	r.NotFoundHandler = NotFoundHandler()
	r.MethodNotAllowedHandler = MethodNotAllowedHandler()

	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)

	r.HandleFunc("/admin/events", h.listEvents).Methods(http.MethodGet)
	r.HandleFunc("/admin/events", h.createEvent).Methods(http.MethodPost)
	r.HandleFunc("/admin/events/{eventID}/tiers", h.listTiers).Methods(http.MethodGet)
	r.HandleFunc("/admin/events/{eventID}/tiers", h.createTier).Methods(http.MethodPost)
	r.HandleFunc("/admin/promo-codes", h.createPromoCode).Methods(http.MethodPost)

	r.HandleFunc("/tiers/{tierID}/availability", h.tierAvailability).Methods(http.MethodGet)
	r.HandleFunc("/holds", h.createHold).Methods(http.MethodPost)
	r.HandleFunc("/holds/{holdID}", h.releaseHold).Methods(http.MethodDelete)
	r.HandleFunc("/promo-codes/validate", h.validatePromo).Methods(http.MethodPost)

	r.HandleFunc("/orders", h.createOrder).Methods(http.MethodPost)
	r.HandleFunc("/orders/{orderID}", h.getOrder).Methods(http.MethodGet)
	r.HandleFunc("/orders/{orderID}/cancel", h.cancelOrder).Methods(http.MethodPost)
	r.HandleFunc("/orders/{orderID}/tickets", h.issueTickets).Methods(http.MethodPost)
	r.HandleFunc("/orders/{orderID}/tickets", h.listTickets).Methods(http.MethodGet)
	r.HandleFunc("/orders/{orderID}/refunds", h.refundOrder).Methods(http.MethodPost)

	r.HandleFunc("/webhooks/payments", h.paymentWebhook).Methods(http.MethodPost)

	r.HandleFunc("/transfers", h.createTransfer).Methods(http.MethodPost)
	r.HandleFunc("/transfers/{transferID}/respond", h.respondTransfer).Methods(http.MethodPost)
	r.HandleFunc("/transfers/{transferID}/cancel", h.cancelTransfer).Methods(http.MethodPost)
	r.HandleFunc("/tickets/check-in", h.checkIn).Methods(http.MethodPost)

	return r
}
