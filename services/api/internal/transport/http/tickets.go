package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tixora/tixora/services/api/internal/app"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type ticketResponse struct {
	ID        string     `json:"id"`
	OrderID   string     `json:"order_id"`
	TierID    string     `json:"tier_id"`
	EventID   string     `json:"event_id"`
	UserID    string     `json:"user_id"`
	Sequence  int        `json:"sequence"`
	UnitPrice int64      `json:"unit_price"`
	QRToken   string     `json:"qr_token,omitempty"`
	Status    string     `json:"status"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type checkInRequest struct {
	QRToken string `json:"qr_token" validate:"required"`
}

type refundRequest struct {
	TicketIDs []string `json:"ticket_ids,omitempty" validate:"omitempty,dive,required"`
	Amount    *int64   `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Reason    string   `json:"reason,omitempty" validate:"max=500"`
}

type refundResponse struct {
	ID               string    `json:"id"`
	OrderID          string    `json:"order_id"`
	ProviderRefundID string    `json:"provider_refund_id"`
	Amount           int64     `json:"amount"`
	Reason           string    `json:"reason,omitempty"`
	TicketIDs        []string  `json:"ticket_ids"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

// newTicketResponses hides the QR token of tickets the viewer no longer owns.
func newTicketResponses(tickets []domain.Ticket, viewer string) []ticketResponse {
	out := make([]ticketResponse, 0, len(tickets))
	for _, t := range tickets {
		resp := ticketResponse{
			ID:        t.ID,
			OrderID:   t.OrderID,
			TierID:    t.TierID,
			EventID:   t.EventID,
			UserID:    t.UserID,
			Sequence:  t.Sequence,
			UnitPrice: t.UnitPrice,
			Status:    string(t.Status),
			UsedAt:    t.UsedAt,
			CreatedAt: t.CreatedAt,
		}
		if t.UserID == viewer {
			resp.QRToken = t.QRToken
		}
		out = append(out, resp)
	}
	return out
}

// ownedOrder loads the path's order and checks the caller placed it.
func (h *Handler) ownedOrder(w http.ResponseWriter, r *http.Request) (domain.Order, string, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return domain.Order{}, "", false
	}
	order, err := h.orders.GetOrder(r.Context(), mux.Vars(r)["orderID"])
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return domain.Order{}, "", false
	}
	if order.UserID != userID {
		writeServiceError(w, r, h.logger, domain.ErrOrderNotOwned)
		return domain.Order{}, "", false
	}
	return order, userID, true
}

func (h *Handler) issueTickets(w http.ResponseWriter, r *http.Request) {
	order, userID, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	tickets, err := h.tickets.IssueForOrder(r.Context(), order.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newTicketResponses(tickets, userID))
}

func (h *Handler) listTickets(w http.ResponseWriter, r *http.Request) {
	order, userID, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	tickets, err := h.tickets.ListTickets(r.Context(), order.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newTicketResponses(tickets, userID))
}

func (h *Handler) checkIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if !h.decode(w, r, &req) {
		return
	}
	ticket, err := h.tickets.CheckIn(r.Context(), req.QRToken)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newTicketResponses([]domain.Ticket{ticket}, "")[0])
}

func (h *Handler) refundOrder(w http.ResponseWriter, r *http.Request) {
	order, _, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if !h.decode(w, r, &req) {
		return
	}
	refund, err := h.refunds.Refund(r.Context(), app.RefundInput{
		OrderID:   order.ID,
		TicketIDs: req.TicketIDs,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, refundResponse{
		ID:               refund.ID,
		OrderID:          refund.OrderID,
		ProviderRefundID: refund.ProviderRefundID,
		Amount:           refund.Amount,
		Reason:           refund.Reason,
		TicketIDs:        refund.TicketIDs,
		Status:           string(refund.Status),
		CreatedAt:        refund.CreatedAt,
	})
}
