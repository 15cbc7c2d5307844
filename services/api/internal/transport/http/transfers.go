package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tixora/tixora/services/api/internal/app"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type createTransferRequest struct {
	TicketID string `json:"ticket_id" validate:"required"`
	ToUserID string `json:"to_user_id" validate:"required"`
}

type respondTransferRequest struct {
	Accept *bool `json:"accept" validate:"required"`
}

type transferResponse struct {
	ID          string     `json:"id"`
	TicketID    string     `json:"ticket_id"`
	FromUserID  string     `json:"from_user_id"`
	ToUserID    string     `json:"to_user_id"`
	Status      string     `json:"status"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

func newTransferResponse(tr domain.TicketTransfer) transferResponse {
	return transferResponse{
		ID:          tr.ID,
		TicketID:    tr.TicketID,
		FromUserID:  tr.FromUserID,
		ToUserID:    tr.ToUserID,
		Status:      string(tr.Status),
		ExpiresAt:   tr.ExpiresAt,
		CreatedAt:   tr.CreatedAt,
		RespondedAt: tr.RespondedAt,
	}
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	tr, err := h.transfers.CreateTransfer(r.Context(), app.CreateTransferInput{
		FromUserID: userID,
		ToUserID:   req.ToUserID,
		TicketID:   req.TicketID,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTransferResponse(tr))
}

func (h *Handler) respondTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req respondTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	tr, err := h.transfers.Respond(r.Context(), app.RespondTransferInput{
		TransferID: mux.Vars(r)["transferID"],
		UserID:     userID,
		Accept:     *req.Accept,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransferResponse(tr))
}

func (h *Handler) cancelTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	tr, err := h.transfers.CancelTransfer(r.Context(), mux.Vars(r)["transferID"], userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransferResponse(tr))
}
