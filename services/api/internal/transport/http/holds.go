package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tixora/tixora/services/api/internal/app"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type createHoldRequest struct {
	TierID   string `json:"tier_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type holdResponse struct {
	ID        string    `json:"id"`
	TierID    string    `json:"tier_id"`
	Quantity  int       `json:"quantity"`
	ExpiresAt time.Time `json:"expires_at"`
}

type availabilityResponse struct {
	TierID    string `json:"tier_id"`
	Total     int    `json:"total"`
	Sold      int    `json:"sold"`
	Held      int    `json:"held"`
	Available int    `json:"available"`
}

func (h *Handler) createHold(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createHoldRequest
	if !h.decode(w, r, &req) {
		return
	}

	hold, err := h.holds.CreateHold(r.Context(), app.CreateHoldInput{
		UserID:   userID,
		TierID:   req.TierID,
		Quantity: req.Quantity,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newHoldResponse(hold))
}

func (h *Handler) releaseHold(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.holds.ReleaseHold(r.Context(), mux.Vars(r)["holdID"], userID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) tierAvailability(w http.ResponseWriter, r *http.Request) {
	tier, err := h.holds.Availability(r.Context(), mux.Vars(r)["tierID"])
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		TierID:    tier.ID,
		Total:     tier.TotalQuantity,
		Sold:      tier.SoldQuantity,
		Held:      tier.HeldQuantity,
		Available: tier.Available(),
	})
}

func newHoldResponse(hold domain.CartHold) holdResponse {
	return holdResponse{
		ID:        hold.ID,
		TierID:    hold.TierID,
		Quantity:  hold.Quantity,
		ExpiresAt: hold.ExpiresAt,
	}
}
