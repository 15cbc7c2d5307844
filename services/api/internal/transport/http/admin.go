package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/tixora/tixora/services/api/internal/app"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type createEventRequest struct {
	Name     string     `json:"name" validate:"required"`
	StartsAt *time.Time `json:"starts_at,omitempty"`
}

type eventResponse struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	StartsAt time.Time `json:"starts_at"`
}

type createTierRequest struct {
	Name          string `json:"name" validate:"required"`
	Price         int64  `json:"price" validate:"gte=0"`
	Currency      string `json:"currency" validate:"required,len=3,alpha"`
	TotalQuantity int    `json:"total_quantity" validate:"gt=0"`
	AccessLevel   string `json:"access_level,omitempty" validate:"omitempty,oneof=general vip crew"`
}

type tierResponse struct {
	ID            string `json:"id"`
	EventID       string `json:"event_id"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	Currency      string `json:"currency"`
	TotalQuantity int    `json:"total_quantity"`
	SoldQuantity  int    `json:"sold_quantity"`
	HeldQuantity  int    `json:"held_quantity"`
	Available     int    `json:"available"`
	AccessLevel   string `json:"access_level"`
}

type createPromoRequest struct {
	Code          string          `json:"code" validate:"required,max=64"`
	EventID       string          `json:"event_id,omitempty"`
	DiscountType  string          `json:"discount_type" validate:"required,oneof=percentage fixed"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	MaxUses       *int            `json:"max_uses,omitempty" validate:"omitempty,gt=0"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

type promoResponse struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	EventID       string          `json:"event_id,omitempty"`
	DiscountType  string          `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	MaxUses       *int            `json:"max_uses,omitempty"`
	UsedCount     int             `json:"used_count"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

func newEventResponse(e domain.Event) eventResponse {
	return eventResponse{ID: e.ID, Name: e.Name, StartsAt: e.StartsAt}
}

func newTierResponse(t domain.TicketTier) tierResponse {
	return tierResponse{
		ID:            t.ID,
		EventID:       t.EventID,
		Name:          t.Name,
		Price:         t.Price,
		Currency:      t.Currency,
		TotalQuantity: t.TotalQuantity,
		SoldQuantity:  t.SoldQuantity,
		HeldQuantity:  t.HeldQuantity,
		Available:     t.Available(),
		AccessLevel:   string(t.AccessLevel),
	}
}

func newPromoResponse(p domain.PromoCode) promoResponse {
	return promoResponse{
		ID:            p.ID,
		Code:          p.Code,
		EventID:       p.EventID,
		DiscountType:  string(p.DiscountType),
		DiscountValue: p.DiscountValue,
		MaxUses:       p.MaxUses,
		UsedCount:     p.UsedCount,
		ExpiresAt:     p.ExpiresAt,
	}
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.admin.ListEvents(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	resp := make([]eventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, newEventResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	event, err := h.admin.CreateEvent(r.Context(), app.CreateEventInput{
		Name:     req.Name,
		StartsAt: req.StartsAt,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newEventResponse(event))
}

func (h *Handler) listTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.admin.ListTiers(r.Context(), mux.Vars(r)["eventID"])
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	resp := make([]tierResponse, 0, len(tiers))
	for _, t := range tiers {
		resp = append(resp, newTierResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createTier(w http.ResponseWriter, r *http.Request) {
	var req createTierRequest
	if !h.decode(w, r, &req) {
		return
	}
	tier, err := h.admin.CreateTier(r.Context(), app.CreateTierInput{
		EventID:       mux.Vars(r)["eventID"],
		Name:          req.Name,
		Price:         req.Price,
		Currency:      req.Currency,
		TotalQuantity: req.TotalQuantity,
		AccessLevel:   domain.AccessLevel(req.AccessLevel),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTierResponse(tier))
}

func (h *Handler) createPromoCode(w http.ResponseWriter, r *http.Request) {
	var req createPromoRequest
	if !h.decode(w, r, &req) {
		return
	}
	promo, err := h.admin.CreatePromoCode(r.Context(), app.CreatePromoInput{
		Code:          req.Code,
		EventID:       req.EventID,
		DiscountType:  domain.DiscountType(req.DiscountType),
		DiscountValue: req.DiscountValue,
		MaxUses:       req.MaxUses,
		ExpiresAt:     req.ExpiresAt,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPromoResponse(promo))
}
