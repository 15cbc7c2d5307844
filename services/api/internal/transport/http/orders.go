package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/tixora/tixora/services/api/internal/app"
	"github.com/tixora/tixora/services/api/internal/domain"
)

type validatePromoRequest struct {
	Code    string `json:"code" validate:"required"`
	EventID string `json:"event_id" validate:"required"`
}

type validatePromoResponse struct {
	Valid         bool            `json:"valid"`
	Code          string          `json:"code"`
	DiscountType  string          `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
}

type createOrderRequest struct {
	EventID   string            `json:"event_id" validate:"required"`
	HoldIDs   []string          `json:"hold_ids" validate:"required,min=1,dive,required"`
	PromoCode string            `json:"promo_code,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type lineItemResponse struct {
	TierID    string `json:"tier_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type orderResponse struct {
	ID            string             `json:"id"`
	UserID        string             `json:"user_id"`
	EventID       string             `json:"event_id"`
	Status        string             `json:"status"`
	LineItems     []lineItemResponse `json:"line_items"`
	Subtotal      int64              `json:"subtotal"`
	Discount      int64              `json:"discount"`
	Total         int64              `json:"total"`
	Currency      string             `json:"currency"`
	FailureReason string             `json:"failure_reason,omitempty"`
	Metadata      map[string]string  `json:"metadata,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	PaidAt        *time.Time         `json:"paid_at,omitempty"`
	// ClientSecret is only returned when the order is created.
	ClientSecret string `json:"client_secret,omitempty"`
}

func newOrderResponse(o domain.Order) orderResponse {
	items := make([]lineItemResponse, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, lineItemResponse{TierID: li.TierID, Quantity: li.Quantity, UnitPrice: li.UnitPrice})
	}
	return orderResponse{
		ID:            o.ID,
		UserID:        o.UserID,
		EventID:       o.EventID,
		Status:        string(o.Status),
		LineItems:     items,
		Subtotal:      o.Subtotal,
		Discount:      o.Discount,
		Total:         o.Total,
		Currency:      o.Currency,
		FailureReason: o.FailureReason,
		Metadata:      o.Metadata,
		CreatedAt:     o.CreatedAt,
		PaidAt:        o.PaidAt,
	}
}

func (h *Handler) validatePromo(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req validatePromoRequest
	if !h.decode(w, r, &req) {
		return
	}
	promo, err := h.promos.Validate(r.Context(), app.ValidatePromoInput{
		Code:    req.Code,
		EventID: req.EventID,
		UserID:  userID,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, validatePromoResponse{
		Valid:         true,
		Code:          promo.Code,
		DiscountType:  string(promo.DiscountType),
		DiscountValue: promo.DiscountValue,
	})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.orders.CreateOrder(r.Context(), app.CreateOrderInput{
		UserID:    userID,
		EventID:   req.EventID,
		HoldIDs:   req.HoldIDs,
		PromoCode: req.PromoCode,
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	resp := newOrderResponse(res.Order)
	resp.ClientSecret = res.ClientSecret
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), mux.Vars(r)["orderID"])
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if order.UserID != userID {
		writeServiceError(w, r, h.logger, domain.ErrOrderNotOwned)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	order, err := h.orders.CancelOrder(r.Context(), mux.Vars(r)["orderID"], userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}
