package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/tixora/tixora/services/api/internal/domain"
)

const (
	codeMethodNotAllowed      = "method_not_allowed"
	codeNotFound              = "not_found"
	codeInvalidRequestBody    = "invalid_request_body"
	codeValidationFailed      = "validation_failed"
	codeMissingUser           = "missing_user"
	codeInvalidID             = "invalid_id"
	codeInvalidRequest        = "invalid_request"
	codeEventNameRequired     = "event_name_required"
	codeTierNameRequired      = "tier_name_required"
	codeInvalidQuantity       = "invalid_quantity"
	codeInvalidCapacity       = "invalid_capacity"
	codeInvalidPrice          = "invalid_price"
	codeCurrencyMismatch      = "currency_mismatch"
	codeEventNotFound         = "event_not_found"
	codeEventStarted          = "event_started"
	codeTierNotFound          = "tier_not_found"
	codeInsufficientInventory = "insufficient_inventory"
	codeHoldNotFound          = "hold_not_found"
	codeHoldExpired           = "hold_expired"
	codeHoldUnavailable       = "hold_unavailable"
	codeInvalidPromoCode      = "invalid_promo_code"
	codeOrderNotFound         = "order_not_found"
	codeOrderStateConflict    = "order_state_conflict"
	codeOrderNotPaid          = "order_not_paid"
	codeTicketNotFound        = "ticket_not_found"
	codeTicketNotActive       = "ticket_not_active"
	codeTicketTokenInvalid    = "ticket_token_invalid"
	codeTransferNotFound      = "transfer_not_found"
	codeTransferExpired       = "transfer_expired"
	codeTransferPending       = "transfer_already_pending"
	codeTransferNotPending    = "transfer_not_pending"
	codeTransferToSelf        = "transfer_to_self"
	codeRefundIneligible      = "refund_ineligible"
	codeSignatureInvalid      = "webhook_signature_invalid"
	codePayloadInvalid        = "webhook_payload_invalid"
	codePaymentProvider       = "payment_provider_error"
	codeForbidden             = "forbidden"
	codeInternalError         = "internal_error"
)

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeErrorResponse(w, status, errorResponse{Error: msg, Code: code})
}

func writeErrorResponse(w http.ResponseWriter, status int, resp errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(resp)
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorMappings is checked in order with errors.Is; the first match wins.
var errorMappings = []errorMapping{
	{domain.ErrInvalidID, http.StatusBadRequest, codeInvalidID},
	{domain.ErrInvalidQuantity, http.StatusBadRequest, codeInvalidQuantity},
	{domain.ErrInvalidRequest, http.StatusBadRequest, codeInvalidRequest},
	{domain.ErrEventNameRequired, http.StatusBadRequest, codeEventNameRequired},
	{domain.ErrTierNameRequired, http.StatusBadRequest, codeTierNameRequired},
	{domain.ErrInvalidCapacity, http.StatusBadRequest, codeInvalidCapacity},
	{domain.ErrInvalidPrice, http.StatusBadRequest, codeInvalidPrice},
	{domain.ErrCurrencyMismatch, http.StatusBadRequest, codeCurrencyMismatch},
	{domain.ErrTransferToSelf, http.StatusBadRequest, codeTransferToSelf},

	{domain.ErrEventNotFound, http.StatusNotFound, codeEventNotFound},
	{domain.ErrTierNotFound, http.StatusNotFound, codeTierNotFound},
	{domain.ErrHoldNotFound, http.StatusNotFound, codeHoldNotFound},
	{domain.ErrOrderNotFound, http.StatusNotFound, codeOrderNotFound},
	{domain.ErrTicketNotFound, http.StatusNotFound, codeTicketNotFound},
	{domain.ErrTransferNotFound, http.StatusNotFound, codeTransferNotFound},

	{domain.ErrHoldNotOwned, http.StatusForbidden, codeForbidden},
	{domain.ErrOrderNotOwned, http.StatusForbidden, codeForbidden},
	{domain.ErrTransferNotAuthorized, http.StatusForbidden, codeForbidden},
	{domain.ErrTicketTokenInvalid, http.StatusUnauthorized, codeTicketTokenInvalid},

	{domain.ErrInsufficientInventory, http.StatusConflict, codeInsufficientInventory},
	{domain.ErrHoldUnavailable, http.StatusConflict, codeHoldUnavailable},
	{domain.ErrOrderStateConflict, http.StatusConflict, codeOrderStateConflict},
	{domain.ErrOrderNotPaid, http.StatusConflict, codeOrderNotPaid},
	{domain.ErrTicketNotActive, http.StatusConflict, codeTicketNotActive},
	{domain.ErrTransferAlreadyPending, http.StatusConflict, codeTransferPending},
	{domain.ErrTransferNotPending, http.StatusConflict, codeTransferNotPending},
	{domain.ErrEventStarted, http.StatusConflict, codeEventStarted},

	{domain.ErrHoldExpired, http.StatusGone, codeHoldExpired},
	{domain.ErrTransferExpired, http.StatusGone, codeTransferExpired},

	{domain.ErrRefundIneligible, http.StatusUnprocessableEntity, codeRefundIneligible},

	{domain.ErrWebhookSignatureInvalid, http.StatusBadRequest, codeSignatureInvalid},
	{domain.ErrWebhookPayloadInvalid, http.StatusBadRequest, codePayloadInvalid},

	{domain.ErrPaymentProvider, http.StatusBadGateway, codePaymentProvider},
}

// writeServiceError maps a service error onto a status and code. Unknown
// errors are logged and reported as 500 without leaking their text.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger logrus.FieldLogger, err error) {
	var promoErr *domain.PromoError
	if errors.As(err, &promoErr) {
		writeErrorResponse(w, http.StatusUnprocessableEntity, errorResponse{
			Error:  err.Error(),
			Code:   codeInvalidPromoCode,
			Reason: string(promoErr.Reason),
		})
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			msg := err.Error()
			if m.status == http.StatusBadGateway {
				logger.WithError(err).WithField("path", r.URL.Path).Error("payment provider failure")
				msg = m.err.Error()
			}
			writeError(w, m.status, m.code, msg)
			return
		}
	}

	logger.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Error("unhandled error")
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
