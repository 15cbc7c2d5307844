package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/tixora/tixora/services/api/internal/domain"
	"github.com/tixora/tixora/services/api/internal/payment"
)

type webhookResponse struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate"`
}

// paymentWebhook hands the raw body to the processor; the signature covers
// the exact bytes so the body is never decoded here.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	res, err := h.webhooks.HandleEvent(r.Context(), r.Header.Get(payment.SignatureHeader), body)
	if err != nil {
		h.writeWebhookError(w, r, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"event_id":  res.EventID,
		"type":      res.Type,
		"order_id":  res.OrderID,
		"duplicate": res.Duplicate,
	}).Info("payment webhook processed")
	writeJSON(w, http.StatusOK, webhookResponse{Received: true, Duplicate: res.Duplicate})
}

// writeWebhookError answers 400 only for deliveries that can never succeed.
// Anything else is a 500 so the provider redelivers.
func (h *Handler) writeWebhookError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrWebhookSignatureInvalid):
		writeError(w, http.StatusBadRequest, codeSignatureInvalid, err.Error())
	case errors.Is(err, domain.ErrWebhookPayloadInvalid):
		writeError(w, http.StatusBadRequest, codePayloadInvalid, err.Error())
	default:
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("payment webhook failed, asking for redelivery")
		writeError(w, http.StatusInternalServerError, codeInternalError, "webhook processing failed")
	}
}
