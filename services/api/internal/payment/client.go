// Package payment talks to the external payment provider: payment intents,
// refunds and signed webhook deliveries.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tixora/tixora/services/api/internal/domain"
)

type PaymentIntentRequest struct {
	OrderID  string `json:"-"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	// Metadata is echoed back on webhook events for this intent.
	Metadata map[string]string `json:"metadata,omitempty"`
}

type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

type RefundRequest struct {
	PaymentIntentID string `json:"payment_intent"`
	Amount          int64  `json:"amount"`
	Reason          string `json:"reason,omitempty"`
	// IdempotencyKey makes provider-side retries of the same refund safe.
	IdempotencyKey string `json:"-"`
}

type RefundResult struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return NewClientWithHTTP(baseURL, apiKey, &http.Client{Timeout: timeout})
}

func NewClientWithHTTP(baseURL, apiKey string, hc *http.Client) *Client {
	return &Client{
		httpClient: hc,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// CreatePaymentIntent opens an intent for an order. The order id is used
// as the idempotency key so a retried checkout reuses the same intent.
func (c *Client) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error) {
	const op = "create_payment_intent"
	if req.Metadata == nil {
		req.Metadata = map[string]string{}
	}
	req.Metadata["order_id"] = req.OrderID

	var intent PaymentIntent
	if err := c.post(ctx, op, "/v1/payment_intents", req.OrderID, req, &intent); err != nil {
		return PaymentIntent{}, err
	}
	if intent.ID == "" {
		return PaymentIntent{}, &domain.ProviderError{Op: op, Err: errors.New("response missing intent id")}
	}
	return intent, nil
}

func (c *Client) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	const op = "create_refund"
	var res RefundResult
	if err := c.post(ctx, op, "/v1/refunds", req.IdempotencyKey, req, &res); err != nil {
		return RefundResult{}, err
	}
	if res.ID == "" {
		return RefundResult{}, &domain.ProviderError{Op: op, Err: errors.New("response missing refund id")}
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, op, path, idempotencyKey string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &domain.ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domain.ProviderError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.ProviderError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(respBody))),
		}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &domain.ProviderError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
