package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tixora/tixora/services/api/internal/domain"
)

// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>" where the HMAC
// is SHA-256 over "<t>.<raw body>" keyed by the webhook secret.
const SignatureHeader = "Payment-Signature"

const (
	EventCheckoutCompleted = "checkout.completed"
	EventPaymentSucceeded  = "payment_intent.succeeded"
	EventPaymentFailed     = "payment_intent.payment_failed"
	EventChargeRefunded    = "charge.refunded"
)

// eventAliases maps the flat type names some providers send onto the
// dotted names handled here.
var eventAliases = map[string]string{
	"checkout_completed": EventCheckoutCompleted,
	"payment_succeeded":  EventPaymentSucceeded,
	"payment_failed":     EventPaymentFailed,
	"charge_refunded":    EventChargeRefunded,
}

type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

type EventData struct {
	PaymentIntentID string            `json:"payment_intent_id"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	FailureReason   string            `json:"failure_reason"`
	RefundID        string            `json:"refund_id"`
	AmountRefunded  int64             `json:"amount_refunded"`
	Metadata        map[string]string `json:"metadata"`
}

// OrderID returns the order id the intent was opened for, if echoed back.
func (d EventData) OrderID() string {
	return d.Metadata["order_id"]
}

func ParseEvent(body []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, fmt.Errorf("%w: %v", domain.ErrWebhookPayloadInvalid, err)
	}
	if evt.ID == "" || evt.Type == "" {
		return Event{}, fmt.Errorf("%w: missing id or type", domain.ErrWebhookPayloadInvalid)
	}
	if canonical, ok := eventAliases[evt.Type]; ok {
		evt.Type = canonical
	}
	return evt, nil
}

type Verifier struct {
	secret    []byte
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance}
}

// Verify checks header against body. Deliveries whose timestamp is further
// than the tolerance from now are rejected to limit replays.
func (v *Verifier) Verify(body []byte, header string, now time.Time) error {
	if len(v.secret) == 0 {
		return domain.ErrWebhookSignatureInvalid
	}
	ts, sigs := parseSignatureHeader(header)
	if ts == "" || len(sigs) == 0 {
		return domain.ErrWebhookSignatureInvalid
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return domain.ErrWebhookSignatureInvalid
	}
	if v.tolerance > 0 {
		skew := now.Sub(time.Unix(unix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.tolerance {
			return domain.ErrWebhookSignatureInvalid
		}
	}
	expected := computeSignature(v.secret, ts, body)
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return domain.ErrWebhookSignatureInvalid
}

// SignPayload builds a signature header value for body at ts.
func SignPayload(secret string, body []byte, ts time.Time) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + hex.EncodeToString(computeSignature([]byte(secret), t, body))
}

func computeSignature(secret []byte, ts string, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(body)
	return h.Sum(nil)
}

func parseSignatureHeader(header string) (string, []string) {
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	return ts, sigs
}
