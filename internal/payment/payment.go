// Package payment verifies payment gateway webhooks and turns them into
// domain.PaymentEvent values.
package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goinginblind/scribe/internal/domain"
)

var (
	// ErrSignature means the payload can't be trusted and must be rejected
	// before anything looks at its content.
	ErrSignature = errors.New("invalid payment signature")
	// ErrUnhandledEvent is a verified event of a type nobody cares about.
	ErrUnhandledEvent = errors.New("unhandled payment event")
	// ErrMalformedEvent is a verified event missing data we need.
	ErrMalformedEvent = errors.New("malformed payment event")
)

var eventKinds = map[string]domain.PaymentEventKind{
	"checkout.session.completed":            domain.PaymentSucceeded,
	"payment_intent.succeeded":              domain.PaymentSucceeded,
	"checkout.session.async_payment_failed": domain.PaymentFailed,
	"payment_intent.payment_failed":         domain.PaymentFailed,
	"checkout.session.expired":              domain.PaymentFailed,
}

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID                string            `json:"id"`
			Object            string            `json:"object"`
			ClientReferenceID string            `json:"client_reference_id"`
			PaymentIntent     string            `json:"payment_intent"`
			Metadata          map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// Verifier checks webhook signatures against a shared secret.
type Verifier struct {
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a Verifier. Zero tolerance disables the timestamp check.
func NewVerifier(tolerance time.Duration) *Verifier {
	return &Verifier{tolerance: tolerance, now: time.Now}
}

// Verify authenticates payload and normalizes it. Signature problems are
// ErrSignature, verified events that need no action are ErrUnhandledEvent.
func (v *Verifier) Verify(payload []byte, signatureHeader, secret string) (domain.PaymentEvent, error) {
	if err := verifySignature(payload, signatureHeader, secret, v.tolerance, v.now()); err != nil {
		return domain.PaymentEvent{}, err
	}
	return parseEvent(payload)
}

func parseEvent(payload []byte) (domain.PaymentEvent, error) {
	var raw webhookEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	kind, ok := eventKinds[raw.Type]
	if !ok {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %q", ErrUnhandledEvent, raw.Type)
	}

	obj := raw.Data.Object
	ev := domain.PaymentEvent{
		ID:             raw.ID,
		Kind:           kind,
		OrderReference: strings.TrimSpace(obj.ClientReferenceID),
	}
	if ev.OrderReference == "" {
		ev.OrderReference = strings.TrimSpace(obj.Metadata["order_id"])
	}
	if ev.OrderReference == "" {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %s has no order reference", ErrMalformedEvent, raw.Type)
	}

	// A checkout session points at the payment intent that settled it,
	// the intent is the stable id for refunds and lookups.
	ev.PaymentReference = obj.PaymentIntent
	if ev.PaymentReference == "" {
		ev.PaymentReference = obj.ID
	}
	if kind == domain.PaymentSucceeded && ev.PaymentReference == "" {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %s has no payment reference", ErrMalformedEvent, raw.Type)
	}
	return ev, nil
}
