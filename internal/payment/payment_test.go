package payment

import (
	"fmt"
	"testing"
	"time"

	"github.com/goinginblind/scribe/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

func fixedVerifier(now time.Time) *Verifier {
	v := NewVerifier(DefaultTolerance)
	v.now = func() time.Time { return now }
	return v
}

func TestVerify_Signature(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","client_reference_id":"42","payment_intent":"pi_1"}}}`)
	valid := Sign(payload, secret, now)

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		now     time.Time
		wantErr error
	}{
		{"Valid", payload, valid, secret, now, nil},
		{"Valid within tolerance", payload, valid, secret, now.Add(4 * time.Minute), nil},
		{"Extra unknown scheme", payload, valid + ",v0=abc", secret, now, nil},
		{"Tampered payload", append([]byte(" "), payload...), valid, secret, now, ErrSignature},
		{"Wrong secret", payload, valid, "whsec_other", now, ErrSignature},
		{"Empty secret", payload, valid, "", now, ErrSignature},
		{"Stale", payload, valid, secret, now.Add(6 * time.Minute), ErrSignature},
		{"From the future", payload, valid, secret, now.Add(-6 * time.Minute), ErrSignature},
		{"Empty header", payload, "", secret, now, ErrSignature},
		{"No timestamp", payload, "v1=deadbeef", secret, now, ErrSignature},
		{"No signature", payload, fmt.Sprintf("t=%d", now.Unix()), secret, now, ErrSignature},
		{"Garbage", payload, "definitely not a signature", secret, now, ErrSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fixedVerifier(tt.now).Verify(tt.payload, tt.header, tt.secret)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerify_SecondSignatureMatches(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_9","metadata":{"order_id":"9"}}}}`)
	header := fmt.Sprintf("t=%d,v1=%s,%s", now.Unix(), "00ff", Sign(payload, secret, now)[len(fmt.Sprintf("t=%d,", now.Unix())):])

	ev, err := fixedVerifier(now).Verify(payload, header, secret)
	require.NoError(t, err)
	assert.Equal(t, "9", ev.OrderReference)
}

func TestVerify_ZeroToleranceSkipsTimestampCheck(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.expired","data":{"object":{"id":"cs_1","client_reference_id":"3"}}}`)
	header := Sign(payload, secret, time.Unix(1000, 0))

	v := NewVerifier(0)
	ev, err := v.Verify(payload, header, secret)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, ev.Kind)
}

func TestVerify_Events(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)

	tests := []struct {
		name    string
		payload string
		want    domain.PaymentEvent
		wantErr error
	}{
		{
			name:    "Checkout completed",
			payload: `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","client_reference_id":"42","payment_intent":"pi_1"}}}`,
			want:    domain.PaymentEvent{ID: "evt_1", Kind: domain.PaymentSucceeded, OrderReference: "42", PaymentReference: "pi_1"},
		},
		{
			name:    "Intent succeeded with metadata reference",
			payload: `{"id":"evt_2","type":"payment_intent.succeeded","data":{"object":{"id":"pi_2","metadata":{"order_id":"0b0e6c4e-6f1a-4a8e-9d8a-2f4f5f1f0b11"}}}}`,
			want:    domain.PaymentEvent{ID: "evt_2", Kind: domain.PaymentSucceeded, OrderReference: "0b0e6c4e-6f1a-4a8e-9d8a-2f4f5f1f0b11", PaymentReference: "pi_2"},
		},
		{
			name:    "Async payment failed",
			payload: `{"id":"evt_3","type":"checkout.session.async_payment_failed","data":{"object":{"id":"cs_3","client_reference_id":"5"}}}`,
			want:    domain.PaymentEvent{ID: "evt_3", Kind: domain.PaymentFailed, OrderReference: "5", PaymentReference: "cs_3"},
		},
		{
			name:    "Intent failed",
			payload: `{"id":"evt_4","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_4","metadata":{"order_id":"6"}}}}`,
			want:    domain.PaymentEvent{ID: "evt_4", Kind: domain.PaymentFailed, OrderReference: "6", PaymentReference: "pi_4"},
		},
		{
			name:    "Unhandled type",
			payload: `{"id":"evt_5","type":"customer.created","data":{"object":{"id":"cus_1"}}}`,
			wantErr: ErrUnhandledEvent,
		},
		{
			name:    "No order reference",
			payload: `{"id":"evt_6","type":"checkout.session.completed","data":{"object":{"id":"cs_6","payment_intent":"pi_6"}}}`,
			wantErr: ErrMalformedEvent,
		},
		{
			name:    "Not JSON",
			payload: `<xml/>`,
			wantErr: ErrMalformedEvent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := []byte(tt.payload)
			ev, err := fixedVerifier(now).Verify(payload, Sign(payload, secret, now), secret)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
		})
	}
}
