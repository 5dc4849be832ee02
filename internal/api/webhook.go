package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goinginblind/scribe/internal/payment"
	"github.com/goinginblind/scribe/internal/pkg/metrics"
)

type webhookAck struct {
	Received bool `json:"received"`
}

// paymentWebhook authenticates the gateway callback before anything else
// is looked at. Once authenticated it is always acknowledged: a failure
// on our side is logged, telling the gateway won't fix it.
func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.PaymentWebhooks.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	secret, err := s.webhookSecret(r)
	if err != nil {
		metrics.PaymentWebhooks.WithLabelValues("error").Inc()
		s.serverError(w, r, err)
		return
	}
	if secret == "" {
		metrics.PaymentWebhooks.WithLabelValues("error").Inc()
		s.logger.Errorw("Payment webhook received but no webhook secret is configured")
		writeError(w, http.StatusServiceUnavailable, "webhook not configured")
		return
	}

	ev, err := s.verifier.Verify(payload, r.Header.Get(payment.SignatureHeader), secret)
	switch {
	case err == nil:
	case errors.Is(err, payment.ErrSignature):
		metrics.PaymentWebhooks.WithLabelValues("rejected").Inc()
		s.logger.Warnw("Rejected payment webhook", "error", err, "remote", r.RemoteAddr)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	case errors.Is(err, payment.ErrUnhandledEvent):
		metrics.PaymentWebhooks.WithLabelValues("ignored").Inc()
		s.logger.Debugw("Ignoring payment event", "error", err)
		writeJSON(w, http.StatusOK, webhookAck{Received: true})
		return
	default:
		metrics.PaymentWebhooks.WithLabelValues("malformed").Inc()
		s.logger.Warnw("Verified payment event could not be used", "error", err)
		writeJSON(w, http.StatusOK, webhookAck{Received: true})
		return
	}

	if err := s.orders.HandlePaymentEvent(r.Context(), ev); err != nil {
		metrics.PaymentWebhooks.WithLabelValues("error").Inc()
		s.logger.Errorw("Payment event handling failed",
			"event_id", ev.ID,
			"kind", ev.Kind,
			"order_reference", ev.OrderReference,
			"error", err,
		)
	} else {
		metrics.PaymentWebhooks.WithLabelValues("accepted").Inc()
	}
	writeJSON(w, http.StatusOK, webhookAck{Received: true})
}

func (s *Server) webhookSecret(r *http.Request) (string, error) {
	if s.opts.WebhookSecret != "" {
		return s.opts.WebhookSecret, nil
	}
	return s.settings.WebhookSecret(r.Context())
}
