// Package notify delivers customer notifications. Delivery failures are
// logged and counted, they never reach the caller.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/goinginblind/scribe/internal/domain"
	"github.com/goinginblind/scribe/internal/pkg/logger"
	"github.com/goinginblind/scribe/internal/pkg/metrics"
)

const defaultTimeout = 15 * time.Second

// Outcome labels of metrics.NotificationsTotal.
const (
	resultSent    = "sent"
	resultSkipped = "skipped"
	resultInvalid = "invalid"
	resultFailed  = "failed"
)

// DeliveryError describes a notification that could not be delivered.
type DeliveryError struct {
	Kind domain.NotificationKind
	To   string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering %s notification to %s: %v", e.Kind, e.To, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Notifier renders and sends notifications.
type Notifier struct {
	sender     Sender
	logger     logger.Logger
	production bool
	timeout    time.Duration
	templates  map[domain.NotificationKind]mailTemplate
}

// New creates a Notifier. Outside production an unconfigured mail host
// turns every notification into a logged no-op.
func New(sender Sender, logger logger.Logger, production bool, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Notifier{
		sender:     sender,
		logger:     logger,
		production: production,
		timeout:    timeout,
		templates:  parseTemplates(),
	}
}

// Notify sends a notification of the given kind to one recipient using
// the mail settings of the caller's snapshot.
func (n *Notifier) Notify(ctx context.Context, mail domain.MailSettings, to string, kind domain.NotificationKind, data domain.NotificationData) {
	defer func() {
		if r := recover(); r != nil {
			n.report(&DeliveryError{Kind: kind, To: to, Err: fmt.Errorf("panic: %v", r)}, resultFailed)
		}
	}()

	if err := kind.Validate(data); err != nil {
		n.report(&DeliveryError{Kind: kind, To: to, Err: err}, resultInvalid)
		return
	}

	if !mail.Configured() {
		if !n.production {
			metrics.NotificationsTotal.WithLabelValues(string(kind), resultSkipped).Inc()
			n.logger.Infow("Mail transport not configured, skipping notification",
				"kind", kind,
				"to", to,
				"order_id", data[domain.FieldOrderID],
			)
			return
		}
		n.report(&DeliveryError{Kind: kind, To: to, Err: fmt.Errorf("mail host is not configured")}, resultFailed)
		return
	}

	subject, body, err := n.templates[kind].render(data)
	if err != nil {
		n.report(&DeliveryError{Kind: kind, To: to, Err: err}, resultInvalid)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	err = n.sender.Send(sendCtx, mail, Message{
		From:    mail.Sender,
		To:      to,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		n.report(&DeliveryError{Kind: kind, To: to, Err: err}, resultFailed)
		return
	}

	metrics.NotificationsTotal.WithLabelValues(string(kind), resultSent).Inc()
	n.logger.Infow("Notification sent", "kind", kind, "to", to, "order_id", data[domain.FieldOrderID])
}

func (n *Notifier) report(err *DeliveryError, result string) {
	metrics.NotificationsTotal.WithLabelValues(string(err.Kind), result).Inc()
	n.logger.Errorw("Notification delivery failed", "kind", err.Kind, "to", err.To, "result", result, "error", err)
}
