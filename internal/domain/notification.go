package domain

import (
	"errors"
	"fmt"
	"strings"
)

// NotificationKind is the closed set of customer notifications.
type NotificationKind string

const (
	NotifyOrderReceived      NotificationKind = "order_received"
	NotifyGenerationStarted  NotificationKind = "generation_started"
	NotifyGenerationComplete NotificationKind = "generation_complete"
	NotifyGenerationFailed   NotificationKind = "generation_failed"
	NotifyPaymentFailed      NotificationKind = "payment_failed"
)

// Keys used in NotificationData.
const (
	FieldOrderID   = "order_id"
	FieldTopic     = "topic"
	FieldWordCount = "word_count"
	FieldPrice     = "price"
	FieldPreview   = "preview"
	FieldViewURL   = "view_url"
	FieldReason    = "reason"
)

// ErrInvalidNotification flags a payload that breaks its kind's contract.
var ErrInvalidNotification = errors.New("invalid notification")

// NotificationData is the template data of a notification.
type NotificationData map[string]string

// requiredFields is the per-kind payload contract.
var requiredFields = map[NotificationKind][]string{
	NotifyOrderReceived:      {FieldOrderID, FieldTopic, FieldWordCount, FieldPrice},
	NotifyGenerationStarted:  {FieldOrderID, FieldTopic},
	NotifyGenerationComplete: {FieldOrderID, FieldTopic, FieldPreview, FieldViewURL},
	NotifyGenerationFailed:   {FieldOrderID, FieldTopic, FieldReason},
	NotifyPaymentFailed:      {FieldOrderID, FieldTopic},
}

// NotificationKinds lists every kind, stable order.
func NotificationKinds() []NotificationKind {
	return []NotificationKind{
		NotifyOrderReceived,
		NotifyGenerationStarted,
		NotifyGenerationComplete,
		NotifyGenerationFailed,
		NotifyPaymentFailed,
	}
}

// RequiredFields returns the keys a payload of kind k must carry.
func (k NotificationKind) RequiredFields() []string {
	return append([]string(nil), requiredFields[k]...)
}

// Validate checks the kind is known and data carries its required fields.
func (k NotificationKind) Validate(data NotificationData) error {
	fields, ok := requiredFields[k]
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidNotification, k)
	}
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(data[f]) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s is missing %s", ErrInvalidNotification, k, strings.Join(missing, ", "))
	}
	return nil
}
