package domain

// PaymentEventKind is the normalized outcome reported by the payment gateway.
type PaymentEventKind string

const (
	PaymentSucceeded PaymentEventKind = "payment_succeeded"
	PaymentFailed    PaymentEventKind = "payment_failed"
)

// PaymentEvent is a verified, provider neutral payment notification.
// OrderReference is either the numeric order id or the payment
// initiation reference handed out at order creation.
type PaymentEvent struct {
	ID               string           `json:"id"`
	Kind             PaymentEventKind `json:"kind"`
	OrderReference   string           `json:"order_reference"`
	PaymentReference string           `json:"payment_reference"`
}
