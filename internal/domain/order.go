package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	MinWordCount = 100
	MaxWordCount = 5000
)

var (
	// ErrValidation is returned when caller supplied data is at fault.
	// It's always recoverable locally and never changes state.
	ErrValidation = errors.New("validation failed")
)

// validate is safe for concurrent use and caches struct metadata,
// so one instance serves the whole package.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Order is a single customer request for generated content, tracked
// through payment and production.
type Order struct {
	ID                   int64     `json:"id"`
	Topic                string    `json:"topic"`
	WordCount            int       `json:"word_count"`
	Status               Status    `json:"status"`
	Price                int64     `json:"price"`
	APICost              *int64    `json:"api_cost,omitempty"`
	Content              *string   `json:"content,omitempty"`
	CustomerEmail        string    `json:"customer_email"`
	PaymentReference     *string   `json:"payment_reference,omitempty"`
	PaymentInitiationRef string    `json:"payment_initiation_ref"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Clone returns a deep copy, pointer fields included.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.APICost != nil {
		v := *o.APICost
		c.APICost = &v
	}
	if o.Content != nil {
		v := *o.Content
		c.Content = &v
	}
	if o.PaymentReference != nil {
		v := *o.PaymentReference
		c.PaymentReference = &v
	}
	return &c
}

// HasResult reports whether the generation result has been recorded.
func (o *Order) HasResult() bool {
	return o.Content != nil && o.APICost != nil
}

// OrderDraft is everything needed to persist a brand new order.
// Price and PaymentInitiationRef are filled in by the controller.
type OrderDraft struct {
	Topic                string `json:"topic" validate:"required,max=500"`
	WordCount            int    `json:"word_count" validate:"gte=100,lte=5000"`
	CustomerEmail        string `json:"customer_email" validate:"required,email,max=254"`
	Price                int64  `json:"price" validate:"gte=0"`
	PaymentInitiationRef string `json:"payment_initiation_ref" validate:"required"`
}

// Normalize trims the free text fields in place.
func (d *OrderDraft) Normalize() {
	d.Topic = strings.TrimSpace(d.Topic)
	d.CustomerEmail = strings.TrimSpace(d.CustomerEmail)
}

// Validate checks the draft against its validation tags.
//   - valid draft returns nil
//   - invalid draft returns an error wrapping ErrValidation with the failed fields
//   - internal validator errors are wrapped and returned as is
func (d *OrderDraft) Validate() error {
	return validateStruct(d)
}

// OrderUpdate lists the mutable fields of an order, nil means untouched.
// ExpectStatus turns the update into a compare-and-swap on the status.
type OrderUpdate struct {
	Status           *Status
	PaymentReference *string
	Content          *string
	APICost          *int64
	ExpectStatus     *Status
}

// Validate enforces that content and cost travel together.
func (u OrderUpdate) Validate() error {
	if (u.Content == nil) != (u.APICost == nil) {
		return fmt.Errorf("%w: content and api cost must be set together", ErrValidation)
	}
	if u.PaymentReference != nil && strings.TrimSpace(*u.PaymentReference) == "" {
		return fmt.Errorf("%w: payment reference must not be empty", ErrValidation)
	}
	return nil
}

// Stats is the administrative summary of all orders.
type Stats struct {
	TotalOrders   int64 `json:"total_orders"`
	PendingOrders int64 `json:"pending_orders"`
	TotalRevenue  int64 `json:"total_revenue"`
}

func validateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("internal validator error: %w", err)
		}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q check", field, fe.Tag())
	}
}
