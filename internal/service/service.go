package service

import (
	"context"
	"errors"

	"github.com/goinginblind/scribe/internal/domain"
	"github.com/goinginblind/scribe/internal/generation"
)

// ErrNotProcessable is returned when an operator asks to process an
// order that is not waiting for processing.
var ErrNotProcessable = errors.New("order is not awaiting processing")

// OrderStore is the persistence contract of the controller. It's
// implemented by store.DBStore and store.MemoryStore.
type OrderStore interface {
	Create(ctx context.Context, d domain.OrderDraft) (*domain.Order, error)
	Get(ctx context.Context, id int64) (*domain.Order, error)
	GetByPaymentReference(ctx context.Context, ref string) (*domain.Order, error)
	GetByInitiationRef(ctx context.Context, ref string) (*domain.Order, error)
	Update(ctx context.Context, id int64, u domain.OrderUpdate) (*domain.Order, error)
	List(ctx context.Context, f domain.ListFilter) (*domain.OrderPage, error)
	Stats(ctx context.Context) (*domain.Stats, error)
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.Order, error)
}

// SettingsStore persists the administrator settings.
type SettingsStore interface {
	GetSettings(ctx context.Context) (domain.Settings, error)
	SaveSettingsSection(ctx context.Context, name string, s domain.Settings) error
}

// SettingsSource hands out a settings snapshot.
type SettingsSource interface {
	Current(ctx context.Context) (domain.Settings, error)
}

// Generator produces the text of an order.
type Generator interface {
	Generate(ctx context.Context, topic string, wordCount int) (generation.Result, error)
}

// Notifier delivers customer notifications. It never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, mail domain.MailSettings, to string, kind domain.NotificationKind, data domain.NotificationData)
}

// OrderService is the order lifecycle contract used by the api and
// consumer packages.
type OrderService interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error)
	HandlePaymentEvent(ctx context.Context, ev domain.PaymentEvent) error
	ProcessOrder(ctx context.Context, id int64) error
	RequeueOrder(ctx context.Context, id int64) error
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	ListOrders(ctx context.Context, f domain.ListFilter) (*domain.OrderPage, error)
	GetStats(ctx context.Context) (*domain.Stats, error)
}

// CreateOrderInput is what a customer submits.
type CreateOrderInput struct {
	Topic         string `json:"topic"`
	WordCount     int    `json:"word_count"`
	CustomerEmail string `json:"customer_email"`
}

// CreateOrderResult is what the customer needs to go and pay.
type CreateOrderResult struct {
	OrderID                    int64  `json:"order_id"`
	PaymentInitiationReference string `json:"payment_initiation_reference"`
	Price                      int64  `json:"price"`
	Currency                   string `json:"currency"`
}
