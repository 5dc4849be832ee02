package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goinginblind/scribe/internal/domain"
	"github.com/goinginblind/scribe/internal/generation"
	"github.com/goinginblind/scribe/internal/pkg/logger"
	"github.com/goinginblind/scribe/internal/pkg/metrics"
	"github.com/goinginblind/scribe/internal/store"
	"github.com/goinginblind/scribe/internal/tasks"

	"github.com/google/uuid"
)

const (
	previewLength = 200
	// customerFailureMessage is all a customer ever learns about a failed generation.
	customerFailureMessage = "We ran into a problem while writing your piece. " +
		"Our support team has been notified and will get in touch with you."
)

// Options tune the controller's processing policy.
type Options struct {
	// MaxAttempts is the number of generation calls made for one
	// processing run before the order is failed. At least one.
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Deps are the collaborators of the controller.
type Deps struct {
	Store      OrderStore
	Settings   SettingsSource
	Generator  Generator
	Notifier   Notifier
	Dispatcher tasks.Dispatcher
	Logger     logger.Logger
}

// Controller owns every status transition of an order.
//
// Transitions are serialized per order by an in-process lock and, on top
// of that, guarded in the store by a compare-and-swap on the current
// status, so duplicate or concurrent triggers can't both pass their
// precondition.
type Controller struct {
	store      OrderStore
	settings   SettingsSource
	generator  Generator
	notifier   Notifier
	dispatcher tasks.Dispatcher
	logger     logger.Logger
	opts       Options
	locks      *keyedMutex
}

var _ OrderService = (*Controller)(nil)

// New creates a new Controller.
func New(deps Deps, opts Options) *Controller {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Controller{
		store:      deps.Store,
		settings:   deps.Settings,
		generator:  deps.Generator,
		notifier:   deps.Notifier,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		opts:       opts,
		locks:      newKeyedMutex(),
	}
}

// CreateOrder validates the input, prices it with the current settings
// and stores the order in status created.
func (c *Controller) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	draft := domain.OrderDraft{
		Topic:                in.Topic,
		WordCount:            in.WordCount,
		CustomerEmail:        in.CustomerEmail,
		PaymentInitiationRef: uuid.NewString(),
	}
	draft.Normalize()
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	settings, err := c.settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	draft.Price = int64(draft.WordCount) * settings.Pricing.PricePerWord

	order, err := c.store.Create(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}

	metrics.OrdersCreated.Inc()
	c.logger.Infow("Order created",
		"order_id", order.ID,
		"word_count", order.WordCount,
		"price", order.Price,
	)
	return &CreateOrderResult{
		OrderID:                    order.ID,
		PaymentInitiationReference: order.PaymentInitiationRef,
		Price:                      order.Price,
		Currency:                   settings.Pricing.Currency,
	}, nil
}

// resolveOrder finds the order a payment event refers to, either by its
// numeric id or by the initiation reference handed out at creation.
func (c *Controller) resolveOrder(ctx context.Context, ref string) (*domain.Order, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return c.store.Get(ctx, id)
	}
	return c.store.GetByInitiationRef(ctx, ref)
}

// HandlePaymentEvent applies a verified payment event. Events for orders
// that already left status created are ignored, which makes redelivery
// and out of order delivery harmless.
func (c *Controller) HandlePaymentEvent(ctx context.Context, ev domain.PaymentEvent) error {
	found, err := c.resolveOrder(ctx, ev.OrderReference)
	if err != nil {
		metrics.PaymentEvents.WithLabelValues(string(ev.Kind), "unknown_order").Inc()
		return fmt.Errorf("resolving order %q of event %s: %w", ev.OrderReference, ev.ID, err)
	}

	var (
		order   *domain.Order
		applied bool
	)
	switch ev.Kind {
	case domain.PaymentSucceeded:
		order, applied, err = c.confirmPayment(ctx, found.ID, ev)
	case domain.PaymentFailed:
		order, applied, err = c.failPayment(ctx, found.ID, ev)
	default:
		return fmt.Errorf("unknown payment event kind %q", ev.Kind)
	}
	if err != nil {
		metrics.PaymentEvents.WithLabelValues(string(ev.Kind), "error").Inc()
		return err
	}
	if !applied {
		metrics.PaymentEvents.WithLabelValues(string(ev.Kind), "ignored").Inc()
		return nil
	}
	metrics.PaymentEvents.WithLabelValues(string(ev.Kind), "applied").Inc()

	if ev.Kind != domain.PaymentSucceeded {
		return nil
	}
	if err := c.dispatcher.Dispatch(ctx, tasks.NewProcessTask(order.ID, tasks.ReasonPaymentConfirmed)); err != nil {
		c.logger.Errorw("Failed to dispatch processing, order waits for a re-trigger",
			"order_id", order.ID,
			"error", err,
		)
		return fmt.Errorf("dispatching processing of order %d: %w", order.ID, err)
	}
	return nil
}

func (c *Controller) confirmPayment(ctx context.Context, id int64, ev domain.PaymentEvent) (*domain.Order, bool, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	ref := strings.TrimSpace(ev.PaymentReference)
	order, ok, err := c.transition(ctx, id, domain.StatusPaymentConfirmed, domain.OrderUpdate{PaymentReference: &ref})
	if err != nil || !ok {
		return nil, false, err
	}

	settings, err := c.settings.Current(ctx)
	if err != nil {
		c.logger.Errorw("Could not load settings, skipping notification", "order_id", id, "error", err)
		return order, true, nil
	}
	c.notifier.Notify(ctx, settings.Mail, order.CustomerEmail, domain.NotifyOrderReceived, domain.NotificationData{
		domain.FieldOrderID:   strconv.FormatInt(order.ID, 10),
		domain.FieldTopic:     order.Topic,
		domain.FieldWordCount: strconv.Itoa(order.WordCount),
		domain.FieldPrice:     formatMoney(order.Price, settings.Pricing.Currency),
	})
	return order, true, nil
}

func (c *Controller) failPayment(ctx context.Context, id int64, ev domain.PaymentEvent) (*domain.Order, bool, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	order, ok, err := c.transition(ctx, id, domain.StatusFailed, domain.OrderUpdate{})
	if err != nil || !ok {
		return nil, false, err
	}
	c.logger.Infow("Payment failed", "order_id", id, "event_id", ev.ID)

	c.notify(ctx, c.mailSettings(ctx, id), order, domain.NotifyPaymentFailed, nil)
	return order, true, nil
}

// transition moves order id to status to, applying u in the same write.
// It only happens when the order is in the single status that may lead
// to `to` on the lifecycle graph for this step; otherwise nothing
// changes and ok is false. Callers hold the order's lock.
func (c *Controller) transition(ctx context.Context, id int64, to domain.Status, u domain.OrderUpdate) (*domain.Order, bool, error) {
	current, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Warnw("Order vanished before transition", "order_id", id, "to", to)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("loading order %d: %w", id, err)
	}

	from := expectedPredecessor(to, u)
	if current.Status != from {
		c.logger.Infow("Order already advanced, ignoring trigger",
			"order_id", id,
			"status", current.Status,
			"wanted", to,
		)
		return current, false, nil
	}
	if err := domain.CheckTransition(from, to); err != nil {
		return nil, false, err
	}

	u.Status = to.Ptr()
	u.ExpectStatus = from.Ptr()
	updated, err := c.store.Update(ctx, id, u)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrStatusConflict):
		c.logger.Infow("Lost status race, ignoring trigger", "order_id", id, "wanted", to)
		return nil, false, nil
	case errors.Is(err, store.ErrNotFound):
		c.logger.Warnw("Update of unknown order ignored", "order_id", id, "to", to)
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("moving order %d to %s: %w", id, to, err)
	}

	metrics.OrderTransitions.WithLabelValues(string(from), string(to)).Inc()
	c.logger.Infow("Order status changed", "order_id", id, "from", from, "to", to)
	return updated, true, nil
}

// expectedPredecessor names the status an order must be in for this
// step. Failed is reached from different statuses: from created when
// payment fails, from processing when generation fails.
func expectedPredecessor(to domain.Status, u domain.OrderUpdate) domain.Status {
	switch to {
	case domain.StatusPaymentConfirmed:
		return domain.StatusCreated
	case domain.StatusProcessing:
		return domain.StatusPaymentConfirmed
	case domain.StatusComplete:
		return domain.StatusProcessing
	case domain.StatusFailed:
		if u.ExpectStatus != nil {
			return *u.ExpectStatus
		}
		return domain.StatusCreated
	default:
		return ""
	}
}

// ProcessOrder generates the content of a paid order. Orders that are not
// in status payment_confirmed are left alone, so duplicate triggers end up
// calling the generator once.
//
// Once the order is moved to processing, the run is no longer tied to
// ctx's cancellation: only this run can move the order out of processing,
// so it always finishes. Every generation call is bounded by the
// generator's own timeout.
func (c *Controller) ProcessOrder(ctx context.Context, id int64) error {
	unlock := c.locks.Lock(id)
	order, ok, err := c.transition(ctx, id, domain.StatusProcessing, domain.OrderUpdate{})
	unlock()
	if err != nil || !ok {
		return err
	}

	ctx = context.WithoutCancel(ctx)
	mail := c.mailSettings(ctx, id)

	c.notify(ctx, mail, order, domain.NotifyGenerationStarted, nil)

	res, genErr := c.generate(ctx, order)
	if genErr != nil {
		c.logger.Errorw("Generation failed, failing order",
			"order_id", id,
			"attempts", c.opts.MaxAttempts,
			"error", genErr,
		)
		return c.finishFailed(ctx, mail, order)
	}
	return c.finishComplete(ctx, mail, order, res.Text, res.CostUnits)
}

func (c *Controller) generate(ctx context.Context, order *domain.Order) (generation.Result, error) {
	for attempt := 1; ; attempt++ {
		res, err := c.generator.Generate(ctx, order.Topic, order.WordCount)
		if err == nil || attempt >= c.opts.MaxAttempts {
			return res, err
		}

		c.logger.Warnw("Generation attempt failed, retrying",
			"order_id", order.ID,
			"attempt", attempt,
			"retry_in", c.opts.RetryBackoff,
			"error", err,
		)
		time.Sleep(c.opts.RetryBackoff)
	}
}

func (c *Controller) finishComplete(ctx context.Context, mail *domain.MailSettings, order *domain.Order, text string, cost int64) error {
	unlock := c.locks.Lock(order.ID)
	done, ok, err := c.transition(ctx, order.ID, domain.StatusComplete, domain.OrderUpdate{
		Content: &text,
		APICost: &cost,
	})
	unlock()
	if err != nil {
		c.logger.Errorw("Could not record generation result, order left in processing", "order_id", order.ID, "error", err)
		return err
	}
	if !ok || mail == nil {
		return nil
	}

	c.notify(ctx, mail, done, domain.NotifyGenerationComplete, domain.NotificationData{
		domain.FieldPreview: preview(text, previewLength),
		domain.FieldViewURL: viewURL(mail.AppBaseURL, done.ID),
	})
	return nil
}

func (c *Controller) finishFailed(ctx context.Context, mail *domain.MailSettings, order *domain.Order) error {
	unlock := c.locks.Lock(order.ID)
	failed, ok, err := c.transition(ctx, order.ID, domain.StatusFailed, domain.OrderUpdate{
		ExpectStatus: domain.StatusProcessing.Ptr(),
	})
	unlock()
	if err != nil {
		c.logger.Errorw("Could not fail order, order left in processing", "order_id", order.ID, "error", err)
		return err
	}
	if !ok {
		return nil
	}

	c.notify(ctx, mail, failed, domain.NotifyGenerationFailed, domain.NotificationData{
		domain.FieldReason: customerFailureMessage,
	})
	return nil
}

// mailSettings returns the current mail settings, or nil when they can't
// be loaded, in which case the caller's notifications are skipped.
func (c *Controller) mailSettings(ctx context.Context, id int64) *domain.MailSettings {
	settings, err := c.settings.Current(ctx)
	if err != nil {
		c.logger.Errorw("Could not load settings, skipping notifications", "order_id", id, "error", err)
		return nil
	}
	return &settings.Mail
}

// notify sends kind to the order's customer with the common fields
// filled in, extra adds or overrides fields. A nil mail sends nothing.
func (c *Controller) notify(ctx context.Context, mail *domain.MailSettings, order *domain.Order, kind domain.NotificationKind, extra domain.NotificationData) {
	if mail == nil {
		return
	}
	data := domain.NotificationData{
		domain.FieldOrderID: strconv.FormatInt(order.ID, 10),
		domain.FieldTopic:   order.Topic,
	}
	for k, v := range extra {
		data[k] = v
	}
	c.notifier.Notify(ctx, *mail, order.CustomerEmail, kind, data)
}

// RequeueOrder dispatches processing of a paid order again. It's the
// operator's way to re-trigger an order whose dispatch got lost.
func (c *Controller) RequeueOrder(ctx context.Context, id int64) error {
	order, err := c.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("getting order %d: %w", id, err)
	}
	if order.Status != domain.StatusPaymentConfirmed {
		return fmt.Errorf("%w: order %d is %s", ErrNotProcessable, id, order.Status)
	}
	if err := c.dispatcher.Dispatch(ctx, tasks.NewProcessTask(id, tasks.ReasonOperator)); err != nil {
		return fmt.Errorf("dispatching processing of order %d: %w", id, err)
	}
	c.logger.Infow("Order requeued by operator", "order_id", id)
	return nil
}

// RecoverPending re-dispatches up to limit orders that were paid but
// never picked up, e.g. because the process died with tasks still queued.
func (c *Controller) RecoverPending(ctx context.Context, limit int) (int, error) {
	orders, err := c.store.ListByStatus(ctx, domain.StatusPaymentConfirmed, limit)
	if err != nil {
		return 0, fmt.Errorf("listing paid orders: %w", err)
	}

	dispatched := 0
	for _, o := range orders {
		if err := c.dispatcher.Dispatch(ctx, tasks.NewProcessTask(o.ID, tasks.ReasonRecovery)); err != nil {
			c.logger.Errorw("Failed to re-dispatch paid order", "order_id", o.ID, "error", err)
			continue
		}
		dispatched++
	}
	if len(orders) > 0 {
		c.logger.Infow("Re-dispatched paid orders", "found", len(orders), "dispatched", dispatched)
	}
	return dispatched, nil
}

// GetOrder retrieves an order by id.
func (c *Controller) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	return order, nil
}

// ListOrders returns one page of the administrative listing.
func (c *Controller) ListOrders(ctx context.Context, f domain.ListFilter) (*domain.OrderPage, error) {
	page, err := c.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return page, nil
}

// GetStats returns the administrative totals.
func (c *Controller) GetStats(ctx context.Context) (*domain.Stats, error) {
	st, err := c.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("computing stats: %w", err)
	}
	return st, nil
}

// preview cuts text to at most n runes, on a word boundary when possible.
func preview(text string, n int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:n])
	if i := strings.LastIndexAny(cut, " \n\t"); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}

func viewURL(base string, id int64) string {
	return fmt.Sprintf("%s/orders/%d", strings.TrimRight(base, "/"), id)
}

// formatMoney renders minor units, e.g. 2500 usd is "25.00 USD".
func formatMoney(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, strings.ToUpper(currency))
}
