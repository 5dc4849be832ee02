package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goinginblind/scribe/internal/domain"
	"github.com/goinginblind/scribe/internal/generation"
	"github.com/goinginblind/scribe/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var solarPanels = CreateOrderInput{Topic: "solar panels", WordCount: 500, CustomerEmail: "a@b.com"}

func succeeded(orderID int64, paymentRef string) domain.PaymentEvent {
	return domain.PaymentEvent{
		ID:               "evt_" + paymentRef,
		Kind:             domain.PaymentSucceeded,
		OrderReference:   strconv.FormatInt(orderID, 10),
		PaymentReference: paymentRef,
	}
}

func failed(orderID int64) domain.PaymentEvent {
	return domain.PaymentEvent{
		ID:             "evt_failed",
		Kind:           domain.PaymentFailed,
		OrderReference: strconv.FormatInt(orderID, 10),
	}
}

func TestController_CreateOrderPrice(t *testing.T) {
	tests := []struct {
		name         string
		pricePerWord int64
		wordCount    int
		wantPrice    int64
	}{
		{"Lower bound", 5, 100, 500},
		{"Typical", 5, 500, 2500},
		{"Upper bound", 5, 5000, 25000},
		{"Other pricing", 7, 1234, 8638},
		{"Free", 0, 300, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &MockGenerator{}, Options{})
			ctx := context.Background()
			_, err := h.settings.UpdateSection(ctx, domain.SectionPricing, []byte(fmt.Sprintf(`{"price_per_word": %d}`, tt.pricePerWord)))
			require.NoError(t, err)

			res, err := h.ctl.CreateOrder(ctx, CreateOrderInput{Topic: "t", WordCount: tt.wordCount, CustomerEmail: "a@b.com"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrice, res.Price)
			assert.NotEmpty(t, res.PaymentInitiationReference)

			order, err := h.ctl.GetOrder(ctx, res.OrderID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCreated, order.Status)
			assert.Equal(t, tt.wantPrice, order.Price)
		})
	}
}

func TestController_CreateOrderValidation(t *testing.T) {
	tests := []struct {
		name string
		in   CreateOrderInput
	}{
		{"Too short", CreateOrderInput{Topic: "t", WordCount: 99, CustomerEmail: "a@b.com"}},
		{"Too long", CreateOrderInput{Topic: "t", WordCount: 5001, CustomerEmail: "a@b.com"}},
		{"Blank topic", CreateOrderInput{Topic: "  ", WordCount: 500, CustomerEmail: "a@b.com"}},
		{"Malformed email", CreateOrderInput{Topic: "t", WordCount: 500, CustomerEmail: "a-at-b.com"}},
		{"Missing email", CreateOrderInput{Topic: "t", WordCount: 500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &MockGenerator{}, Options{})
			_, err := h.ctl.CreateOrder(context.Background(), tt.in)
			assert.ErrorIs(t, err, domain.ErrValidation)

			st, err := h.ctl.GetStats(context.Background())
			require.NoError(t, err)
			assert.Zero(t, st.TotalOrders)
		})
	}
}

func TestController_PriceIsSnapshotted(t *testing.T) {
	h := newHarness(t, &MockGenerator{}, Options{})
	ctx := context.Background()

	res, err := h.ctl.CreateOrder(ctx, solarPanels)
	require.NoError(t, err)

	_, err = h.settings.UpdateSection(ctx, domain.SectionPricing, []byte(`{"price_per_word": 50}`))
	require.NoError(t, err)

	order, err := h.ctl.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), order.Price)
}

func TestController_HappyPath(t *testing.T) {
	gen := &MockGenerator{}
	gen.On("Generate", mock.Anything, "solar panels", 500).
		Return(generation.Result{Text: "...", CostUnits: 120}, nil).Once()

	h := newHarness(t, gen, Options{MaxAttempts: 1})
	ctx := context.Background()

	res, err := h.ctl.CreateOrder(ctx, solarPanels)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), res.Price)

	require.NoError(t, h.ctl.HandlePaymentEvent(ctx, succeeded(res.OrderID, "pi_1")))
	order, err := h.ctl.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentConfirmed, order.Status)
	assert.Equal(t, "pi_1", *order.PaymentReference)
	assert.Equal(t, []int64{res.OrderID}, h.disp.orderIDs())

	require.NoError(t, h.ctl.ProcessOrder(ctx, res.OrderID))

	order, err = h.ctl.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, order.Status)
	require.NotNil(t, order.APICost)
	require.NotNil(t, order.Content)
	assert.Equal(t, int64(120), *order.APICost)
	assert.Equal(t, "...", *order.Content)

	assert.Equal(t, []domain.NotificationKind{
		domain.NotifyOrderReceived,
		domain.NotifyGenerationStarted,
		domain.NotifyGenerationComplete,
	}, h.notifier.kinds())

	received, _ := h.notifier.last(domain.NotifyOrderReceived)
	assert.Equal(t, "a@b.com", received.to)
	assert.Equal(t, "25.00 USD", received.data[domain.FieldPrice])

	complete, _ := h.notifier.last(domain.NotifyGenerationComplete)
	assert.Equal(t, "...", complete.data[domain.FieldPreview])
	assert.Equal(t, fmt.Sprintf("http://localhost:8080/orders/%d", res.OrderID), complete.data[domain.FieldViewURL])

	gen.AssertExpectations(t)
}

func TestController_GenerationFailure(t *testing.T) {
	gen := &MockGenerator{}
	gen.On("Generate", mock.Anything, "solar panels", 500).
		Return(generation.Result{}, &generation.GenerationError{Reason: "provider returned 500: sk-secret leaked"}).Once()

	h := newHarness(t, gen, Options{MaxAttempts: 1})
	ctx := context.Background()

	res, err := h.ctl.CreateOrder(ctx, solarPanels)
	require.NoError(t, err)
	require.NoError(t, h.ctl.HandlePaymentEvent(ctx, succeeded(res.OrderID, "pi_1")))
	require.NoError(t, h.ctl.ProcessOrder(ctx, res.OrderID))

	order, err := h.ctl.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, order.Status)
	assert.Nil(t, order.Content)
	assert.Nil(t, order.APICost)

	note, ok := h.notifier.last(domain.NotifyGenerationFailed)
	require.True(t, ok, "GenerationFailed must be attempted")
	assert.Equal(t, customerFailureMessage, note.data[domain.FieldReason])
	assert.NotContains(t, note.data[domain.FieldReason], "sk-secret")
	assert.Zero(t, h.notifier.count(domain.NotifyGenerationComplete))
	gen.AssertExpectations(t)
}

func TestController_GenerationRetries(t *testing.T) {
	gen := &MockGenerator{}
	gen.On("Generate", mock.Anything, "solar panels", 500).
		Return(generation.Result{}, &generation.GenerationError{Reason: "timed out"}).Twice()
	gen.On("Generate", mock.Anything, "solar panels", 500).
		Return(generation.Result{Text: "third time lucky", CostUnits: 3}, nil).Once()

	h := newHarness(t, gen, Options{MaxAttempts: 3, RetryBackoff: time.Millisecond})
	ctx := context.Background()

	res, err := h.ctl.CreateOrder(ctx, solarPanels)
	require.NoError(t, err)
	require.NoError(t, h.ctl.HandlePaymentEvent(ctx, succeeded(res.OrderID, "pi_1")))
	require.NoError(t, h.ctl.ProcessOrder(ctx, res.OrderID))

	order, err := h.ctl.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, order.Status)
	assert.Equal(t, "third time lucky", *order.Content)
	gen.AssertNumberOfCalls(t, "Generate", 3)
	assert.Equal(t, 1, h.notifier.count(domain.NotifyGenerationStarted))
}

func TestController_PaymentFailure(t *testing.T) {
	gen := &MockGenerator{}
	h := newHarness(t, gen, Options{})
	ctx := context.Background()

	res, err := h.ctl.CreateOrder(ctx, solarPanels)
	require.NoError(t, err)

	require.NoError(t, h.ctl.HandlePaymentEvent(ctx, failed(res.OrderID)))
	require.NoError(t, h.ctl.ProcessOrder(ctx, res.OrderID))

	order, err := h.ctl.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, order.Status)
	assert.Nil(t, order.PaymentReference)
	assert.Equal(t, []domain.NotificationKind{domain.NotifyPaymentFailed}, h.notifier.kinds())
	assert.Empty(t, h.disp.orderIDs())
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestController_DuplicatePaymentSucceeded(t *testing.T) {
	h := newHarness(t, &MockGenerator{}, Options{})
	ctx := context.Background()

	res, err := h.ctl.CreateOrder(ctx, solarPanels)
	require.NoError(t, err)

	ev := succeeded(res.OrderID, "pi_1")
	require.NoError(t, h.ctl.HandlePaymentEvent(ctx, ev))
	require.NoError(t, h.ctl.HandlePaymentEvent(ctx, ev))

	assert.Equal(t, 1, h.notifier.count(domain.NotifyOrderReceived))
	assert.Len(t, h.disp.orderIDs(), 1)
}

func TestController_ConcurrentPaymentSucceeded(t *testing.T) {
	h := newHarness(t, &MockGenerator{}, Options{})
	ctx := context.Background()

	res, err := h.ctl.CreateOrder(ctx, solarPanels)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for n := 0; n < 16; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.ctl.HandlePaymentEvent(ctx, succeeded(res.OrderID, "pi_1")))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.notifier.count(domain.NotifyOrderReceived))
	assert.Len(t, h.disp.orderIDs(), 1)
	assert.Zero(t, h.ctl.locks.len(), "locks are released")
}

func TestController_DuplicateProcessOrder(t *testing.T) {
	gen := &MockGenerator{}
	gen.On("Generate", mock.Anything, "solar panels", 500).
		Return(generation.Result{Text: "text", CostUnits: 1}, nil).Once()

	h := newHarness(t, gen, Options{})
	ctx := context.Background()

	res, err := h.ctl.CreateOrder(ctx, solarPanels)
	require.NoError(t, err)
	require.NoError(t, h.ctl.HandlePaymentEvent(ctx, succeeded(res.OrderID, "pi_1")))

	require.NoError(t, h.ctl.ProcessOrder(ctx, res.OrderID))
	require.NoError(t, h.ctl.ProcessOrder(ctx, res.OrderID))

	gen.AssertNumberOfCalls(t, "Generate", 1)
	assert.Equal(t, 1, h.notifier.count(domain.NotifyGenerationStarted))
	assert.Equal(t, 1, h.notifier.count(domain.NotifyGenerationComplete))
}

func TestController_ConcurrentProcessOrder(t *testing.T) {
	gen := &countingGenerator{delay: 20 * time.Millisecond}
	h := newHarness(t, gen, Options{})
	ctx := context.Background()

	res, err := h.ctl.CreateOrder(ctx, solarPanels)
	require.NoError(t, err)
	require.NoError(t, h.ctl.HandlePaymentEvent(ctx, succeeded(res.OrderID, "pi_1")))

	var wg sync.WaitGroup
	for n := 0; n < 16; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.ctl.ProcessOrder(ctx, res.OrderID))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), gen.calls.Load())
	order, err := h.ctl.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, order.Status)
}

func TestController_TerminalStatesAreFinal(t *testing.T) {
	ctx := context.Background()

	poke := func(t *testing.T, h *harness, id int64) {
		t.Helper()
		_ = h.ctl.HandlePaymentEvent(ctx, succeeded(id, "pi_late"))
		_ = h.ctl.HandlePaymentEvent(ctx, failed(id))
		_ = h.ctl.ProcessOrder(ctx, id)
	}

	t.Run("Complete", func(t *testing.T) {
		gen := &MockGenerator{}
		gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
			Return(generation.Result{Text: "done", CostUnits: 5}, nil).Once()
		h := newHarness(t, gen, Options{})

		res, err := h.ctl.CreateOrder(ctx, solarPanels)
		require.NoError(t, err)
		require.NoError(t, h.ctl.HandlePaymentEvent(ctx, succeeded(res.OrderID, "pi_1")))
		require.NoError(t, h.ctl.ProcessOrder(ctx, res.OrderID))

		poke(t, h, res.OrderID)

		order, err := h.ctl.GetOrder(ctx, res.OrderID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusComplete, order.Status)
		assert.Equal(t, "pi_1", *order.PaymentReference)
		assert.Equal(t, "done", *order.Content)
	})

	t.Run("Failed", func(t *testing.T) {
		gen := &MockGenerator{}
		h := newHarness(t, gen, Options{})

		res, err := h.ctl.CreateOrder(ctx, solarPanels)
		require.NoError(t, err)
		require.NoError(t, h.ctl.HandlePaymentEvent(ctx, failed(res.OrderID)))

		poke(t, h, res.OrderID)

		order, err := h.ctl.GetOrder(ctx, res.OrderID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, order.Status)
		assert.Nil(t, order.PaymentReference)
		gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestController_ContentAndCostTravelTogether(t *testing.T) {
	gen := &MockGenerator{}
	gen.On("Generate", mock.Anything, "good", mock.Anything).Return(generation.Result{Text: "ok", CostUnits: 9}, nil)
	gen.On("Generate", mock.Anything, "bad", mock.Anything).Return(generation.Result{}, &generation.GenerationError{Reason: "x"})

	h := newHarness(t, gen, Options{})
	ctx := context.Background()

	for i, topic := range []string{"good", "bad", "good", "bad", "unpaid"} {
		res, err := h.ctl.CreateOrder(ctx, CreateOrderInput{Topic: topic, WordCount: 100, CustomerEmail: "a@b.com"})
		require.NoError(t, err)
		if topic == "unpaid" {
			continue
		}
		require.NoError(t, h.ctl.HandlePaymentEvent(ctx, succeeded(res.OrderID, fmt.Sprintf("pi_%d", i))))
		require.NoError(t, h.ctl.ProcessOrder(ctx, res.OrderID))
	}

	page, err := h.ctl.ListOrders(ctx, domain.ListFilter{PageSize: 50})
	require.NoError(t, err)
	require.Len(t, page.Items, 5)
	for _, o := range page.Items {
		assert.Equal(t, o.Content == nil, o.APICost == nil, "order %d", o.ID)
		assert.Equal(t, o.Status == domain.StatusComplete, o.HasResult(), "order %d", o.ID)
	}
}

func TestController_ResolvesInitiationReference(t *testing.T) {
	h := newHarness(t, &MockGenerator{}, Options{})
	ctx := context.Background()

	res, err := h.ctl.CreateOrder(ctx, solarPanels)
	require.NoError(t, err)

	ev := succeeded(0, "pi_1")
	ev.OrderReference = res.PaymentInitiationReference
	require.NoError(t, h.ctl.HandlePaymentEvent(ctx, ev))

	order, err := h.ctl.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentConfirmed, order.Status)
}

func TestController_UnknownOrder(t *testing.T) {
	h := newHarness(t, &MockGenerator{}, Options{})
	ctx := context.Background()

	err := h.ctl.HandlePaymentEvent(ctx, succeeded(404, "pi_1"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.NoError(t, h.ctl.ProcessOrder(ctx, 404), "processing an unknown order is a logged no-op")

	_, err = h.ctl.GetOrder(ctx, 404)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestController_PaymentReferenceOwnedByAnotherOrder(t *testing.T) {
	h := newHarness(t, &MockGenerator{}, Options{})
	ctx := context.Background()

	a, err := h.ctl.CreateOrder(ctx, solarPanels)
	require.NoError(t, err)
	b, err := h.ctl.CreateOrder(ctx, solarPanels)
	require.NoError(t, err)

	require.NoError(t, h.ctl.HandlePaymentEvent(ctx, succeeded(a.OrderID, "pi_same")))
	err = h.ctl.HandlePaymentEvent(ctx, succeeded(b.OrderID, "pi_same"))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	order, err := h.ctl.GetOrder(ctx, b.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, order.Status)
}

func TestController_DispatchFailure(t *testing.T) {
	h := newHarness(t, &MockGenerator{}, Options{})
	ctx := context.Background()
	h.disp.err = errors.New("queue full")

	res, err := h.ctl.CreateOrder(ctx, solarPanels)
	require.NoError(t, err)

	err = h.ctl.HandlePaymentEvent(ctx, succeeded(res.OrderID, "pi_1"))
	assert.ErrorContains(t, err, "queue full")

	order, err := h.ctl.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentConfirmed, order.Status, "the state change stands")
	assert.Equal(t, 1, h.notifier.count(domain.NotifyOrderReceived))

	h.disp.err = nil
	require.NoError(t, h.ctl.RequeueOrder(ctx, res.OrderID))
	assert.Equal(t, []int64{res.OrderID}, h.disp.orderIDs())
}

func TestController_RequeueOrder(t *testing.T) {
	h := newHarness(t, &MockGenerator{}, Options{})
	ctx := context.Background()

	res, err := h.ctl.CreateOrder(ctx, solarPanels)
	require.NoError(t, err)

	assert.ErrorIs(t, h.ctl.RequeueOrder(ctx, res.OrderID), ErrNotProcessable)
	assert.ErrorIs(t, h.ctl.RequeueOrder(ctx, 999), store.ErrNotFound)
	assert.Empty(t, h.disp.orderIDs())
}

func TestController_RecoverPending(t *testing.T) {
	h := newHarness(t, &MockGenerator{}, Options{})
	ctx := context.Background()

	var paid []int64
	for i := 0; i < 3; i++ {
		res, err := h.ctl.CreateOrder(ctx, solarPanels)
		require.NoError(t, err)
		if i == 1 {
			continue
		}
		_, err = h.store.Update(ctx, res.OrderID, domain.OrderUpdate{Status: domain.StatusPaymentConfirmed.Ptr()})
		require.NoError(t, err)
		paid = append(paid, res.OrderID)
	}

	n, err := h.ctl.RecoverPending(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, paid, h.disp.orderIDs())
}

func TestController_GetStats(t *testing.T) {
	gen := &MockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(generation.Result{Text: "t", CostUnits: 1}, nil)
	h := newHarness(t, gen, Options{})
	ctx := context.Background()

	var ids []int64
	for n := 0; n < 4; n++ {
		res, err := h.ctl.CreateOrder(ctx, solarPanels)
		require.NoError(t, err)
		ids = append(ids, res.OrderID)
	}
	require.NoError(t, h.ctl.HandlePaymentEvent(ctx, failed(ids[0])))
	require.NoError(t, h.ctl.HandlePaymentEvent(ctx, succeeded(ids[1], "pi_1")))
	require.NoError(t, h.ctl.ProcessOrder(ctx, ids[1]))
	require.NoError(t, h.ctl.HandlePaymentEvent(ctx, succeeded(ids[2], "pi_2")))

	st, err := h.ctl.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.TotalOrders)
	assert.Equal(t, int64(2), st.PendingOrders)
	assert.Equal(t, int64(4*2500), st.TotalRevenue)
}

func TestPreview(t *testing.T) {
	short := "A short piece."
	assert.Equal(t, short, preview(short, 200))

	long := strings.Repeat("word ", 100)
	got := preview(long, 200)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len([]rune(got)), 203)
	assert.False(t, strings.Contains(got, "wor..."), "cuts on a word boundary")

	runes := strings.Repeat("ü", 300)
	assert.Equal(t, strings.Repeat("ü", 200)+"...", preview(runes, 200))
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "25.00 USD", formatMoney(2500, "usd"))
	assert.Equal(t, "0.05 EUR", formatMoney(5, "eur"))
	assert.Equal(t, "-1.50 USD", formatMoney(-150, "usd"))
}

func TestController_ProcessingOutlivesCancellation(t *testing.T) {
	gen := newBlockingGenerator()
	h := newHarness(t, gen, Options{MaxAttempts: 3, RetryBackoff: time.Millisecond})

	res, err := h.ctl.CreateOrder(context.Background(), solarPanels)
	require.NoError(t, err)
	require.NoError(t, h.ctl.HandlePaymentEvent(context.Background(), succeeded(res.OrderID, "pi_1")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctl.ProcessOrder(ctx, res.OrderID) }()

	<-gen.started
	cancel()
	close(gen.release)
	require.NoError(t, <-done)

	order, err := h.ctl.GetOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, order.Status)
	assert.Equal(t, "finished anyway", *order.Content)
	assert.Zero(t, h.notifier.count(domain.NotifyGenerationFailed))
	assert.Equal(t, 1, h.notifier.count(domain.NotifyGenerationComplete))
}

func TestController_ProcessOrderReadsSettingsOnce(t *testing.T) {
	gen := &countingGenerator{}
	h := newHarness(t, gen, Options{MaxAttempts: 1})
	counted := &countingSettings{SettingsSource: h.settings}
	h.ctl.settings = counted
	ctx := context.Background()

	res, err := h.ctl.CreateOrder(ctx, solarPanels)
	require.NoError(t, err)
	require.NoError(t, h.ctl.HandlePaymentEvent(ctx, succeeded(res.OrderID, "pi_1")))

	before := counted.reads.Load()
	require.NoError(t, h.ctl.ProcessOrder(ctx, res.OrderID))

	assert.Equal(t, int32(1), counted.reads.Load()-before)
	assert.Equal(t, 1, h.notifier.count(domain.NotifyGenerationStarted))
	assert.Equal(t, 1, h.notifier.count(domain.NotifyGenerationComplete))
}
