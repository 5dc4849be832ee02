package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goinginblind/scribe/internal/domain"
	"github.com/goinginblind/scribe/internal/generation"
	"github.com/goinginblind/scribe/internal/pkg/logger"
	"github.com/goinginblind/scribe/internal/store"
	"github.com/goinginblind/scribe/internal/tasks"

	"github.com/stretchr/testify/mock"
)

// MockGenerator is a mock implementation of the Generator interface.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, topic string, wordCount int) (generation.Result, error) {
	args := m.Called(ctx, topic, wordCount)
	return args.Get(0).(generation.Result), args.Error(1)
}

// countingGenerator is safe to hit from many goroutines at once.
type countingGenerator struct {
	calls atomic.Int32
	delay time.Duration
}

func (g *countingGenerator) Generate(context.Context, string, int) (generation.Result, error) {
	g.calls.Add(1)
	time.Sleep(g.delay)
	return generation.Result{Text: "generated", CostUnits: 10}, nil
}

type sentNotification struct {
	to   string
	kind domain.NotificationKind
	data domain.NotificationData
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *fakeNotifier) Notify(_ context.Context, _ domain.MailSettings, to string, kind domain.NotificationKind, data domain.NotificationData) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{to: to, kind: kind, data: data})
}

func (n *fakeNotifier) kinds() []domain.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := []domain.NotificationKind{}
	for _, s := range n.sent {
		out = append(out, s.kind)
	}
	return out
}

func (n *fakeNotifier) count(kind domain.NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.kind == kind {
			c++
		}
	}
	return c
}

func (n *fakeNotifier) last(kind domain.NotificationKind) (sentNotification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].kind == kind {
			return n.sent[i], true
		}
	}
	return sentNotification{}, false
}

type fakeDispatcher struct {
	mu    sync.Mutex
	tasks []tasks.ProcessTask
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, t tasks.ProcessTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, t)
	return nil
}

func (d *fakeDispatcher) orderIDs() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []int64{}
	for _, t := range d.tasks {
		out = append(out, t.OrderID)
	}
	return out
}

type harness struct {
	ctl      *Controller
	store    *store.MemoryStore
	settings *SettingsService
	notifier *fakeNotifier
	disp     *fakeDispatcher
}

func newHarness(t *testing.T, gen Generator, opts Options) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	h := &harness{
		store:    st,
		settings: NewSettingsService(st, logger.NewMockLogger()),
		notifier: &fakeNotifier{},
		disp:     &fakeDispatcher{},
	}
	h.ctl = New(Deps{
		Store:      st,
		Settings:   h.settings,
		Generator:  gen,
		Notifier:   h.notifier,
		Dispatcher: h.disp,
		Logger:     logger.NewMockLogger(),
	}, opts)
	return h
}

// blockingGenerator signals started on its first call and returns only
// after release is closed, whatever happens to the caller's context.
type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingGenerator() *blockingGenerator {
	return &blockingGenerator{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *blockingGenerator) Generate(ctx context.Context, _ string, _ int) (generation.Result, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return generation.Result{}, err
	}
	return generation.Result{Text: "finished anyway", CostUnits: 7}, nil
}

// countingSettings counts reads of the wrapped source.
type countingSettings struct {
	SettingsSource
	reads atomic.Int32
}

func (s *countingSettings) Current(ctx context.Context) (domain.Settings, error) {
	s.reads.Add(1)
	return s.SettingsSource.Current(ctx)
}
