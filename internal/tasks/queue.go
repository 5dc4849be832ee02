package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/goinginblind/scribe/internal/pkg/logger"
	"github.com/goinginblind/scribe/internal/pkg/metrics"
)

// ChannelQueue is an in-process Dispatcher: a buffered channel drained by
// a fixed set of worker goroutines. Tasks still queued when the process
// dies are lost; startup recovery picks their orders up again.
type ChannelQueue struct {
	tasks          chan ProcessTask
	workers        int
	enqueueTimeout time.Duration
	logger         logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewChannelQueue creates a queue holding at most size pending tasks.
func NewChannelQueue(size, workers int, enqueueTimeout time.Duration, logger logger.Logger) *ChannelQueue {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &ChannelQueue{
		tasks:          make(chan ProcessTask, size),
		workers:        workers,
		enqueueTimeout: enqueueTimeout,
		logger:         logger,
	}
}

// Start launches the workers. They run h for every task until Stop has
// drained the queue. Canceling ctx does not stop them: handlers get a
// context carrying ctx's values but not its cancellation, so a task that
// was accepted is always handled.
func (q *ChannelQueue) Start(ctx context.Context, h Handler) {
	q.logger.Infow("Starting task queue", "workers", q.workers, "capacity", cap(q.tasks))
	ctx = context.WithoutCancel(ctx)
	for i := 1; i <= q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, i, h)
	}
}

func (q *ChannelQueue) work(ctx context.Context, id int, h Handler) {
	defer q.wg.Done()
	for t := range q.tasks {
		metrics.TaskQueueDepth.Set(float64(len(q.tasks)))
		q.handle(ctx, id, h, t)
	}
}

func (q *ChannelQueue) handle(ctx context.Context, workerID int, h Handler, t ProcessTask) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Errorw("Task handler panicked", "worker_id", workerID, "task_id", t.ID, "order_id", t.OrderID, "panic", r)
		}
	}()

	if err := h(ctx, t.OrderID); err != nil {
		q.logger.Errorw("Task failed",
			"worker_id", workerID,
			"task_id", t.ID,
			"order_id", t.OrderID,
			"reason", t.Reason,
			"error", err,
		)
		return
	}
	q.logger.Debugw("Task done", "worker_id", workerID, "task_id", t.ID, "order_id", t.OrderID)
}

// Dispatch enqueues t, waiting at most the enqueue timeout for room.
func (q *ChannelQueue) Dispatch(ctx context.Context, t ProcessTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.TasksDispatched.WithLabelValues("inprocess", "closed").Inc()
		return ErrQueueClosed
	}

	var timeout <-chan time.Time
	if q.enqueueTimeout > 0 {
		timer := time.NewTimer(q.enqueueTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case q.tasks <- t:
		metrics.TasksDispatched.WithLabelValues("inprocess", "ok").Inc()
		metrics.TaskQueueDepth.Set(float64(len(q.tasks)))
		return nil
	case <-timeout:
		metrics.TasksDispatched.WithLabelValues("inprocess", "full").Inc()
		return ErrQueueFull
	case <-ctx.Done():
		metrics.TasksDispatched.WithLabelValues("inprocess", "canceled").Inc()
		return ctx.Err()
	}
}

// Stop refuses new tasks and waits until the workers are done with the
// ones already queued.
func (q *ChannelQueue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Infow("Task queue stopped")
}
