package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/goinginblind/scribe/internal/pkg/logger"
	"github.com/goinginblind/scribe/internal/pkg/metrics"
	"github.com/goinginblind/scribe/internal/store"
	"github.com/goinginblind/scribe/internal/tasks"
)

type worker struct {
	id           int
	deps         workerDependencies
	jobs         <-chan *kafka.Message
	maxRetries   int
	retryBackoff time.Duration
}

// workerDependencies are shared between all the workers of one consumer.
type workerDependencies struct {
	processor     Processor
	logger        logger.Logger
	consumer      Committer
	ctx           context.Context
	healthChecker UnhealthyMarker
	dlqTopic      string
	dlqPublisher  DLQPublisher
}

func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-w.deps.ctx.Done():
			w.deps.logger.Infow("Worker shutting down", "worker_id", w.id)
			return
		case msg, ok := <-w.jobs:
			if !ok {
				return
			}
			w.processMessage(msg)
		}
	}
}

// processMessage decodes a process task and runs it:
//   - undecodable tasks go to the DLQ and are committed
//   - store connection errors are retried, then the consumer is told the
//     store is down and the message is left uncommitted for redelivery
//   - anything else the processor rejects goes to the DLQ
func (w *worker) processMessage(msg *kafka.Message) {
	metrics.ObserveKafkaMessageLatency(msg, metrics.KafkaMessageLatency)

	task, err := tasks.DecodeProcessTask(msg.Value)
	if err != nil {
		metrics.MessagesProcessedTotal.WithLabelValues("invalid").Inc()
		w.deps.logger.Errorw("Failed to decode task, sending to DLQ", "error", err)
		w.sendToDLQ(msg, err)
		w.commit(msg)
		return
	}

	// A message taken off the jobs channel is processed to the end even if
	// the consumer is shutting down.
	ctx := context.WithoutCancel(w.deps.ctx)

	var processErr error
	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		processErr = w.deps.processor.ProcessOrder(ctx, task.OrderID)
		if processErr == nil {
			metrics.MessagesProcessedTotal.WithLabelValues("valid").Inc()
			w.deps.logger.Infow("Task processed",
				"worker_id", w.id,
				"task_id", task.ID,
				"order_id", task.OrderID,
				"reason", task.Reason,
			)
			w.commit(msg)
			return
		}

		if !errors.Is(processErr, store.ErrConnectionFailed) {
			break
		}
		metrics.DbTransientErrors.Inc()

		if attempt < w.maxRetries {
			w.deps.logger.Warnw("Transient DB connection error, will retry",
				"order_id", task.OrderID,
				"attempt", attempt,
				"retry_in", w.retryBackoff,
				"error", processErr,
			)
			time.Sleep(w.retryBackoff)
		}
	}

	if errors.Is(processErr, store.ErrConnectionFailed) {
		metrics.MessagesProcessedTotal.WithLabelValues("error").Inc()
		w.deps.logger.Errorw("Worker failed to process task due to DB connection error",
			"order_id", task.OrderID,
			"attempts", w.maxRetries,
			"error", processErr,
		)
		w.deps.healthChecker.MarkUnhealthy()
		return
	}

	metrics.MessagesProcessedTotal.WithLabelValues("error").Inc()
	w.deps.logger.Errorw("Failed to process task, sending to DLQ",
		"task_id", task.ID,
		"order_id", task.OrderID,
		"error", processErr,
	)
	w.sendToDLQ(msg, processErr)
	w.commit(msg)
}

func (w *worker) commit(msg *kafka.Message) {
	if msg == nil {
		return
	}
	if _, err := w.deps.consumer.CommitMessage(msg); err != nil {
		w.deps.logger.Errorw("Failed to commit message", "error", err)
	}
}
