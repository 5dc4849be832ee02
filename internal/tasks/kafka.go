package tasks

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/goinginblind/scribe/internal/pkg/logger"
	"github.com/goinginblind/scribe/internal/pkg/metrics"
)

// Producer is the part of *kafka.Producer the dispatcher uses.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaDispatcher publishes tasks to a topic, keyed by order id so all
// tasks of one order land on the same partition.
type KafkaDispatcher struct {
	producer Producer
	topic    string
	timeout  time.Duration
	logger   logger.Logger
}

// NewKafkaProducer creates the librdkafka producer used for tasks.
func NewKafkaProducer(bootstrapServers, clientID string) (*kafka.Producer, error) {
	return kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  bootstrapServers,
		"client.id":          clientID,
		"acks":               "all",
		"enable.idempotence": true,
	})
}

// NewKafkaDispatcher wraps p. timeout bounds the wait for the broker ack.
func NewKafkaDispatcher(p Producer, topic string, timeout time.Duration, logger logger.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		producer: p,
		topic:    topic,
		timeout:  timeout,
		logger:   logger,
	}
}

// Dispatch publishes t and waits for its delivery report, so a nil
// error means the broker has the task.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, t ProcessTask) error {
	value, err := t.Encode()
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}

	delivery := make(chan kafka.Event, 1)
	err = d.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &d.topic, Partition: kafka.PartitionAny},
		Key:            []byte(strconv.FormatInt(t.OrderID, 10)),
		Value:          value,
		Headers: []kafka.Header{
			metrics.CreationHeaderValue(time.Now()),
			{Key: "task_id", Value: []byte(t.ID)},
		},
	}, delivery)
	if err != nil {
		metrics.TasksDispatched.WithLabelValues("kafka", "error").Inc()
		return fmt.Errorf("producing task for order %d: %w", t.OrderID, err)
	}

	var timeout <-chan time.Time
	if d.timeout > 0 {
		timer := time.NewTimer(d.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ev := <-delivery:
		msg, ok := ev.(*kafka.Message)
		if !ok {
			metrics.TasksDispatched.WithLabelValues("kafka", "error").Inc()
			return fmt.Errorf("unexpected delivery event %v", ev)
		}
		if msg.TopicPartition.Error != nil {
			metrics.TasksDispatched.WithLabelValues("kafka", "error").Inc()
			return fmt.Errorf("delivering task for order %d: %w", t.OrderID, msg.TopicPartition.Error)
		}
		metrics.TasksDispatched.WithLabelValues("kafka", "ok").Inc()
		d.logger.Debugw("Task published",
			"task_id", t.ID,
			"order_id", t.OrderID,
			"partition", msg.TopicPartition.Partition,
			"offset", msg.TopicPartition.Offset,
		)
		return nil
	case <-timeout:
		metrics.TasksDispatched.WithLabelValues("kafka", "timeout").Inc()
		return fmt.Errorf("no delivery report for order %d within %s", t.OrderID, d.timeout)
	case <-ctx.Done():
		metrics.TasksDispatched.WithLabelValues("kafka", "canceled").Inc()
		return ctx.Err()
	}
}

// Close flushes outstanding messages and closes the producer.
func (d *KafkaDispatcher) Close() {
	if left := d.producer.Flush(int(d.timeout.Milliseconds())); left > 0 {
		d.logger.Warnw("Task messages left undelivered on close", "count", left)
	}
	d.producer.Close()
}
