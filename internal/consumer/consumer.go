package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/goinginblind/scribe/internal/pkg/logger"
)

// Processor runs processOrder for an order id.
type Processor interface {
	ProcessOrder(ctx context.Context, id int64) error
}

// Committer commits the offset of a handled message.
type Committer interface {
	CommitMessage(msg *kafka.Message) ([]kafka.TopicPartition, error)
}

// DLQPublisher publishes messages nobody can handle.
type DLQPublisher interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

// DLQManager is the dead letter producer, delivery reports included.
type DLQManager interface {
	DLQPublisher
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// UnhealthyMarker is told when a worker gives up because the store is down.
type UnhealthyMarker interface {
	MarkUnhealthy()
}

// HealthChecker gates polling on the store being reachable.
type HealthChecker interface {
	UnhealthyMarker
	IsHealthy() bool
}

// Config tunes the consumer.
type Config struct {
	Topic        string
	DLQTopic     string
	Workers      int
	BufferSize   int
	MaxRetries   int
	RetryBackoff time.Duration
}

// KafkaConsumer consumes process tasks and feeds them to a worker pool.
// Offsets are committed by the workers once a task is handled, so a
// crash mid-task means redelivery, never loss.
type KafkaConsumer struct {
	consumer  *kafka.Consumer
	dlq       DLQManager
	processor Processor
	health    HealthChecker
	logger    logger.Logger
	cfg       Config
}

// NewConsumerConfig builds the librdkafka settings for the task consumer.
func NewConsumerConfig(bootstrapServers, groupID, clientID string) *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers":  bootstrapServers,
		"group.id":           groupID,
		"client.id":          clientID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	}
}

// NewKafkaConsumer creates a new KafkaConsumer subscribed to cfg.Topic.
func NewKafkaConsumer(kcfg *kafka.ConfigMap, dlq DLQManager, cfg Config, processor Processor, health HealthChecker, logger logger.Logger) (*KafkaConsumer, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	c, err := kafka.NewConsumer(kcfg)
	if err != nil {
		return nil, fmt.Errorf("creating consumer: %w", err)
	}
	if err := c.Subscribe(cfg.Topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", cfg.Topic, err)
	}

	return &KafkaConsumer{
		consumer:  c,
		dlq:       dlq,
		processor: processor,
		health:    health,
		logger:    logger,
		cfg:       cfg,
	}, nil
}

// Run polls until ctx is done or the client hits a fatal error. While
// the store is unhealthy it stops pulling new messages.
func (kc *KafkaConsumer) Run(ctx context.Context) error {
	jobs := make(chan *kafka.Message, kc.cfg.BufferSize)
	deps := workerDependencies{
		processor:     kc.processor,
		logger:        kc.logger,
		consumer:      kc.consumer,
		ctx:           ctx,
		healthChecker: kc.health,
		dlqTopic:      kc.cfg.DLQTopic,
		dlqPublisher:  kc.dlq,
	}

	var wg sync.WaitGroup
	for i := 1; i <= kc.cfg.Workers; i++ {
		w := &worker{
			id:           i,
			deps:         deps,
			jobs:         jobs,
			maxRetries:   kc.cfg.MaxRetries,
			retryBackoff: kc.cfg.RetryBackoff,
		}
		wg.Add(1)
		go w.run(&wg)
	}
	go drainDLQReports(ctx, kc.dlq, kc.logger)
	go kc.monitorConsumerLag(ctx)

	kc.logger.Infow("Consumer started", "topic", kc.cfg.Topic, "workers", kc.cfg.Workers)
	err := kc.poll(ctx, jobs)

	close(jobs)
	wg.Wait()
	kc.consumer.Close()
	kc.logger.Infow("Consumer stopped")
	return err
}

func (kc *KafkaConsumer) poll(ctx context.Context, jobs chan<- *kafka.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !kc.health.IsHealthy() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		switch e := kc.consumer.Poll(100).(type) {
		case nil:
		case *kafka.Message:
			select {
			case jobs <- e:
			case <-ctx.Done():
				return nil
			}
		case kafka.Error:
			if e.IsFatal() {
				return fmt.Errorf("fatal kafka error: %w", e)
			}
			kc.logger.Warnw("Kafka error", "code", e.Code(), "error", e)
		default:
			kc.logger.Debugw("Ignored kafka event", "event", e.String())
		}
	}
}
