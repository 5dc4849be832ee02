package consumer

import (
	"context"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/goinginblind/scribe/internal/pkg/logger"
)

// DLQReasonHeader carries the error that sent a message to the DLQ.
const DLQReasonHeader = "dlq_reason"

// drainDLQReports logs whether each DLQ message was delivered.
func drainDLQReports(ctx context.Context, p DLQManager, log logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-p.Events():
			if !ok {
				return
			}
			ev, isMsg := e.(*kafka.Message)
			if !isMsg {
				continue
			}
			if ev.TopicPartition.Error != nil {
				log.Errorw("DLQ delivery failed",
					"error", ev.TopicPartition.Error,
					"key", string(ev.Key))
				continue
			}
			log.Infow("DLQ message delivered",
				"topic", *ev.TopicPartition.Topic,
				"partition", ev.TopicPartition.Partition,
				"offset", ev.TopicPartition.Offset,
				"key", string(ev.Key))
		}
	}
}

// sendToDLQ copies msg to the dead letter topic with the failure reason attached.
func (w *worker) sendToDLQ(msg *kafka.Message, reason error) {
	headers := append([]kafka.Header(nil), msg.Headers...)
	if reason != nil {
		headers = append(headers, kafka.Header{
			Key:   DLQReasonHeader,
			Value: []byte(reason.Error()),
		})
	}

	err := w.deps.dlqPublisher.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &w.deps.dlqTopic, Partition: kafka.PartitionAny},
		Key:            msg.Key,
		Value:          msg.Value,
		Headers:        headers,
	}, nil)
	if err != nil {
		w.deps.logger.Errorw("Failed to produce message to DLQ", "error", err, "key", string(msg.Key))
	}
}
