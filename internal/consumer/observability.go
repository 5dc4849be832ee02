package consumer

import (
	"context"
	"strconv"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/goinginblind/scribe/internal/pkg/metrics"
)

const (
	lagInterval     = 5 * time.Second
	lagQueryTimeout = 5000 // ms
)

// offsetReader is the part of *kafka.Consumer the lag monitor reads from.
type offsetReader interface {
	Assignment() ([]kafka.TopicPartition, error)
	Committed(partitions []kafka.TopicPartition, timeoutMs int) ([]kafka.TopicPartition, error)
	QueryWatermarkOffsets(topic string, partition int32, timeoutMs int) (low, high int64, err error)
}

// monitorConsumerLag publishes how far the group trails each assigned partition.
func (kc *KafkaConsumer) monitorConsumerLag(ctx context.Context) {
	ticker := time.NewTicker(lagInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kc.recordLag(kc.consumer)
		}
	}
}

func (kc *KafkaConsumer) recordLag(r offsetReader) {
	assigned, err := r.Assignment()
	if err != nil {
		kc.logger.Errorw("Failed to get assigned partitions for lag monitoring", "error", err)
		return
	}
	if len(assigned) == 0 {
		return
	}

	committed, err := r.Committed(assigned, lagQueryTimeout)
	if err != nil {
		kc.logger.Errorw("Failed to get committed offsets for lag monitoring", "error", err)
		return
	}

	for _, p := range committed {
		low, high, err := r.QueryWatermarkOffsets(*p.Topic, p.Partition, lagQueryTimeout)
		if err != nil {
			kc.logger.Warnw("Failed to query watermark offsets", "error", err, "topic", *p.Topic, "partition", p.Partition)
			continue
		}
		metrics.ConsumerLag.
			WithLabelValues(*p.Topic, strconv.Itoa(int(p.Partition))).
			Set(float64(partitionLag(p.Offset, low, high)))
	}
}

// partitionLag is the number of messages past the committed offset. With
// nothing committed yet the whole retained range counts.
func partitionLag(committed kafka.Offset, low, high int64) int64 {
	lag := high - int64(committed)
	if committed < 0 {
		lag = high - low
	}
	return max(lag, 0)
}
