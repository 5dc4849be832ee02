package metrics

import (
	"strconv"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/prometheus/client_golang/prometheus"
)

// CreationHeader carries the unix millisecond time a task was published at.
const CreationHeader = "creation_timestamp_ms"

// CreationHeaderValue builds the CreationHeader for a message sent at t.
func CreationHeaderValue(t time.Time) kafka.Header {
	return kafka.Header{Key: CreationHeader, Value: []byte(strconv.FormatInt(t.UnixMilli(), 10))}
}

// ObserveKafkaMessageLatency reads the CreationHeader of msg and reports
// the time since then to observer. Messages without the header are ignored.
// Meant to be deferred once processing of msg has started.
func ObserveKafkaMessageLatency(msg *kafka.Message, observer prometheus.Observer) {
	for _, header := range msg.Headers {
		if header.Key != CreationHeader {
			continue
		}
		ms, err := strconv.ParseInt(string(header.Value), 10, 64)
		if err == nil {
			observer.Observe(time.Since(time.UnixMilli(ms)).Seconds())
		}
		return
	}
}
