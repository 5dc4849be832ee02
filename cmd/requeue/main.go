// Command requeue publishes process tasks for paid orders to the task
// topic, e.g. to drain a backlog after an outage. With -garbage it also
// sends undecodable messages, which the consumer must route to the DLQ.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/goinginblind/scribe/internal/pkg/logger"
	"github.com/goinginblind/scribe/internal/pkg/metrics"
	"github.com/goinginblind/scribe/internal/tasks"
)

func main() {
	var (
		idsFile       = flag.String("file", "", "Path to a JSON array of order ids.")
		rps           = flag.Int("rps", 5, "Tasks per second.")
		garbage       = flag.Int("garbage", 0, "Number of undecodable messages to send.")
		kafkaTopic    = flag.String("topic", getEnv("APP_KAFKA_PROCESS_TOPIC", "orders.process"), "Kafka topic to produce to.")
		kafkaBrokers  = flag.String("brokers", getEnv("APP_KAFKA_BROKERS", "localhost:9092"), "Kafka bootstrap servers.")
		kafkaClientID = flag.String("client-id", getEnv("APP_KAFKA_CLIENT_ID", "scribe-requeue"), "Kafka client ID.")
	)
	flag.Parse()
	if *rps < 1 {
		*rps = 1
	}

	lg, err := logger.New(getEnv("APP_ENV", "development"))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	p, err := tasks.NewKafkaProducer(*kafkaBrokers, *kafkaClientID)
	if err != nil {
		lg.Fatalw("Failed to create producer", "error", err)
	}
	dispatcher := tasks.NewKafkaDispatcher(p, *kafkaTopic, 15*time.Second, lg)
	defer dispatcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(time.Second / time.Duration(*rps))
	defer ticker.Stop()
	wait := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			return true
		}
	}

	for i := 0; i < *garbage && wait(); i++ {
		payload := make([]byte, 32)
		rand.Read(payload)
		err := p.Produce(&kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: kafkaTopic, Partition: kafka.PartitionAny},
			Value:          payload,
			Headers:        []kafka.Header{metrics.CreationHeaderValue(time.Now())},
		}, nil)
		if err != nil {
			lg.Warnw("Failed to produce garbage message", "error", err)
		}
	}

	ids, errs := orderIDs(flag.Args(), *idsFile)
	go func() {
		if err := <-errs; err != nil {
			lg.Errorw("Reading order ids stopped early", "error", err)
		}
	}()

	var sent, failed int
	for id := range ids {
		if !wait() {
			break
		}
		if err := dispatcher.Dispatch(ctx, tasks.NewProcessTask(id, tasks.ReasonOperator)); err != nil {
			lg.Warnw("Failed to publish task", "order_id", id, "error", err)
			failed++
			continue
		}
		sent++
	}

	lg.Infow("Requeue finished", "sent", sent, "failed", failed, "garbage", *garbage)
	if failed > 0 {
		os.Exit(1)
	}
}

// orderIDs yields the ids given on the command line followed by the ones
// in file, if any.
func orderIDs(args []string, file string) (<-chan int64, <-chan error) {
	out := make(chan int64)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		for _, a := range args {
			id, err := strconv.ParseInt(a, 10, 64)
			if err != nil || id <= 0 {
				errs <- &badIDError{raw: a}
				return
			}
			out <- id
		}
		if file == "" {
			return
		}

		raws, fileErrs := streamJSONValues(file)
		for raw := range raws {
			id, err := strconv.ParseInt(string(raw), 10, 64)
			if err != nil || id <= 0 {
				errs <- &badIDError{raw: string(raw)}
				for range raws {
				}
				return
			}
			out <- id
		}
		if err := <-fileErrs; err != nil {
			errs <- err
		}
	}()

	return out, errs
}

type badIDError struct {
	raw string
}

func (e *badIDError) Error() string {
	return "not an order id: " + strconv.Quote(e.raw)
}
