package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_total_requests",
		Help: "Total requests to the HTTP",
	},
		[]string{"method", "path", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_request_duration",
		Help: "Duration of HTTP requests",
	},
		[]string{"method", "path"},
	)

	// for internal/consumer/workers
	MessagesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_processed_total",
		Help: "Total number of processed task messages",
	},
		[]string{"status"},
	)
	ConsumerLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "consumer_lag",
		Help: "Messages between the committed offset and the high watermark",
	},
		[]string{"topic", "partition"},
	)
	KafkaMessageLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "consumer_message_latency_seconds",
		Help:    "Time from task publication to its processing being finished",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// for internal/tasks
	TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasks_dispatched_total",
		Help: "Processing tasks handed to a dispatcher",
	},
		[]string{"dispatcher", "result"},
	)
	TaskQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tasks_queue_depth",
		Help: "Tasks waiting in the in-process queue",
	})

	// for internal/service
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders accepted",
	})
	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Order status changes",
	},
		[]string{"from", "to"},
	)
	PaymentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_total",
		Help: "Payment gateway events by kind and outcome",
	},
		[]string{"kind", "result"},
	)

	// for internal/generation
	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "generation_duration_seconds",
		Help:    "Duration of calls to the generation service",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	},
		[]string{"result"},
	)
	GenerationCost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "generation_cost_total",
		Help: "Accumulated generation cost in minor currency units",
	})

	// for internal/notify
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Customer notifications by kind and outcome",
	},
		[]string{"kind", "result"},
	)

	// for internal/api
	PaymentWebhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_total",
		Help: "Inbound payment webhooks by outcome",
	},
		[]string{"result"},
	)

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total number of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total number of cache misses",
	})
	CacheResponseTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "cache_response_time",
		Help: "Duration of cache response",
	},
		[]string{"operation"},
	)

	DBResponseTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "db_response_time",
		Help: "Duration of DB response",
	},
		[]string{"operation"},
	)
	DBUptime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_up",
		Help: "1 if database is reachable, 0 if not",
	})
	DbTransientErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "db_transient_err_total",
		Help: "Total number of recoverable DB hiccups",
	})
)
