package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Events accepted onto a bus queue, by bus and category.
	BusEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_bus_events_published_total",
			Help: "Events accepted onto an event bus queue.",
		},
		[]string{"bus", "category"},
	)

	// Events rejected because the queue was full or the bus stopped.
	BusEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_bus_events_dropped_total",
			Help: "Events rejected by an event bus (queue full or stopped).",
		},
		[]string{"bus", "reason"},
	)

	BusHandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_bus_handler_failures_total",
			Help: "Subscriber handlers that returned an error or panicked.",
		},
		[]string{"bus", "category"},
	)

	BusQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exec_bus_queue_depth",
			Help: "Events waiting in an event bus queue.",
		},
		[]string{"bus"},
	)

	// 0 disconnected, 1 connecting, 2 connected, 3 failed.
	BrokerConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "exec_broker_connection_state",
			Help: "Broker adapter connection state.",
		},
	)

	BrokerConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_broker_connect_attempts_total",
			Help: "Broker connect attempts by result.",
		},
		[]string{"result"}, // ok | error
	)

	BrokerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exec_broker_request_duration_seconds",
			Help:    "Duration of outbound broker requests.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	OrdersPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_orders_placed_total",
			Help: "Orders sent to the broker by type.",
		},
		[]string{"type"},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_order_transitions_total",
			Help: "Order state transitions by resulting status.",
		},
		[]string{"status"},
	)

	FillsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_fills_total",
			Help: "Fills seen by the order manager by result.",
		},
		[]string{"result"}, // applied | duplicate | truncated | unknown_order | rejected
	)

	PositionUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_position_updates_total",
			Help: "Position ledger updates by source.",
		},
		[]string{"source"}, // fill | snapshot
	)

	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages processed.",
		},
		[]string{"subject", "result"},
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	SecretsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secrets_cache_access_total",
			Help: "Number of cache hits/misses in secret cache.",
		},
		[]string{"result"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_errors_total",
			Help: "Count of errors by component.",
		},
		[]string{"component", "reason"},
	)

	LastExportTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "exec_last_export_timestamp",
			Help: "Unix time of the last successful ledger export.",
		},
	)
)

// ObserveDuration records the time elapsed since start on a histogram or summary.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	}
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncCacheHit(result string) {
	SecretsCacheHits.WithLabelValues(result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func IncFill(result string) {
	FillsProcessed.WithLabelValues(result).Inc()
}

func SetLastExport(t time.Time) {
	LastExportTimestamp.Set(float64(t.Unix()))
}
