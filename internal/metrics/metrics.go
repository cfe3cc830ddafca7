package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics covers the ingestion loop and the tabulation
// broadcaster. Metric names for the connection-status gauges match the
// ones the vote front end exports, so dashboards can overlay both.
type WorkerMetrics struct {
	VotesDrained    *prometheus.CounterVec
	MalformedEvents prometheus.Counter
	UpsertFailures  prometheus.Counter
	FullResets      prometheus.Counter

	ConsecutiveErrors prometheus.Gauge
	QueueConnected    prometheus.Gauge
	StoreConnected    prometheus.Gauge

	ProcessingTime prometheus.Histogram

	TallyBroadcasts prometheus.Counter
	VotesByOption   *prometheus.GaugeVec
}

// NewWorkerMetrics registers the worker metrics with reg. Pass
// prometheus.DefaultRegisterer in mains and a private registry in tests.
func NewWorkerMetrics(reg prometheus.Registerer, namespace string) *WorkerMetrics {
	factory := promauto.With(reg)
	return &WorkerMetrics{
		VotesDrained: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "votes_drained_total",
				Help:      "Total number of vote events drained from the queue and upserted",
			},
			[]string{"vote"},
		),
		MalformedEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "malformed_events_total",
				Help:      "Total number of queue payloads that failed to parse",
			},
		),
		UpsertFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upsert_failures_total",
				Help:      "Total number of failed vote upserts",
			},
		),
		FullResets: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "full_resets_total",
				Help:      "Times the consecutive-error threshold forced both adapters to reconnect",
			},
		),
		ConsecutiveErrors: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "consecutive_errors",
				Help:      "Current run of consecutive processing errors",
			},
		),
		QueueConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "redis_connection_status",
				Help:      "Queue connection status (1=connected, 0=disconnected)",
			},
		),
		StoreConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "database_connection_status",
				Help:      "Database connection status (1=connected, 0=disconnected)",
			},
		),
		ProcessingTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "vote_processing_duration_seconds",
				Help:      "Time spent processing a single vote event",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),
		TallyBroadcasts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tally_broadcasts_total",
				Help:      "Total number of tally ticks broadcast to subscribers",
			},
		),
		VotesByOption: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "database_votes_by_option",
				Help:      "Current votes in the database by option",
			},
			[]string{"option"},
		),
	}
}

// FrontendMetrics covers the vote HTTP front end.
type FrontendMetrics struct {
	VotesSubmitted *prometheus.CounterVec
	QueueConnected prometheus.Gauge
	StoreConnected prometheus.Gauge
}

func NewFrontendMetrics(reg prometheus.Registerer, namespace string) *FrontendMetrics {
	factory := promauto.With(reg)
	return &FrontendMetrics{
		VotesSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "votes_total",
				Help:      "Total number of votes accepted and enqueued",
			},
			[]string{"vote_type"},
		),
		QueueConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "redis_connection_status",
				Help:      "Queue connection status (1=connected, 0=disconnected)",
			},
		),
		StoreConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "database_connection_status",
				Help:      "Database connection status (1=connected, 0=disconnected)",
			},
		),
	}
}
