// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Discovery metrics
	LogsReceived      prometheus.Counter
	PoolsDetected     prometheus.Counter
	JobsEnqueued      *prometheus.CounterVec
	DetectionsDropped prometheus.Counter
	EnqueueErrors     prometheus.Counter

	// Subscription metrics
	SubscriptionState   prometheus.Gauge
	ReconnectAttempts   prometheus.Counter
	SubscriptionFailure *prometheus.CounterVec

	// Worker metrics
	JobsProcessed   *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	ResultsDropped  prometheus.Counter
	QueueDepth      *prometheus.GaugeVec
	TokensStored    *prometheus.CounterVec
	ResolveSkipped  prometheus.Counter
	ResolveFailures *prometheus.CounterVec
	URIFetchErrors  prometheus.Counter

	// Latency metrics
	ResolveLatency prometheus.Histogram
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastTokenStored prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered with reg.
// A nil reg registers with the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "pool_sentinel"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Discovery metrics
		LogsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "logs_received_total",
			Help:      "Total number of log notifications received",
		}),
		PoolsDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "pools_detected_total",
			Help:      "Total number of successful pool initializations detected",
		}),
		JobsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs enqueued by queue",
		}, []string{"queue"}),
		DetectionsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "detections_dropped_total",
			Help:      "Detections dropped because the enqueue buffer was full",
		}),
		EnqueueErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "enqueue_errors_total",
			Help:      "Total number of failed enqueue calls",
		}),

		// Subscription metrics
		SubscriptionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "state",
			Help:      "Subscription state: 0 disconnected, 1 connecting, 2 connected, 3 fatal",
		}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnect attempts",
		}),
		SubscriptionFailure: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "failures_total",
			Help:      "Subscription failures by phase",
		}, []string{"phase"}),

		// Worker metrics
		JobsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_processed_total",
			Help:      "Total number of job outcomes by queue and status",
		}, []string{"queue", "status"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Job processing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		ResultsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "results_dropped_total",
			Help:      "Job results dropped because no sink kept up",
		}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of jobs by queue and state",
		}, []string{"queue", "state"}),
		TokensStored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "tokens_stored_total",
			Help:      "Total number of token records stored by risk level",
		}, []string{"risk_level"}),
		ResolveSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "resolve_skipped_total",
			Help:      "Transactions that resolved to no token",
		}),
		ResolveFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "resolve_failures_total",
			Help:      "Resolution failures by reason",
		}, []string{"reason"}),
		URIFetchErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "uri_fetch_errors_total",
			Help:      "Off-chain metadata fetches that failed",
		}),

		// Latency metrics
		ResolveLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "resolve_latency_seconds",
			Help:      "Transaction resolution latency in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}),
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_errors_total",
			Help:      "Solana RPC call errors by method",
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastTokenStored: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_token_stored_timestamp",
			Help:      "Unix timestamp of the last stored token record",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint of the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns an HTTP handler for the /metrics endpoint of g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordLogReceived increments the received logs counter.
func (m *Metrics) RecordLogReceived() {
	if m == nil {
		return
	}
	m.LogsReceived.Inc()
}

// RecordPoolDetected increments the detections counter.
func (m *Metrics) RecordPoolDetected() {
	if m == nil {
		return
	}
	m.PoolsDetected.Inc()
}

// RecordEnqueue records the outcome of one enqueue call.
func (m *Metrics) RecordEnqueue(queue string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.EnqueueErrors.Inc()
		return
	}
	m.JobsEnqueued.WithLabelValues(queue).Inc()
}

// RecordDetectionDropped increments the dropped detections counter.
func (m *Metrics) RecordDetectionDropped() {
	if m == nil {
		return
	}
	m.DetectionsDropped.Inc()
}

// SetSubscriptionState publishes the supervisor state.
func (m *Metrics) SetSubscriptionState(state int) {
	if m == nil {
		return
	}
	m.SubscriptionState.Set(float64(state))
}

// RecordReconnect increments the reconnect attempts counter.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// RecordSubscriptionFailure records a failed start or a lost stream.
func (m *Metrics) RecordSubscriptionFailure(phase string) {
	if m == nil {
		return
	}
	m.SubscriptionFailure.WithLabelValues(phase).Inc()
}

// RecordJob records a job outcome.
func (m *Metrics) RecordJob(queue, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(queue, status).Inc()
	if elapsed > 0 {
		m.JobDuration.WithLabelValues(queue).Observe(elapsed.Seconds())
	}
}

// RecordResultDropped increments the dropped results counter.
func (m *Metrics) RecordResultDropped() {
	if m == nil {
		return
	}
	m.ResultsDropped.Inc()
}

// SetQueueDepth publishes queue depth per state.
func (m *Metrics) SetQueueDepth(queue string, waiting, active, failed int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue, "waiting").Set(float64(waiting))
	m.QueueDepth.WithLabelValues(queue, "active").Set(float64(active))
	m.QueueDepth.WithLabelValues(queue, "failed").Set(float64(failed))
}

// RecordTokenStored records a persisted token.
func (m *Metrics) RecordTokenStored(riskLevel string) {
	if m == nil {
		return
	}
	m.TokensStored.WithLabelValues(riskLevel).Inc()
	m.LastTokenStored.SetToCurrentTime()
}

// RecordResolve records the latency and outcome of one resolution.
// reason is empty on success.
func (m *Metrics) RecordResolve(elapsed time.Duration, skipped bool, reason string) {
	if m == nil {
		return
	}
	m.ResolveLatency.Observe(elapsed.Seconds())
	switch {
	case reason != "":
		m.ResolveFailures.WithLabelValues(reason).Inc()
	case skipped:
		m.ResolveSkipped.Inc()
	}
}

// RecordURIFetchError increments the off-chain fetch error counter.
func (m *Metrics) RecordURIFetchError() {
	if m == nil {
		return
	}
	m.URIFetchErrors.Inc()
}

// RecordRPCCall records RPC call latency and errors.
func (m *Metrics) RecordRPCCall(method string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(elapsed.Seconds())
	if err != nil {
		m.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(elapsed.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
