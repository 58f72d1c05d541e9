// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger metrics
	LedgerRequestLatency *prometheus.HistogramVec
	LedgerRequestErrors  *prometheus.CounterVec
	LedgerRetries        *prometheus.CounterVec

	// Seek metrics
	SeekProbes *prometheus.CounterVec

	// Harvest metrics
	PagesProcessed      *prometheus.CounterVec
	TransactionsInRange *prometheus.CounterVec
	ActionsEmitted      *prometheus.CounterVec
	RecordsDropped      *prometheus.CounterVec
	CheckpointWrites    *prometheus.CounterVec
	NewestTimestampSeen *prometheus.GaugeVec

	// Aggregation metrics
	AggregatedRows *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "anchor_flow"
	}

	return &Metrics{
		LedgerRequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "request_duration_seconds",
			Help:      "Ledger request latency per endpoint kind and operation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "op"}),
		LedgerRequestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "request_errors_total",
			Help:      "Failed ledger request attempts",
		}, []string{"endpoint", "op"}),
		LedgerRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "retries_total",
			Help:      "Ledger request retries after a failed attempt",
		}, []string{"endpoint", "op"}),

		SeekProbes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "seek",
			Name:      "probes_total",
			Help:      "Binary search probes issued by the window locator",
		}, []string{"variant"}),

		PagesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "pages_total",
			Help:      "Ledger pages consulted, by harvest state",
		}, []string{"label", "state"}),
		TransactionsInRange: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "transactions_in_window_total",
			Help:      "Transactions whose timestamp fell inside the window",
		}, []string{"label"}),
		ActionsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "actions_total",
			Help:      "Canonical actions appended to the action sink",
		}, []string{"label", "kind"}),
		RecordsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "records_dropped_total",
			Help:      "Records dropped during extraction, by reason",
		}, []string{"label", "reason"}),
		CheckpointWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "checkpoint_writes_total",
			Help:      "Checkpoint writes after processed pages",
		}, []string{"label"}),
		NewestTimestampSeen: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "harvest",
			Name:      "newest_timestamp_seconds",
			Help:      "Newest transaction timestamp on the last processed page",
		}, []string{"label"}),

		AggregatedRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "rows_total",
			Help:      "Hourly flow rows produced by aggregation",
		}, []string{"kind"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordLedgerRequest records one ledger request attempt.
func RecordLedgerRequest(endpoint, op string, seconds float64, err error) {
	DefaultMetrics.LedgerRequestLatency.WithLabelValues(endpoint, op).Observe(seconds)
	if err != nil {
		DefaultMetrics.LedgerRequestErrors.WithLabelValues(endpoint, op).Inc()
	}
}

// RecordLedgerRetry records a retry after a failed attempt.
func RecordLedgerRetry(endpoint, op string) {
	DefaultMetrics.LedgerRetries.WithLabelValues(endpoint, op).Inc()
}

// RecordSeekProbe records one binary search probe.
func RecordSeekProbe(variant string) {
	DefaultMetrics.SeekProbes.WithLabelValues(variant).Inc()
}

// RecordPage records a consulted page.
func RecordPage(label, state string) {
	DefaultMetrics.PagesProcessed.WithLabelValues(label, state).Inc()
}

// RecordTransactionsInWindow adds n in-window transactions.
func RecordTransactionsInWindow(label string, n int) {
	DefaultMetrics.TransactionsInRange.WithLabelValues(label).Add(float64(n))
}

// RecordAction records an emitted action.
func RecordAction(label, kind string) {
	DefaultMetrics.ActionsEmitted.WithLabelValues(label, kind).Inc()
}

// RecordDropped adds n dropped records for reason.
func RecordDropped(label, reason string, n int) {
	if n <= 0 {
		return
	}
	DefaultMetrics.RecordsDropped.WithLabelValues(label, reason).Add(float64(n))
}

// RecordCheckpoint records a checkpoint write and the newest timestamp seen.
func RecordCheckpoint(label string, newestUnix int64) {
	DefaultMetrics.CheckpointWrites.WithLabelValues(label).Inc()
	DefaultMetrics.NewestTimestampSeen.WithLabelValues(label).Set(float64(newestUnix))
}

// RecordAggregatedRows adds n aggregated rows for kind.
func RecordAggregatedRows(kind string, n int) {
	DefaultMetrics.AggregatedRows.WithLabelValues(kind).Add(float64(n))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
