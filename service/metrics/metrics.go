package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "homepass"

// Metrics holds every Prometheus collector the service records to. It is
// passed explicitly to the components that need it; a nil *Metrics means
// "don't record" and every caller checks for it.
type Metrics struct {
	// Ledger gateway
	rpcCalls        *prometheus.CounterVec
	rpcDuration     *prometheus.HistogramVec
	rpcRetries      *prometheus.CounterVec
	txSubmitted     *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	refreshes       *prometheus.CounterVec

	// Published snapshot
	generation  prometheus.Gauge
	initialized prometheus.Gauge

	actions        *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec

	dbDuration   *prometheus.HistogramVec
	dbOperations *prometheus.CounterVec

	httpDuration *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec

	natsPublished *prometheus.CounterVec
	natsDuration  *prometheus.HistogramVec
}

// NewMetrics registers the collectors with registry, or with
// prometheus.DefaultRegisterer when registry is nil. Registering twice with
// the same registry panics, so tests pass a fresh prometheus.NewRegistry().
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}
	histogram := func(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
		}, labels)
	}

	return &Metrics{
		rpcCalls: counter("rpc", "calls_total",
			"Ledger RPC calls by method, outcome and endpoint.", "method", "status", "endpoint"),
		rpcDuration: histogram("rpc", "call_duration_seconds",
			"Ledger RPC call latency.", []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}, "method", "endpoint"),
		rpcRetries: counter("rpc", "retries_total",
			"Ledger RPC calls retried while polling for confirmation.", "method", "reason"),
		txSubmitted: counter("rpc", "transactions_total",
			"Submitted transactions by final outcome.", "status"),

		refreshDuration: histogram("state", "refresh_duration_seconds",
			"Time to read every catalog property from the ledger.", []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}, "status"),
		refreshes: counter("state", "refreshes_total",
			"Refresh passes by outcome.", "status"),
		generation: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "state", Name: "generation",
			Help: "Generation of the published property snapshot.",
		}),
		initialized: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "state", Name: "properties_initialized",
			Help: "Properties launched on-chain in the published snapshot.",
		}),

		actions: counter("actions", "total",
			"Share actions submitted, by action, property and outcome.", "action", "property_id", "status"),
		actionDuration: histogram("actions", "duration_seconds",
			"Share action latency including confirmation.", []float64{0.5, 1, 2.5, 5, 10, 30, 60}, "action"),

		dbDuration: histogram("db", "query_duration_seconds",
			"Receipt store query latency.", []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}, "operation", "table"),
		dbOperations: counter("db", "operations_total",
			"Receipt store operations by outcome.", "operation", "status"),

		httpDuration: histogram("http", "request_duration_seconds",
			"API request latency.", []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10, 60}, "handler", "method", "code"),
		httpRequests: counter("http", "requests_total",
			"API requests by route, method and status class.", "handler", "method", "code"),

		natsPublished: counter("nats", "published_total",
			"Events published to JetStream by subject and outcome.", "subject", "status"),
		natsDuration: histogram("nats", "publish_duration_seconds",
			"JetStream publish latency.", []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5}, "subject"),
	}
}

// RecordRPCCall records one ledger RPC call.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.rpcCalls.WithLabelValues(method, status, endpoint).Inc()
	m.rpcDuration.WithLabelValues(method, endpoint).Observe(duration)
}

func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.rpcRetries.WithLabelValues(method, reason).Inc()
}

func (m *Metrics) RecordTransactionSubmitted(status string) {
	m.txSubmitted.WithLabelValues(status).Inc()
}

// RecordRefresh records one refresh pass; status is "success" or "error".
func (m *Metrics) RecordRefresh(status string, duration float64) {
	m.refreshDuration.WithLabelValues(status).Observe(duration)
	m.refreshes.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordSnapshotPublished(generation uint64, initialized int) {
	m.generation.Set(float64(generation))
	m.initialized.Set(float64(initialized))
}

// RecordAction records a submitted action. Validation rejections never
// reach the ledger and are not recorded here.
func (m *Metrics) RecordAction(action, propertyID, status string, duration float64) {
	m.actions.WithLabelValues(action, propertyID, status).Inc()
	m.actionDuration.WithLabelValues(action).Observe(duration)
}

func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperations.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	code := statusClass(statusCode)
	m.httpDuration.WithLabelValues(handler, method, code).Observe(duration)
	m.httpRequests.WithLabelValues(handler, method, code).Inc()
}

func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsPublished.WithLabelValues(subject, status).Inc()
	m.natsDuration.WithLabelValues(subject).Observe(duration)
}

// statusClass maps 404 to "4xx".
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
