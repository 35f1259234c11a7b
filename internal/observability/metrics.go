package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the session façade, the
// worker transport, and the build driver. All collectors are registered
// via promauto at construction time, against the Registerer passed to
// NewMetrics (the default registry when that is nil).
type Metrics struct {
	RPCRequestsTotal   *prometheus.CounterVec
	RPCRequestDuration *prometheus.HistogramVec
	RPCErrorsTotal     *prometheus.CounterVec

	WorkersActive       prometheus.Gauge
	WorkerRestartsTotal prometheus.Counter

	CompileProgressEvents prometheus.Histogram
	CompileDiagnostics    *prometheus.CounterVec

	SessionsActive   prometheus.Gauge
	SessionsTotal    prometheus.Counter
	TokenAdvancesTotal prometheus.Counter
}

// NewMetrics registers and returns the metrics collectors against reg.
// namespace prefixes every metric name (e.g. "ideport"). reg may be nil,
// in which case the collectors register against prometheus's default
// registry (the production case, scraped via an HTTP handler); callers
// that construct more than one Metrics in the same process — tests doing
// so across table cases, an embedder hosting several sessions under
// separate registries — must pass a dedicated prometheus.Registerer, or
// promauto panics on the second, colliding registration.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RPCRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total RPC requests sent to the worker, by kind.",
		}, []string{"kind"}),

		RPCRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "RPC request latency to the worker, by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		RPCErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "errors_total",
			Help:      "RPC errors returned by the worker, by kind and error class.",
		}, []string{"kind", "class"}),

		WorkersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "active",
			Help:      "Number of worker subprocesses currently running.",
		}),

		WorkerRestartsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Number of times a worker connection was discarded and respawned after a transport failure.",
		}),

		CompileProgressEvents: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "compile",
			Name:      "progress_events",
			Help:      "Number of progress events emitted per compile.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),

		CompileDiagnostics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compile",
			Name:      "diagnostics_total",
			Help:      "Diagnostics produced by compiles, by kind.",
		}, []string{"kind"}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of sessions currently initialized and not yet shut down.",
		}),

		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "total",
			Help:      "Total sessions initialized.",
		}),

		TokenAdvancesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "token_advances_total",
			Help:      "Total advances of the process-wide state token.",
		}),
	}
}

// RecordRPC records the outcome of a single RPC call to the worker.
func (m *Metrics) RecordRPC(kind string, seconds float64, err error) {
	m.RPCRequestsTotal.WithLabelValues(kind).Inc()
	m.RPCRequestDuration.WithLabelValues(kind).Observe(seconds)
	if err != nil {
		m.RPCErrorsTotal.WithLabelValues(kind, classifyError(err)).Inc()
	}
}

// RecordWorkerRestart increments the worker-restart counter, called
// whenever a transport failure causes the session to discard and respawn
// its worker connection.
func (m *Metrics) RecordWorkerRestart() {
	m.WorkerRestartsTotal.Inc()
}

// RecordCompile records the number of progress events a single compile
// emitted and tallies its resulting diagnostics by kind.
func (m *Metrics) RecordCompile(progressEvents int, diagnosticKinds []string) {
	m.CompileProgressEvents.Observe(float64(progressEvents))
	for _, k := range diagnosticKinds {
		m.CompileDiagnostics.WithLabelValues(k).Inc()
	}
}

// SessionStarted and SessionEnded track the live session gauge.
func (m *Metrics) SessionStarted() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded() {
	m.SessionsActive.Dec()
}

func classifyError(err error) string {
	if err == nil {
		return "none"
	}
	return "error"
}
