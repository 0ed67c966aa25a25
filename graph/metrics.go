package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics receives execution events from the engine. A nil Metrics disables
// instrumentation.
type Metrics interface {
	// NodeExecuted records one completed node run. status is "success" or
	// "error".
	NodeExecuted(node, status string, elapsed time.Duration)

	// SnapshotWritten records one snapshot append to the store.
	SnapshotWritten(threadID string)

	// InvokeFinished records one finished invocation. status is "completed",
	// "error" or "step_limit".
	InvokeFinished(status string, steps int)
}

// PrometheusMetrics implements Metrics on a Prometheus registry. All metrics
// are namespaced "loom".
type PrometheusMetrics struct {
	nodeLatency *prometheus.HistogramVec
	snapshots   *prometheus.CounterVec
	invokes     *prometheus.CounterVec
	invokeSteps prometheus.Histogram
}

var _ Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers the engine metrics with the given registry.
// Pass prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry for isolation.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loom",
			Name:      "node_duration_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node", "status"}),
		snapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "snapshots_written_total",
			Help:      "Snapshots appended to the store",
		}, []string{"thread_id"}),
		invokes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "invocations_total",
			Help:      "Finished invocations by outcome",
		}, []string{"status"}),
		invokeSteps: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loom",
			Name:      "invocation_steps",
			Help:      "Node executions per invocation",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
	}
}

// NodeExecuted records one completed node run.
func (m *PrometheusMetrics) NodeExecuted(node, status string, elapsed time.Duration) {
	m.nodeLatency.WithLabelValues(node, status).Observe(float64(elapsed.Milliseconds()))
}

// SnapshotWritten records one snapshot append.
func (m *PrometheusMetrics) SnapshotWritten(threadID string) {
	m.snapshots.WithLabelValues(threadID).Inc()
}

// InvokeFinished records one finished invocation.
func (m *PrometheusMetrics) InvokeFinished(status string, steps int) {
	m.invokes.WithLabelValues(status).Inc()
	m.invokeSteps.Observe(float64(steps))
}
