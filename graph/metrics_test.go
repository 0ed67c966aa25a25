package graph

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/loomgraph/loom/store/memory"
)

func TestPrometheusMetrics_CountsExecution(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	st := memory.NewMemoryStore()
	runnable := counterGraph(t, st, WithMetrics(metrics))
	ctx := context.Background()

	_, err := runnable.Invoke(ctx, "thread-1", State{"count": 0})
	assert.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.invokes.WithLabelValues("completed")))
	// Seed plus four node steps.
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.snapshots.WithLabelValues("thread-1")))
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.nodeLatency, "loom_node_duration_ms"))
}

func TestPrometheusMetrics_CountsNodeErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	st := memory.NewMemoryStore()
	g := NewStateGraph()
	g.AddNode("fail", func(ctx context.Context, state State) (State, error) {
		return nil, assert.AnError
	})
	g.AddEdge("fail", END)
	g.SetEntryPoint("fail")

	runnable, err := g.Compile(st, WithMetrics(metrics))
	assert.NoError(t, err)

	_, err = runnable.Invoke(context.Background(), "thread-1", State{})
	assert.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.invokes.WithLabelValues("error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.invokes.WithLabelValues("completed")))
}

func TestPrometheusMetrics_StepLimitOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	st := memory.NewMemoryStore()
	g := NewStateGraph()
	g.AddNode("a", noopNode)
	g.AddNode("b", noopNode)
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")
	g.SetEntryPoint("a")

	runnable, err := g.Compile(st, WithMetrics(metrics), WithMaxSteps(3))
	assert.NoError(t, err)

	_, err = runnable.Invoke(context.Background(), "thread-1", State{})
	assert.ErrorIs(t, err, ErrStepLimit)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.invokes.WithLabelValues("step_limit")))
}
