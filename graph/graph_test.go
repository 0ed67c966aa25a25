package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomgraph/loom/store/memory"
)

func noopNode(ctx context.Context, state State) (State, error) {
	return nil, nil
}

func TestCompile_Valid(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("plan", noopNode)
	g.AddNode("act", noopNode)
	g.AddEdge("plan", "act")
	g.AddConditionalEdge("act", func(ctx context.Context, state State) string {
		return "done"
	}, map[string]string{"done": END, "again": "plan"})
	g.SetEntryPoint("plan")

	runnable, err := g.Compile(memory.NewMemoryStore())
	assert.NoError(t, err)
	assert.NotNil(t, runnable)
}

func TestCompile_ReportsAllIssues(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("a", noopNode)
	// Duplicate name, reserved name, unknown edge endpoints, a node with no
	// way out, and a conditional edge with no decision function.
	g.AddNode("a", noopNode)
	g.AddNode(END, noopNode)
	g.AddEdge("a", "ghost")
	g.AddEdge("phantom", END)
	g.AddNode("island", noopNode)
	g.AddConditionalEdge("island", nil, nil)

	_, err := g.Compile(memory.NewMemoryStore())
	assert.Error(t, err)

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	// Entry point missing, duplicate node, reserved name, unknown edge
	// endpoints, nil decision fn, empty routes, island without an edge.
	assert.GreaterOrEqual(t, len(verr.Issues), 6)
	assert.Contains(t, err.Error(), "duplicate node")
	assert.Contains(t, err.Error(), "entry point not set")
	assert.Contains(t, err.Error(), "ghost")
	assert.Contains(t, err.Error(), "phantom")
}

func TestCompile_EntryPointMustBeRegistered(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("a", noopNode)
	g.AddEdge("a", END)
	g.SetEntryPoint("missing")

	_, err := g.Compile(memory.NewMemoryStore())
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "missing")
}

func TestCompile_ConditionalRouteTargetsValidated(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("a", noopNode)
	g.AddConditionalEdge("a", func(ctx context.Context, state State) string {
		return "x"
	}, map[string]string{"x": "nowhere"})
	g.SetEntryPoint("a")

	_, err := g.Compile(memory.NewMemoryStore())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere")
}

func TestCompile_NilStore(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("a", noopNode)
	g.AddEdge("a", END)
	g.SetEntryPoint("a")

	_, err := g.Compile(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store is nil")
}

func TestCompile_SnapshotsBuilderState(t *testing.T) {
	st := memory.NewMemoryStore()

	g := NewStateGraph()
	g.AddNode("a", func(ctx context.Context, state State) (State, error) {
		return State{"count": 1}, nil
	})
	g.AddEdge("a", END)
	g.SetEntryPoint("a")

	runnable, err := g.Compile(st)
	assert.NoError(t, err)

	// Builder changes after Compile must not reach the compiled graph.
	g.RegisterReducer("count", SumReducer)
	g.AddNode("b", noopNode)
	g.AddEdge("b", END)
	g.SetEntryPoint("b")

	// Without the late reducer, the node's write overwrites the initial 10.
	final, err := runnable.Invoke(context.Background(), "thread-1", State{"count": 10})
	assert.NoError(t, err)
	assert.Equal(t, 1, final["count"])

	// The late node does not exist on the compiled graph.
	_, err = runnable.UpdateState(context.Background(), "thread-1", State{"x": 1}, "b")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestCompile_SecondEdgeFromSameNodeRejected(t *testing.T) {
	g := NewStateGraph()
	g.AddNode("a", noopNode)
	g.AddNode("b", noopNode)
	g.AddEdge("a", "b")
	g.AddEdge("a", END)
	g.AddEdge("b", END)
	g.SetEntryPoint("a")

	_, err := g.Compile(memory.NewMemoryStore())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already has an outgoing edge")
}
