package graph

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomgraph/loom/log"
	"github.com/loomgraph/loom/store"
)

// END is the terminal marker. Routing to END finishes the thread; no node
// named END ever executes.
const END = "END"

// State is the full graph state passed to every node.
type State = map[string]any

// NodeFunc is the signature of a node. It receives the current state and
// returns a partial update to merge through the schema. Returning an error
// aborts the invocation without writing a snapshot.
type NodeFunc func(ctx context.Context, state State) (State, error)

// DecisionFunc inspects the state after a node ran and returns a branch key.
// The key is looked up in the routes map of the conditional edge.
type DecisionFunc func(ctx context.Context, state State) string

// Node is a named unit of work in the graph.
type Node struct {
	Name     string
	Function NodeFunc
}

// conditionalEdge routes from one node to one of several destinations based
// on a decision over the merged state.
type conditionalEdge struct {
	decide DecisionFunc
	routes map[string]string
}

// StateGraph is the mutable builder for a graph. Build it up with AddNode,
// AddEdge, AddConditionalEdge and SetEntryPoint, then Compile it against a
// snapshot store. Builder methods record problems instead of failing, and
// Compile reports all of them at once.
type StateGraph struct {
	nodes            map[string]Node
	edges            map[string]string
	conditionalEdges map[string]conditionalEdge
	entryPoint       string
	schema           *Schema

	issues []string
}

// NewStateGraph creates a new empty graph with a default schema (every field
// overwritten on update).
func NewStateGraph() *StateGraph {
	return &StateGraph{
		nodes:            make(map[string]Node),
		edges:            make(map[string]string),
		conditionalEdges: make(map[string]conditionalEdge),
		schema:           NewSchema(),
	}
}

// AddNode registers a node under the given name.
func (g *StateGraph) AddNode(name string, fn NodeFunc) *StateGraph {
	if name == END {
		g.issues = append(g.issues, fmt.Sprintf("node name %q is reserved", END))
		return g
	}
	if _, exists := g.nodes[name]; exists {
		g.issues = append(g.issues, fmt.Sprintf("%s: %q", ErrDuplicateNode, name))
		return g
	}
	if fn == nil {
		g.issues = append(g.issues, fmt.Sprintf("node %q has a nil function", name))
		return g
	}
	g.nodes[name] = Node{Name: name, Function: fn}
	return g
}

// AddEdge adds a fixed edge from one node to another, or to END.
func (g *StateGraph) AddEdge(from, to string) *StateGraph {
	if _, exists := g.edges[from]; exists {
		g.issues = append(g.issues, fmt.Sprintf("node %q already has an outgoing edge", from))
		return g
	}
	if _, exists := g.conditionalEdges[from]; exists {
		g.issues = append(g.issues, fmt.Sprintf("node %q already has a conditional edge", from))
		return g
	}
	g.edges[from] = to
	return g
}

// AddConditionalEdge routes from a node to one of several destinations. After
// the node runs, decide is called on the merged state and its return value is
// looked up in routes to pick the destination.
func (g *StateGraph) AddConditionalEdge(from string, decide DecisionFunc, routes map[string]string) *StateGraph {
	if _, exists := g.edges[from]; exists {
		g.issues = append(g.issues, fmt.Sprintf("node %q already has an outgoing edge", from))
		return g
	}
	if _, exists := g.conditionalEdges[from]; exists {
		g.issues = append(g.issues, fmt.Sprintf("node %q already has a conditional edge", from))
		return g
	}
	if decide == nil {
		g.issues = append(g.issues, fmt.Sprintf("conditional edge from %q has a nil decision function", from))
		return g
	}
	if len(routes) == 0 {
		g.issues = append(g.issues, fmt.Sprintf("conditional edge from %q has no routes", from))
		return g
	}
	g.conditionalEdges[from] = conditionalEdge{decide: decide, routes: routes}
	return g
}

// SetEntryPoint sets the node every fresh thread starts from.
func (g *StateGraph) SetEntryPoint(name string) *StateGraph {
	g.entryPoint = name
	return g
}

// SetSchema replaces the state schema. Reducers registered on the previous
// schema are discarded.
func (g *StateGraph) SetSchema(schema *Schema) *StateGraph {
	g.schema = schema
	return g
}

// RegisterReducer adds a reducer for a state field on the graph's schema.
func (g *StateGraph) RegisterReducer(key string, reducer Reducer) *StateGraph {
	g.schema.RegisterReducer(key, reducer)
	return g
}

// Compile validates the whole graph and binds it to a snapshot store. Every
// structural problem is reported in one ValidationError rather than just the
// first. The returned Runnable is safe for concurrent use.
func (g *StateGraph) Compile(st store.Store, opts ...Option) (*Runnable, error) {
	issues := append([]string(nil), g.issues...)

	if st == nil {
		issues = append(issues, "store is nil")
	}
	if g.entryPoint == "" {
		issues = append(issues, ErrEntryPointNotSet.Error())
	} else if _, ok := g.nodes[g.entryPoint]; !ok {
		issues = append(issues, fmt.Sprintf("entry point %q is not a registered node", g.entryPoint))
	}
	if len(g.nodes) == 0 {
		issues = append(issues, "graph has no nodes")
	}
	if g.schema == nil {
		issues = append(issues, "schema is nil")
	}

	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			issues = append(issues, fmt.Sprintf("edge from unknown node %q", from))
		}
		if to != END {
			if _, ok := g.nodes[to]; !ok {
				issues = append(issues, fmt.Sprintf("edge from %q to unknown node %q", from, to))
			}
		}
	}
	for from, ce := range g.conditionalEdges {
		if _, ok := g.nodes[from]; !ok {
			issues = append(issues, fmt.Sprintf("conditional edge from unknown node %q", from))
		}
		for key, to := range ce.routes {
			if to != END {
				if _, ok := g.nodes[to]; !ok {
					issues = append(issues, fmt.Sprintf("conditional edge from %q routes %q to unknown node %q", from, key, to))
				}
			}
		}
	}

	// Every node needs a way out.
	for name := range g.nodes {
		_, hasEdge := g.edges[name]
		_, hasCond := g.conditionalEdges[name]
		if !hasEdge && !hasCond {
			issues = append(issues, fmt.Sprintf("node %q has no outgoing edge", name))
		}
	}

	if len(issues) > 0 {
		sort.Strings(issues)
		return nil, &ValidationError{Issues: issues}
	}

	// The compiled graph is a snapshot of the builder: AddNode, AddEdge and
	// RegisterReducer calls made after Compile do not reach the Runnable.
	compiled := &StateGraph{
		nodes:            maps.Clone(g.nodes),
		edges:            maps.Clone(g.edges),
		conditionalEdges: maps.Clone(g.conditionalEdges),
		entryPoint:       g.entryPoint,
		schema:           &Schema{Reducers: maps.Clone(g.schema.Reducers)},
	}

	r := &Runnable{
		graph:    compiled,
		store:    st,
		maxSteps: DefaultMaxSteps,
		logger:   log.GetDefaultLogger(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		threads:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// successors returns the destinations reachable from a node given the merged
// state. A fixed edge yields one destination; a conditional edge resolves its
// decision function against the routes map.
func (g *StateGraph) successors(ctx context.Context, node string, state State) ([]string, error) {
	if to, ok := g.edges[node]; ok {
		return []string{to}, nil
	}
	if ce, ok := g.conditionalEdges[node]; ok {
		key := ce.decide(ctx, state)
		to, ok := ce.routes[key]
		if !ok {
			return nil, fmt.Errorf("%w: node %q returned %q", ErrUnknownBranch, node, key)
		}
		return []string{to}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoOutgoingEdge, node)
}
