package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Exporter renders a graph's topology in diagram formats.
type Exporter struct {
	graph *StateGraph
}

// NewExporter creates an exporter for a graph under construction.
func NewExporter(graph *StateGraph) *Exporter {
	return &Exporter{graph: graph}
}

// Export returns an exporter for a compiled graph.
func (r *Runnable) Export() *Exporter {
	return NewExporter(r.graph)
}

// DrawMermaid generates a Mermaid flowchart of the graph. Conditional routes
// are drawn as dashed edges labeled with their branch key.
func (e *Exporter) DrawMermaid() string {
	var sb strings.Builder
	sb.WriteString("flowchart TD\n")

	if e.graph.entryPoint != "" {
		sb.WriteString("    START([\"START\"])\n")
		sb.WriteString(fmt.Sprintf("    START --> %s\n", e.graph.entryPoint))
		sb.WriteString("    style START fill:#90EE90\n")
	}

	for _, name := range e.nodeNames() {
		sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", name, name))
	}
	if e.referencesEnd() {
		sb.WriteString("    END([\"END\"])\n")
		sb.WriteString("    style END fill:#FFB6C1\n")
	}

	for _, from := range sortedKeys(e.graph.edges) {
		sb.WriteString(fmt.Sprintf("    %s --> %s\n", from, e.graph.edges[from]))
	}
	for _, from := range sortedKeys(e.graph.conditionalEdges) {
		routes := e.graph.conditionalEdges[from].routes
		for _, key := range sortedKeys(routes) {
			sb.WriteString(fmt.Sprintf("    %s -.->|%s| %s\n", from, key, routes[key]))
		}
	}

	if e.graph.entryPoint != "" {
		sb.WriteString(fmt.Sprintf("    style %s fill:#87CEEB\n", e.graph.entryPoint))
	}

	return sb.String()
}

// DrawDOT generates a DOT (Graphviz) representation of the graph.
func (e *Exporter) DrawDOT() string {
	var sb strings.Builder
	sb.WriteString("digraph G {\n")
	sb.WriteString("    rankdir=TD;\n")
	sb.WriteString("    node [shape=box];\n")

	if e.graph.entryPoint != "" {
		sb.WriteString("    START [label=\"START\", shape=ellipse, style=filled, fillcolor=lightgreen];\n")
		sb.WriteString(fmt.Sprintf("    START -> %s;\n", e.graph.entryPoint))
		sb.WriteString(fmt.Sprintf("    %s [style=filled, fillcolor=lightblue];\n", e.graph.entryPoint))
	}
	if e.referencesEnd() {
		sb.WriteString("    END [label=\"END\", shape=ellipse, style=filled, fillcolor=lightpink];\n")
	}

	for _, from := range sortedKeys(e.graph.edges) {
		sb.WriteString(fmt.Sprintf("    %s -> %s;\n", from, e.graph.edges[from]))
	}
	for _, from := range sortedKeys(e.graph.conditionalEdges) {
		routes := e.graph.conditionalEdges[from].routes
		for _, key := range sortedKeys(routes) {
			sb.WriteString(fmt.Sprintf("    %s -> %s [style=dashed, label=\"%s\"];\n", from, routes[key], key))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func (e *Exporter) nodeNames() []string {
	names := make([]string, 0, len(e.graph.nodes))
	for name := range e.graph.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Exporter) referencesEnd() bool {
	for _, to := range e.graph.edges {
		if to == END {
			return true
		}
	}
	for _, ce := range e.graph.conditionalEdges {
		for _, to := range ce.routes {
			if to == END {
				return true
			}
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
