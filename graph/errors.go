package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEntryPointNotSet is returned when the entry point of the graph is not set.
	ErrEntryPointNotSet = errors.New("entry point not set")

	// ErrUnknownNode is returned when an edge, entry point, or attribution
	// references a node that is not registered.
	ErrUnknownNode = errors.New("unknown node")

	// ErrDuplicateNode is returned when a node name is registered twice.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrNoOutgoingEdge is returned when a node has no outgoing route at run
	// time. Compile reports this up front; the sentinel guards dynamic paths.
	ErrNoOutgoingEdge = errors.New("no outgoing edge found for node")

	// ErrUnknownBranch is returned when a conditional edge's decision value
	// has no mapped destination. The thread is left at its last snapshot.
	ErrUnknownBranch = errors.New("unknown branch")

	// ErrReducerType is returned when a registered reducer cannot combine the
	// current and incoming values for a field.
	ErrReducerType = errors.New("reducer type mismatch")

	// ErrStepLimit is returned when a single invocation exceeds its step cap.
	// The thread stays resumable from the last written snapshot.
	ErrStepLimit = errors.New("step limit exceeded")

	// ErrThreadExists is returned when Invoke is given an initial state for a
	// thread that already has history. Manual state injection goes through
	// UpdateState so that it is attributed to an execution point.
	ErrThreadExists = errors.New("thread already has history")
)

// ValidationError reports every problem found while compiling a graph, not
// just the first one.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid graph: %s", strings.Join(e.Issues, "; "))
}
