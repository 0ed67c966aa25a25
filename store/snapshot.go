package store

import (
	"context"
	"errors"
	"reflect"
	"time"
)

var (
	// ErrNotFound is returned when a requested thread or snapshot does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID is returned when appending a snapshot whose ID is already
	// present. Snapshots are immutable; corrections are expressed as new
	// snapshots with a new parent, never as overwrites.
	ErrDuplicateID = errors.New("duplicate snapshot id")
)

// SeedStep is the step number of a thread's seed snapshot, written from the
// caller-supplied initial state before any node has run.
const SeedStep = -1

// Snapshot is an immutable, persisted record of thread state at one execution
// step. Parent linkage forms a forest per thread: forking from a historical
// snapshot creates a sibling branch, so multiple snapshots may share a step
// number and callers must disambiguate branches by ID.
type Snapshot struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`

	// Step is SeedStep (-1) for the seed and parent.Step+1 afterwards.
	Step int `json:"step"`

	// ParentID is empty only for the seed snapshot.
	ParentID string `json:"parent_id,omitempty"`

	// Values is the full merged state after this step.
	Values map[string]any `json:"values"`

	// Writes is the partial update that produced this snapshot. Nil for the
	// seed; the caller-supplied patch for manual state updates.
	Writes map[string]any `json:"writes,omitempty"`

	// Next lists the pending nodes to run when resuming from this snapshot.
	// Empty means the branch is terminal.
	Next []string `json:"next,omitempty"`

	// Node is the node that produced this snapshot: empty for the seed, the
	// executed node for engine steps, the attributed node for manual updates.
	Node string `json:"node,omitempty"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Clone returns a copy of the snapshot with its own maps and slices, so that
// callers can hold the result without being able to mutate stored history.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Values = CopyValues(s.Values)
	c.Writes = CopyValues(s.Writes)
	if s.Next != nil {
		c.Next = append([]string(nil), s.Next...)
	}
	c.Metadata = CopyValues(s.Metadata)
	return &c
}

// Terminal reports whether the snapshot has no pending nodes.
func (s *Snapshot) Terminal() bool {
	return len(s.Next) == 0
}

// CopyValues returns a copy of a state map with its own nested maps and
// slices. Slice fields must not share backing arrays between stored history
// and live state: an in-place append into spare capacity would rewrite a
// persisted snapshot.
func CopyValues(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = copyValue(v)
	}
	return c
}

func copyValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return CopyValues(val)
	case []any:
		c := make([]any, len(val))
		for i, e := range val {
			c[i] = copyValue(e)
		}
		return c
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice {
		c := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(c, rv)
		return c.Interface()
	}
	return v
}

// Store is the checkpointer: a durable, append-only log of snapshots keyed by
// thread. Implementations must make Append atomic per snapshot (a snapshot is
// either fully written or not written) and must serialize appends per thread.
type Store interface {
	// Append persists a snapshot. It fails with ErrDuplicateID if a snapshot
	// with the same ID already exists; existing snapshots are never modified.
	Append(ctx context.Context, snapshot *Snapshot) error

	// Get retrieves one snapshot of a thread by ID. Fails with ErrNotFound.
	Get(ctx context.Context, threadID, snapshotID string) (*Snapshot, error)

	// Latest returns the most recently appended snapshot for a thread, or
	// ErrNotFound if the thread has no history. Append order, not step number,
	// decides recency: forks share step numbers.
	Latest(ctx context.Context, threadID string) (*Snapshot, error)

	// History returns every snapshot of a thread across all branches, newest
	// appended first. The parent linkage carried by each snapshot is enough to
	// reconstruct the full forest.
	History(ctx context.Context, threadID string) ([]*Snapshot, error)
}
