package graph

import (
	"context"
	"fmt"

	"github.com/loomgraph/loom/store"
)

// GetState returns the latest snapshot of a thread.
func (r *Runnable) GetState(ctx context.Context, threadID string) (*store.Snapshot, error) {
	return r.store.Latest(ctx, threadID)
}

// GetHistory returns every snapshot of a thread across all branches, newest
// appended first.
func (r *Runnable) GetHistory(ctx context.Context, threadID string) ([]*store.Snapshot, error) {
	return r.store.History(ctx, threadID)
}

// UpdateState merges a manual patch into the thread's latest state and writes
// the result as a new child snapshot. The returned snapshot is the new tip.
//
// asNode attributes the patch to a node: next is resolved as though that node
// had just run, by evaluating its outgoing edges against the merged values, so
// a later Invoke continues past it. With asNode empty the patch does not
// advance the thread: next is carried over unchanged and still points at the
// same pending node.
func (r *Runnable) UpdateState(ctx context.Context, threadID string, patch State, asNode string) (*store.Snapshot, error) {
	lock := r.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	latest, err := r.store.Latest(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	merged, err := r.graph.schema.Apply(latest.Values, patch)
	if err != nil {
		return nil, fmt.Errorf("merge patch: %w", err)
	}

	var next []string
	if asNode != "" {
		if _, ok := r.graph.nodes[asNode]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, asNode)
		}
		resolved, err := r.graph.successors(ctx, asNode, merged)
		if err != nil {
			return nil, err
		}
		next = make([]string, 0, len(resolved))
		for _, n := range resolved {
			if n != END {
				next = append(next, n)
			}
		}
	} else {
		next = append([]string(nil), latest.Next...)
	}

	snap := &store.Snapshot{
		ID:        r.newID(),
		ThreadID:  threadID,
		Step:      latest.Step + 1,
		ParentID:  latest.ID,
		Values:    merged,
		Writes:    store.CopyValues(patch),
		Next:      next,
		Node:      asNode,
		Metadata:  map[string]any{"source": "update"},
		CreatedAt: r.now(),
	}
	if err := r.store.Append(ctx, snap); err != nil {
		return nil, fmt.Errorf("append update snapshot: %w", err)
	}
	if r.metrics != nil {
		r.metrics.SnapshotWritten(threadID)
	}
	r.logger.Info("thread %s: state updated at snapshot %s (as node %q)", threadID, snap.ID, asNode)

	return snap.Clone(), nil
}
