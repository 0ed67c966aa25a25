package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loomgraph/loom/log"
	"github.com/loomgraph/loom/store"
)

// Runnable is a compiled graph bound to a snapshot store. It is safe for
// concurrent use; invocations on the same thread are serialized, distinct
// threads run independently.
type Runnable struct {
	graph    *StateGraph
	store    store.Store
	maxSteps int
	logger   log.Logger
	metrics  Metrics
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	threads map[string]*sync.Mutex
}

// threadLock returns the mutex serializing work on one thread.
func (r *Runnable) threadLock(threadID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.threads[threadID]
	if !ok {
		lock = &sync.Mutex{}
		r.threads[threadID] = lock
	}
	return lock
}

// Invoke runs the graph on a thread until it reaches END or runs out of
// pending nodes, and returns the final state.
//
// A non-nil initial state starts a fresh thread: a seed snapshot is written at
// step -1 with the entry point pending, then execution proceeds. Starting a
// thread that already has history fails with ErrThreadExists; manual edits to
// a live thread go through UpdateState instead.
//
// A nil initial state resumes the thread from its latest snapshot. Resuming a
// terminal thread returns its values without writing anything. Resuming a
// thread with no history fails with store.ErrNotFound.
func (r *Runnable) Invoke(ctx context.Context, threadID string, initial State) (State, error) {
	return r.invoke(ctx, threadID, initial, nil)
}

func (r *Runnable) invoke(ctx context.Context, threadID string, initial State, emit func(StreamEvent)) (State, error) {
	lock := r.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	from, err := r.loadOrSeed(ctx, threadID, initial)
	if err != nil {
		return nil, err
	}
	if from.Terminal() {
		r.logger.Debug("thread %s is terminal at snapshot %s, nothing to do", threadID, from.ID)
		r.finish("completed", 0)
		return store.CopyValues(from.Values), nil
	}
	return r.run(ctx, threadID, from, emit)
}

// ResumeFrom resumes execution from a specific historical snapshot. If the
// snapshot is not the tip of its branch this forks the thread: new snapshots
// become children of the given snapshot, siblings of the original
// continuation, and neither the snapshot nor its ancestors are touched.
// Resuming from a terminal snapshot returns its values without writing.
func (r *Runnable) ResumeFrom(ctx context.Context, threadID, snapshotID string) (State, error) {
	return r.resumeFrom(ctx, threadID, snapshotID, nil)
}

func (r *Runnable) resumeFrom(ctx context.Context, threadID, snapshotID string, emit func(StreamEvent)) (State, error) {
	lock := r.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	from, err := r.store.Get(ctx, threadID, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", snapshotID, err)
	}
	if from.Terminal() {
		r.logger.Debug("snapshot %s is terminal, nothing to do", snapshotID)
		r.finish("completed", 0)
		return store.CopyValues(from.Values), nil
	}
	r.logger.Info("thread %s: resuming from snapshot %s (step %d)", threadID, from.ID, from.Step)
	return r.run(ctx, threadID, from, emit)
}

// loadOrSeed loads the thread's latest snapshot, or writes the seed snapshot
// for a fresh thread when an initial state is given.
func (r *Runnable) loadOrSeed(ctx context.Context, threadID string, initial State) (*store.Snapshot, error) {
	latest, err := r.store.Latest(ctx, threadID)
	switch {
	case err == nil:
		if initial != nil {
			return nil, fmt.Errorf("thread %s: %w", threadID, ErrThreadExists)
		}
		return latest, nil
	case errors.Is(err, store.ErrNotFound):
		if initial == nil {
			return nil, fmt.Errorf("resume thread %s: %w", threadID, err)
		}
	default:
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	seed := &store.Snapshot{
		ID:        r.newID(),
		ThreadID:  threadID,
		Step:      store.SeedStep,
		Values:    store.CopyValues(initial),
		Next:      []string{r.graph.entryPoint},
		Metadata:  map[string]any{"source": "input"},
		CreatedAt: r.now(),
	}
	if err := r.store.Append(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed thread %s: %w", threadID, err)
	}
	if r.metrics != nil {
		r.metrics.SnapshotWritten(threadID)
	}
	r.logger.Info("thread %s: seeded at snapshot %s", threadID, seed.ID)
	return seed, nil
}

// run is the scheduler loop. It executes pending nodes one at a time, writing
// exactly one snapshot per node execution, until no node is pending. The
// caller holds the thread lock.
func (r *Runnable) run(ctx context.Context, threadID string, from *store.Snapshot, emit func(StreamEvent)) (State, error) {
	values := store.CopyValues(from.Values)
	if values == nil {
		values = make(State)
	}
	pending := append([]string(nil), from.Next...)
	parent := from
	steps := 0

	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]
		if name == END {
			continue
		}

		if err := ctx.Err(); err != nil {
			r.finish("error", steps)
			return nil, err
		}
		if steps >= r.maxSteps {
			r.logger.Warn("thread %s: step limit %d reached at node %s", threadID, r.maxSteps, name)
			r.finish("step_limit", steps)
			return nil, fmt.Errorf("thread %s after %d steps: %w", threadID, steps, ErrStepLimit)
		}
		steps++

		node, ok := r.graph.nodes[name]
		if !ok {
			r.finish("error", steps)
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, name)
		}

		r.logger.Debug("thread %s: running node %s (step %d)", threadID, name, parent.Step+1)
		start := r.now()
		update, err := node.Function(ctx, store.CopyValues(values))
		if err != nil {
			if r.metrics != nil {
				r.metrics.NodeExecuted(name, "error", r.now().Sub(start))
			}
			r.finish("error", steps)
			r.logger.Error("thread %s: node %s failed: %v", threadID, name, err)
			return nil, fmt.Errorf("node %s: %w", name, err)
		}
		if r.metrics != nil {
			r.metrics.NodeExecuted(name, "success", r.now().Sub(start))
		}

		merged, err := r.graph.schema.Apply(values, update)
		if err != nil {
			r.finish("error", steps)
			return nil, fmt.Errorf("merge update from node %s: %w", name, err)
		}

		resolved, err := r.graph.successors(ctx, name, merged)
		if err != nil {
			r.finish("error", steps)
			return nil, err
		}

		next := make([]string, 0, len(pending)+len(resolved))
		for _, n := range append(append([]string(nil), pending...), resolved...) {
			if n != END {
				next = append(next, n)
			}
		}

		snap := &store.Snapshot{
			ID:        r.newID(),
			ThreadID:  threadID,
			Step:      parent.Step + 1,
			ParentID:  parent.ID,
			Values:    merged,
			Writes:    store.CopyValues(update),
			Next:      next,
			Node:      name,
			Metadata:  map[string]any{"source": "loop"},
			CreatedAt: r.now(),
		}
		if err := r.store.Append(ctx, snap); err != nil {
			r.finish("error", steps)
			return nil, fmt.Errorf("append snapshot for node %s: %w", name, err)
		}
		if r.metrics != nil {
			r.metrics.SnapshotWritten(threadID)
		}
		if emit != nil {
			emit(StreamEvent{
				ThreadID:   threadID,
				SnapshotID: snap.ID,
				Step:       snap.Step,
				Node:       name,
				Values:     store.CopyValues(merged),
				Next:       append([]string(nil), next...),
			})
		}

		values = merged
		parent = snap
		pending = next
	}

	r.logger.Info("thread %s: completed at snapshot %s (step %d)", threadID, parent.ID, parent.Step)
	r.finish("completed", steps)
	return values, nil
}

func (r *Runnable) finish(status string, steps int) {
	if r.metrics != nil {
		r.metrics.InvokeFinished(status, steps)
	}
}
