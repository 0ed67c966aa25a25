// Package memory provides a volatile, process-lifetime snapshot store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomgraph/loom/store"
)

// MemoryStore implements store.Store with an in-memory per-thread append log.
// It is safe for concurrent use and intended for tests and single-process
// runs; history does not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]*store.Snapshot
	byID    map[string]map[string]*store.Snapshot // threadID -> snapshotID -> snapshot
}

var _ store.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string][]*store.Snapshot),
		byID:    make(map[string]map[string]*store.Snapshot),
	}
}

// Append persists a snapshot at the end of its thread's log.
func (m *MemoryStore) Append(ctx context.Context, snapshot *store.Snapshot) error {
	if snapshot.ID == "" {
		return fmt.Errorf("snapshot id is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byID[snapshot.ThreadID]
	if ids == nil {
		ids = make(map[string]*store.Snapshot)
		m.byID[snapshot.ThreadID] = ids
	}
	if _, exists := ids[snapshot.ID]; exists {
		return fmt.Errorf("%w: %s", store.ErrDuplicateID, snapshot.ID)
	}

	// Stored copy is private to the store; callers cannot mutate history
	// through the pointer they passed in.
	kept := snapshot.Clone()
	ids[snapshot.ID] = kept
	m.threads[snapshot.ThreadID] = append(m.threads[snapshot.ThreadID], kept)
	return nil
}

// Get retrieves a snapshot of a thread by ID.
func (m *MemoryStore) Get(ctx context.Context, threadID, snapshotID string) (*store.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.byID[threadID][snapshotID]
	if !ok {
		return nil, fmt.Errorf("%w: snapshot %s in thread %s", store.ErrNotFound, snapshotID, threadID)
	}
	return snap.Clone(), nil
}

// Latest returns the most recently appended snapshot for a thread.
func (m *MemoryStore) Latest(ctx context.Context, threadID string) (*store.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.threads[threadID]
	if len(log) == 0 {
		return nil, fmt.Errorf("%w: thread %s", store.ErrNotFound, threadID)
	}
	return log[len(log)-1].Clone(), nil
}

// History returns all snapshots of a thread, newest appended first.
func (m *MemoryStore) History(ctx context.Context, threadID string) ([]*store.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.threads[threadID]
	out := make([]*store.Snapshot, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		out = append(out, log[i].Clone())
	}
	return out, nil
}
