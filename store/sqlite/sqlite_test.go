package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomgraph/loom/store"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()

	s, err := NewSqliteStore(Options{Path: filepath.Join(t.TempDir(), "snapshots.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSqliteStore_AppendAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := &store.Snapshot{
		ID:        "snap-1",
		ThreadID:  "thread-1",
		Step:      0,
		ParentID:  "seed",
		Node:      "plan",
		Values:    map[string]any{"query": "hello", "count": float64(1)},
		Writes:    map[string]any{"count": float64(1)},
		Next:      []string{"act"},
		Metadata:  map[string]any{"source": "loop"},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.Append(ctx, snap); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	loaded, err := s.Get(ctx, "thread-1", "snap-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.ParentID != "seed" || loaded.Node != "plan" || loaded.Step != 0 {
		t.Errorf("metadata fields mismatch: %+v", loaded)
	}
	if loaded.Values["query"] != "hello" || loaded.Values["count"] != float64(1) {
		t.Errorf("values mismatch: %v", loaded.Values)
	}
	if loaded.Writes["count"] != float64(1) {
		t.Errorf("writes mismatch: %v", loaded.Writes)
	}
	if len(loaded.Next) != 1 || loaded.Next[0] != "act" {
		t.Errorf("next mismatch: %v", loaded.Next)
	}
}

func TestSqliteStore_AppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := &store.Snapshot{
		ID:        "snap-1",
		ThreadID:  "thread-1",
		Values:    map[string]any{"v": "original"},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Append(ctx, snap); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	clash := &store.Snapshot{
		ID:        "snap-1",
		ThreadID:  "thread-1",
		Values:    map[string]any{"v": "rewrite"},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Append(ctx, clash); !errors.Is(err, store.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	loaded, err := s.Get(ctx, "thread-1", "snap-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.Values["v"] != "original" {
		t.Errorf("history was rewritten: %v", loaded.Values)
	}

	// Same ID on a different thread is a different snapshot.
	other := &store.Snapshot{
		ID:        "snap-1",
		ThreadID:  "thread-2",
		Values:    map[string]any{"v": "other"},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Append(ctx, other); err != nil {
		t.Fatalf("append on second thread failed: %v", err)
	}
}

func TestSqliteStore_LatestAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Latest(ctx, "thread-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty thread, got %v", err)
	}

	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		snap := &store.Snapshot{
			ID:       fmt.Sprintf("snap-%d", i),
			ThreadID: "thread-1",
			Step:     i - 1,
			Values:   map[string]any{},
			// Identical timestamps on purpose: append order must still win.
			CreatedAt: base,
		}
		if err := s.Append(ctx, snap); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	latest, err := s.Latest(ctx, "thread-1")
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if latest.ID != "snap-3" {
		t.Errorf("latest mismatch: got %s, want snap-3", latest.ID)
	}

	history, err := s.History(ctx, "thread-1")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history length: got %d, want 4", len(history))
	}
	for i, snap := range history {
		want := fmt.Sprintf("snap-%d", 3-i)
		if snap.ID != want {
			t.Errorf("history[%d]: got %s, want %s", i, snap.ID, want)
		}
	}
}

func TestSqliteStore_EmptyHistory(t *testing.T) {
	s := newTestStore(t)

	history, err := s.History(context.Background(), "no-such-thread")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected empty history, got %d entries", len(history))
	}
}
