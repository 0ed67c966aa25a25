// Package file provides a snapshot store backed by one JSON log file per
// thread. It is a durable option for single-process use without a database.
package file

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/loomgraph/loom/store"
)

// FileStore implements store.Store by appending snapshots to a JSON array in
// <dir>/<encoded thread id>.json. Writes go through a temp file and rename, so
// a crash mid-append leaves the previous log intact.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

var _ store.Store = (*FileStore)(nil)

// NewFileStore creates a file-backed snapshot store rooted at dir, creating
// the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// threadPath encodes the thread ID so arbitrary IDs map to safe file names.
func (f *FileStore) threadPath(threadID string) string {
	name := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString([]byte(threadID))
	return filepath.Join(f.dir, name+".json")
}

func (f *FileStore) readLog(threadID string) ([]*store.Snapshot, error) {
	data, err := os.ReadFile(f.threadPath(threadID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read thread log: %w", err)
	}

	var log []*store.Snapshot
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("failed to decode thread log: %w", err)
	}
	return log, nil
}

func (f *FileStore) writeLog(threadID string, log []*store.Snapshot) error {
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode thread log: %w", err)
	}

	path := f.threadPath(threadID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write thread log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace thread log: %w", err)
	}
	return nil
}

// Append persists a snapshot at the end of its thread's log file.
func (f *FileStore) Append(ctx context.Context, snapshot *store.Snapshot) error {
	if snapshot.ID == "" {
		return fmt.Errorf("snapshot id is empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	log, err := f.readLog(snapshot.ThreadID)
	if err != nil {
		return err
	}
	for _, existing := range log {
		if existing.ID == snapshot.ID {
			return fmt.Errorf("%w: %s", store.ErrDuplicateID, snapshot.ID)
		}
	}

	log = append(log, snapshot)
	return f.writeLog(snapshot.ThreadID, log)
}

// Get retrieves a snapshot of a thread by ID.
func (f *FileStore) Get(ctx context.Context, threadID, snapshotID string) (*store.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	log, err := f.readLog(threadID)
	if err != nil {
		return nil, err
	}
	for _, snap := range log {
		if snap.ID == snapshotID {
			return snap, nil
		}
	}
	return nil, fmt.Errorf("%w: snapshot %s in thread %s", store.ErrNotFound, snapshotID, threadID)
}

// Latest returns the most recently appended snapshot for a thread.
func (f *FileStore) Latest(ctx context.Context, threadID string) (*store.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	log, err := f.readLog(threadID)
	if err != nil {
		return nil, err
	}
	if len(log) == 0 {
		return nil, fmt.Errorf("%w: thread %s", store.ErrNotFound, threadID)
	}
	return log[len(log)-1], nil
}

// History returns all snapshots of a thread, newest appended first.
func (f *FileStore) History(ctx context.Context, threadID string) ([]*store.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	log, err := f.readLog(threadID)
	if err != nil {
		return nil, err
	}
	out := make([]*store.Snapshot, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		out = append(out, log[i])
	}
	return out, nil
}
