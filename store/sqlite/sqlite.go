// Package sqlite provides a snapshot store backed by an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/loomgraph/loom/store"
)

// SqliteStore implements store.Store using a single SQLite table. Rows are
// insert-only; rowid gives the per-thread append order.
type SqliteStore struct {
	db        *sql.DB
	tableName string
}

var _ store.Store = (*SqliteStore)(nil)

// Options configures the SQLite connection.
type Options struct {
	Path      string
	TableName string // default "snapshots"
}

// NewSqliteStore opens (or creates) a SQLite-backed snapshot store.
func NewSqliteStore(opts Options) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "snapshots"
	}

	s := &SqliteStore{db: db, tableName: tableName}
	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema creates the snapshot table if it doesn't exist.
func (s *SqliteStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			node TEXT NOT NULL DEFAULT '',
			next TEXT NOT NULL,
			vals TEXT NOT NULL,
			writes TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (thread_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_thread_id ON %s (thread_id);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// Append persists a snapshot. The insert-only statement rejects duplicates via
// the primary key, never overwriting history.
func (s *SqliteStore) Append(ctx context.Context, snapshot *store.Snapshot) error {
	valuesJSON, writesJSON, nextJSON, metadataJSON, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, thread_id, step, parent_id, node, next, vals, writes, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.tableName)

	_, err = s.db.ExecContext(ctx, query,
		snapshot.ID,
		snapshot.ThreadID,
		snapshot.Step,
		snapshot.ParentID,
		snapshot.Node,
		nextJSON,
		valuesJSON,
		writesJSON,
		metadataJSON,
		snapshot.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", store.ErrDuplicateID, snapshot.ID)
		}
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

// Get retrieves a snapshot of a thread by ID.
func (s *SqliteStore) Get(ctx context.Context, threadID, snapshotID string) (*store.Snapshot, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, step, parent_id, node, next, vals, writes, metadata, created_at
		FROM %s
		WHERE thread_id = ? AND id = ?
	`, s.tableName)

	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, threadID, snapshotID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: snapshot %s in thread %s", store.ErrNotFound, snapshotID, threadID)
		}
		return nil, err
	}
	return snap, nil
}

// Latest returns the most recently appended snapshot for a thread.
func (s *SqliteStore) Latest(ctx context.Context, threadID string) (*store.Snapshot, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, step, parent_id, node, next, vals, writes, metadata, created_at
		FROM %s
		WHERE thread_id = ?
		ORDER BY rowid DESC
		LIMIT 1
	`, s.tableName)

	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, threadID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: thread %s", store.ErrNotFound, threadID)
		}
		return nil, err
	}
	return snap, nil
}

// History returns all snapshots of a thread, newest appended first.
func (s *SqliteStore) History(ctx context.Context, threadID string) ([]*store.Snapshot, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, step, parent_id, node, next, vals, writes, metadata, created_at
		FROM %s
		WHERE thread_id = ?
		ORDER BY rowid DESC
	`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*store.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}
	return snapshots, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func encodeSnapshot(snapshot *store.Snapshot) (valuesJSON, writesJSON, nextJSON, metadataJSON []byte, err error) {
	valuesJSON, err = json.Marshal(snapshot.Values)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal values: %w", err)
	}
	writesJSON, err = json.Marshal(snapshot.Writes)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal writes: %w", err)
	}
	nextJSON, err = json.Marshal(snapshot.Next)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal next: %w", err)
	}
	metadataJSON, err = json.Marshal(snapshot.Metadata)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return valuesJSON, writesJSON, nextJSON, metadataJSON, nil
}

func scanSnapshot(row rowScanner) (*store.Snapshot, error) {
	var snap store.Snapshot
	var nextJSON, valuesJSON string
	var writesJSON, metadataJSON sql.NullString

	err := row.Scan(
		&snap.ID,
		&snap.ThreadID,
		&snap.Step,
		&snap.ParentID,
		&snap.Node,
		&nextJSON,
		&valuesJSON,
		&writesJSON,
		&metadataJSON,
		&snap.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(valuesJSON), &snap.Values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal values: %w", err)
	}
	if err := json.Unmarshal([]byte(nextJSON), &snap.Next); err != nil {
		return nil, fmt.Errorf("failed to unmarshal next: %w", err)
	}
	if writesJSON.Valid && writesJSON.String != "" {
		if err := json.Unmarshal([]byte(writesJSON.String), &snap.Writes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal writes: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &snap.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &snap, nil
}
