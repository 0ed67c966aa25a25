// Package postgres provides a snapshot store backed by PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomgraph/loom/store"
)

// DBPool is the subset of pgxpool.Pool the store needs. Tests substitute a
// pgxmock pool.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements store.Store using an insert-only PostgreSQL table.
// A BIGSERIAL column records the append order per thread.
type PostgresStore struct {
	pool      DBPool
	tableName string
}

var _ store.Store = (*PostgresStore)(nil)

// Options configures the Postgres connection.
type Options struct {
	ConnString string
	TableName  string // default "snapshots"
}

// NewPostgresStore creates a Postgres-backed snapshot store.
func NewPostgresStore(ctx context.Context, opts Options) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewPostgresStoreWithPool(pool, opts.TableName), nil
}

// NewPostgresStoreWithPool creates a snapshot store over an existing pool.
// Useful for testing with mocks.
func NewPostgresStoreWithPool(pool DBPool, tableName string) *PostgresStore {
	if tableName == "" {
		tableName = "snapshots"
	}
	return &PostgresStore{pool: pool, tableName: tableName}
}

// InitSchema creates the snapshot table if it doesn't exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL,
			id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			node TEXT NOT NULL DEFAULT '',
			next JSONB NOT NULL,
			vals JSONB NOT NULL,
			writes JSONB,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (thread_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_thread_seq ON %s (thread_id, seq);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Append persists a snapshot. Duplicate IDs violate the primary key and map
// to store.ErrDuplicateID; existing rows are never updated.
func (s *PostgresStore) Append(ctx context.Context, snapshot *store.Snapshot) error {
	valuesJSON, err := json.Marshal(snapshot.Values)
	if err != nil {
		return fmt.Errorf("failed to marshal values: %w", err)
	}
	writesJSON, err := json.Marshal(snapshot.Writes)
	if err != nil {
		return fmt.Errorf("failed to marshal writes: %w", err)
	}
	nextJSON, err := json.Marshal(snapshot.Next)
	if err != nil {
		return fmt.Errorf("failed to marshal next: %w", err)
	}
	metadataJSON, err := json.Marshal(snapshot.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, thread_id, step, parent_id, node, next, vals, writes, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.tableName)

	_, err = s.pool.Exec(ctx, query,
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
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", store.ErrDuplicateID, snapshot.ID)
		}
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

// Get retrieves a snapshot of a thread by ID.
func (s *PostgresStore) Get(ctx context.Context, threadID, snapshotID string) (*store.Snapshot, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, step, parent_id, node, next, vals, writes, metadata, created_at
		FROM %s WHERE thread_id = $1 AND id = $2
	`, s.tableName)

	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query, threadID, snapshotID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: snapshot %s in thread %s", store.ErrNotFound, snapshotID, threadID)
		}
		return nil, err
	}
	return snap, nil
}

// Latest returns the most recently appended snapshot for a thread.
func (s *PostgresStore) Latest(ctx context.Context, threadID string) (*store.Snapshot, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, step, parent_id, node, next, vals, writes, metadata, created_at
		FROM %s WHERE thread_id = $1 ORDER BY seq DESC LIMIT 1
	`, s.tableName)

	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query, threadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: thread %s", store.ErrNotFound, threadID)
		}
		return nil, err
	}
	return snap, nil
}

// History returns all snapshots of a thread, newest appended first.
func (s *PostgresStore) History(ctx context.Context, threadID string) ([]*store.Snapshot, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, step, parent_id, node, next, vals, writes, metadata, created_at
		FROM %s WHERE thread_id = $1 ORDER BY seq DESC
	`, s.tableName)

	rows, err := s.pool.Query(ctx, query, threadID)
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

func scanSnapshot(row rowScanner) (*store.Snapshot, error) {
	var snap store.Snapshot
	var nextJSON, valuesJSON, writesJSON, metadataJSON []byte

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

	if err := json.Unmarshal(valuesJSON, &snap.Values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal values: %w", err)
	}
	if err := json.Unmarshal(nextJSON, &snap.Next); err != nil {
		return nil, fmt.Errorf("failed to unmarshal next: %w", err)
	}
	if len(writesJSON) > 0 {
		if err := json.Unmarshal(writesJSON, &snap.Writes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal writes: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &snap.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &snap, nil
}
