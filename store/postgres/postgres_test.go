package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"

	"github.com/loomgraph/loom/store"
)

func TestPostgresStore_Append(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresStoreWithPool(mock, "snapshots")

	snap := &store.Snapshot{
		ID:        "snap-1",
		ThreadID:  "thread-1",
		Step:      0,
		ParentID:  "seed",
		Node:      "plan",
		Values:    map[string]any{"foo": "bar"},
		Writes:    map[string]any{"foo": "bar"},
		Next:      []string{"act"},
		CreatedAt: time.Now(),
	}

	valuesJSON, _ := json.Marshal(snap.Values)
	writesJSON, _ := json.Marshal(snap.Writes)
	nextJSON, _ := json.Marshal(snap.Next)
	metadataJSON, _ := json.Marshal(snap.Metadata)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO snapshots")).
		WithArgs(
			snap.ID,
			snap.ThreadID,
			snap.Step,
			snap.ParentID,
			snap.Node,
			nextJSON,
			valuesJSON,
			writesJSON,
			metadataJSON,
			snap.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.Append(context.Background(), snap)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresStoreWithPool(mock, "snapshots")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO snapshots")).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = s.Append(context.Background(), &store.Snapshot{ID: "snap-1", ThreadID: "t"})
	assert.ErrorIs(t, err, store.ErrDuplicateID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func snapshotRows(t *testing.T, snaps ...*store.Snapshot) *pgxmock.Rows {
	t.Helper()

	rows := pgxmock.NewRows([]string{
		"id", "thread_id", "step", "parent_id", "node",
		"next", "vals", "writes", "metadata", "created_at",
	})
	for _, snap := range snaps {
		valuesJSON, _ := json.Marshal(snap.Values)
		writesJSON, _ := json.Marshal(snap.Writes)
		nextJSON, _ := json.Marshal(snap.Next)
		metadataJSON, _ := json.Marshal(snap.Metadata)
		rows.AddRow(
			snap.ID, snap.ThreadID, snap.Step, snap.ParentID, snap.Node,
			nextJSON, valuesJSON, writesJSON, metadataJSON, snap.CreatedAt,
		)
	}
	return rows
}

func TestPostgresStore_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresStoreWithPool(mock, "snapshots")

	want := &store.Snapshot{
		ID:        "snap-1",
		ThreadID:  "thread-1",
		Step:      2,
		ParentID:  "snap-0",
		Node:      "act",
		Values:    map[string]any{"foo": "bar"},
		Next:      []string{"plan"},
		CreatedAt: time.Now(),
	}

	mock.ExpectQuery(regexp.QuoteMeta("FROM snapshots WHERE thread_id = $1 AND id = $2")).
		WithArgs("thread-1", "snap-1").
		WillReturnRows(snapshotRows(t, want))

	got, err := s.Get(context.Background(), "thread-1", "snap-1")
	assert.NoError(t, err)
	assert.Equal(t, "snap-1", got.ID)
	assert.Equal(t, 2, got.Step)
	assert.Equal(t, "snap-0", got.ParentID)
	assert.Equal(t, "bar", got.Values["foo"])
	assert.Equal(t, []string{"plan"}, got.Next)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresStoreWithPool(mock, "snapshots")

	mock.ExpectQuery(regexp.QuoteMeta("FROM snapshots WHERE thread_id = $1 AND id = $2")).
		WithArgs("thread-1", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = s.Get(context.Background(), "thread-1", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Latest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresStoreWithPool(mock, "snapshots")

	want := &store.Snapshot{
		ID:        "snap-3",
		ThreadID:  "thread-1",
		Step:      3,
		Values:    map[string]any{"count": float64(4)},
		CreatedAt: time.Now(),
	}

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY seq DESC LIMIT 1")).
		WithArgs("thread-1").
		WillReturnRows(snapshotRows(t, want))

	got, err := s.Latest(context.Background(), "thread-1")
	assert.NoError(t, err)
	assert.Equal(t, "snap-3", got.ID)
	assert.True(t, got.Terminal())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestEmptyThread(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresStoreWithPool(mock, "snapshots")

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY seq DESC LIMIT 1")).
		WithArgs("thread-1").
		WillReturnError(pgx.ErrNoRows)

	_, err = s.Latest(context.Background(), "thread-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_History(t *testing.T) {
	mock, err := pgxmock.NewPool()
	assert.NoError(t, err)
	defer mock.Close()

	s := NewPostgresStoreWithPool(mock, "snapshots")

	newest := &store.Snapshot{ID: "snap-2", ThreadID: "thread-1", Step: 1, ParentID: "snap-1", CreatedAt: time.Now()}
	fork := &store.Snapshot{ID: "snap-1b", ThreadID: "thread-1", Step: 1, ParentID: "snap-0", CreatedAt: time.Now()}
	oldest := &store.Snapshot{ID: "snap-0", ThreadID: "thread-1", Step: 0, CreatedAt: time.Now()}

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY seq DESC")).
		WithArgs("thread-1").
		WillReturnRows(snapshotRows(t, newest, fork, oldest))

	history, err := s.History(context.Background(), "thread-1")
	assert.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Equal(t, "snap-2", history[0].ID)
	assert.Equal(t, "snap-1b", history[1].ID)
	assert.Equal(t, "snap-0", history[2].ID)
	// Fork and original continuation share a step but not an ID.
	assert.Equal(t, history[0].Step, history[1].Step)

	assert.NoError(t, mock.ExpectationsWereMet())
}
