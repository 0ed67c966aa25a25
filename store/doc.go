// Package store defines the snapshot record and the checkpointer interface
// used by the execution engine, along with backends for common storage
// engines.
//
// A Store is an append-only log of Snapshots keyed by thread. Nothing is ever
// updated or deleted in place: resuming writes new snapshots, and forking from
// a historical snapshot writes a sibling branch that shares its parent. The
// engine relies on two guarantees from every backend:
//
//   - Append is atomic: a snapshot is either fully written or not written.
//   - Append order is preserved per thread, so Latest means "most recently
//     written", independent of step numbers (branches share step numbers).
//
// Backends:
//
//   - store/memory: process-lifetime map, for tests and single-process runs.
//   - store/file: one JSON log file per thread.
//   - store/sqlite: embedded SQLite table, insertion order via rowid.
//   - store/postgres: PostgreSQL over pgx, insertion order via BIGSERIAL.
//   - store/redis: JSON blobs with a per-thread list as the ordered index.
//
// The JSON-backed stores round-trip state values through encoding/json, so
// numeric values come back as float64. Keep that in mind when asserting on
// state loaded from sqlite, postgres, redis, or file stores.
package store
