// Package redis provides a snapshot store backed by Redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loomgraph/loom/store"
)

// RedisStore implements store.Store using one JSON value per snapshot plus a
// per-thread list that records append order.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ store.Store = (*RedisStore)(nil)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // key prefix, default "loom:"
	TTL      time.Duration // expiration for snapshots, default 0 (no expiration)
}

// NewRedisStore creates a Redis-backed snapshot store.
func NewRedisStore(opts Options) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "loom:"
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

func (s *RedisStore) snapshotKey(threadID, snapshotID string) string {
	return fmt.Sprintf("%ssnapshot:%s:%s", s.prefix, threadID, snapshotID)
}

func (s *RedisStore) threadKey(threadID string) string {
	return fmt.Sprintf("%sthread:%s:log", s.prefix, threadID)
}

// Append persists a snapshot and records it in the thread's ordered log.
func (s *RedisStore) Append(ctx context.Context, snapshot *store.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := s.snapshotKey(snapshot.ThreadID, snapshot.ID)

	// SetNX keeps the log append-only: an existing snapshot is never replaced.
	ok, err := s.client.SetNX(ctx, key, data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save snapshot to redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrDuplicateID, snapshot.ID)
	}

	logKey := s.threadKey(snapshot.ThreadID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, logKey, snapshot.ID)
	if s.ttl > 0 {
		pipe.Expire(ctx, logKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index snapshot: %w", err)
	}
	return nil
}

// Get retrieves a snapshot of a thread by ID.
func (s *RedisStore) Get(ctx context.Context, threadID, snapshotID string) (*store.Snapshot, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(threadID, snapshotID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: snapshot %s in thread %s", store.ErrNotFound, snapshotID, threadID)
		}
		return nil, fmt.Errorf("failed to load snapshot from redis: %w", err)
	}

	var snapshot store.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// Latest returns the most recently appended snapshot for a thread.
func (s *RedisStore) Latest(ctx context.Context, threadID string) (*store.Snapshot, error) {
	id, err := s.client.LIndex(ctx, s.threadKey(threadID), -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: thread %s", store.ErrNotFound, threadID)
		}
		return nil, fmt.Errorf("failed to read thread log: %w", err)
	}
	return s.Get(ctx, threadID, id)
}

// History returns all snapshots of a thread, newest appended first.
func (s *RedisStore) History(ctx context.Context, threadID string) ([]*store.Snapshot, error) {
	ids, err := s.client.LRange(ctx, s.threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read thread log: %w", err)
	}
	if len(ids) == 0 {
		return []*store.Snapshot{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.snapshotKey(threadID, id)
	}

	// MGet returns nil for expired entries; those are skipped.
	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshots: %w", err)
	}

	snapshots := make([]*store.Snapshot, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		raw, ok := results[i].(string)
		if !ok {
			continue
		}
		var snapshot store.Snapshot
		if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		snapshots = append(snapshots, &snapshot)
	}
	return snapshots, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
