package store

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	engerrors "github.com/randalmurphal/eventengine/pkg/eventengine/errors"
	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

// DefaultRedisPrefix namespaces the keys written by RedisBackend.
const DefaultRedisPrefix = "eventengine:"

// redisBatch bounds the ids fetched per MGET.
const redisBatch = 500

// RedisBackend stores each event as a JSON value keyed by id, plus a sorted
// set of ids scored by timestamp (unix microseconds) for ordering and trimming.
type RedisBackend struct {
	client *redis.Client
	prefix string

	mu     sync.RWMutex
	closed bool
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend wraps client. An empty prefix uses DefaultRedisPrefix.
// Close closes the client.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) eventKey(id string) string { return r.prefix + "event:" + id }

func (r *RedisBackend) indexKey() string { return r.prefix + "events" }

// Put implements Backend.
func (r *RedisBackend) Put(ctx context.Context, evt *event.Event) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrClosed
	}

	payload, err := event.Marshal(evt)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.eventKey(evt.ID), payload, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(evt.Timestamp.UnixMicro()),
			Member: evt.ID,
		})
		return nil
	})
	if err != nil {
		return &engerrors.PersistenceError{Op: "put", Err: err}
	}
	return nil
}

// Get implements Backend.
func (r *RedisBackend) Get(ctx context.Context, id string) (*event.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	data, err := r.client.Get(ctx, r.eventKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &engerrors.PersistenceError{Op: "get", Err: err}
	}

	evt, err := event.Unmarshal(data)
	if err != nil {
		return nil, &engerrors.DeserializationError{ID: id, Err: err}
	}
	return evt, nil
}

// Query implements Backend. The timestamp range is resolved by the sorted
// set; the remaining filters are applied to the decoded events.
func (r *RedisBackend) Query(ctx context.Context, q Query) ([]*event.Event, error) {
	q = q.normalized()

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !q.Start.IsZero() {
		rng.Min = strconv.FormatInt(q.Start.UnixMicro(), 10)
	}
	if !q.End.IsZero() {
		rng.Max = strconv.FormatInt(q.End.UnixMicro(), 10)
	}

	ids, err := r.client.ZRevRangeByScore(ctx, r.indexKey(), rng).Result()
	if err != nil {
		return nil, &engerrors.PersistenceError{Op: "query", Err: err}
	}

	var matched []*event.Event
	err = r.load(ctx, ids, func(evt *event.Event) {
		if q.Matches(evt) {
			matched = append(matched, evt)
		}
	})
	if err != nil {
		return nil, err
	}

	sortNewestFirst(matched)
	return page(matched, q), nil
}

// Stats implements Backend.
func (r *RedisBackend) Stats(ctx context.Context) (BackendStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return BackendStats{}, ErrClosed
	}

	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return BackendStats{}, &engerrors.PersistenceError{Op: "stats", Err: err}
	}

	stats := newBackendStats()
	if err := r.load(ctx, ids, stats.add); err != nil {
		return BackendStats{}, err
	}
	return stats, nil
}

// load fetches ids in batches and calls fn for every decoded event. Ids whose
// value has disappeared are skipped.
func (r *RedisBackend) load(ctx context.Context, ids []string, fn func(*event.Event)) error {
	for start := 0; start < len(ids); start += redisBatch {
		batch := ids[start:min(start+redisBatch, len(ids))]
		keys := make([]string, len(batch))
		for i, id := range batch {
			keys[i] = r.eventKey(id)
		}

		values, err := r.client.MGet(ctx, keys...).Result()
		if err != nil {
			return &engerrors.PersistenceError{Op: "load", Err: err}
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			evt, err := event.Unmarshal([]byte(raw))
			if err != nil {
				return &engerrors.DeserializationError{ID: batch[i], Err: err}
			}
			fn(evt)
		}
	}
	return nil
}

// Trim implements Backend.
func (r *RedisBackend) Trim(ctx context.Context, keep int) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return 0, ErrClosed
	}

	total, err := r.client.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, &engerrors.PersistenceError{Op: "trim", Err: err}
	}
	excess := total - int64(max(keep, 0))
	if excess <= 0 {
		return 0, nil
	}

	// Lowest scores are the oldest events.
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, excess-1).Result()
	if err != nil {
		return 0, &engerrors.PersistenceError{Op: "trim", Err: err}
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		keys := make([]string, len(ids))
		members := make([]any, len(ids))
		for i, id := range ids {
			keys[i] = r.eventKey(id)
			members[i] = id
		}
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, r.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, &engerrors.PersistenceError{Op: "trim", Err: err}
	}
	return len(ids), nil
}

// Close implements Backend.
func (r *RedisBackend) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}
