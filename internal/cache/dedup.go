package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator remembers message ids whose handler completed. An id is only
// marked after success, so a message interrupted by a crash or shutdown is
// processed again when the broker redelivers it.
type Deduplicator interface {
	// Seen reports whether id was marked as handled.
	Seen(ctx context.Context, id string) (bool, error)
	// Mark records id as handled.
	Mark(ctx context.Context, id string) error
}

type RedisDeduplicator struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisDeduplicator(client redis.UniversalClient, service string, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{
		client: client,
		prefix: "dedup:" + service + ":",
		ttl:    ttl,
	}
}

func (d *RedisDeduplicator) Seen(ctx context.Context, id string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduplicator) Mark(ctx context.Context, id string) error {
	return d.client.Set(ctx, d.prefix+id, time.Now().UTC().Format(time.RFC3339Nano), d.ttl).Err()
}

// MemoryDeduplicator keeps marks in process memory. The services use
// RedisDeduplicator; this one backs tests.
type MemoryDeduplicator struct {
	mu    sync.Mutex
	marks map[string]struct{}
}

func NewMemoryDeduplicator() *MemoryDeduplicator {
	return &MemoryDeduplicator{marks: make(map[string]struct{})}
}

func (d *MemoryDeduplicator) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.marks[id]
	return ok, nil
}

func (d *MemoryDeduplicator) Mark(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.marks[id] = struct{}{}
	return nil
}
