package whatsapp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupeTTL = 24 * time.Hour

// Deduper remembers provider message IDs. Seen reports whether id was already
// recorded and records it otherwise. Forget drops a recorded id so a later
// redelivery is processed again.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// MemoryDeduper is a process-local TTL set.
type MemoryDeduper struct {
	mu    sync.Mutex
	ttl   time.Duration
	seen  map[string]time.Time
	now   func() time.Time
	sweep int
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &MemoryDeduper{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDeduper) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if expires, ok := d.seen[id]; ok && now.Before(expires) {
		return true, nil
	}
	d.seen[id] = now.Add(d.ttl)

	d.sweep++
	if d.sweep >= 256 {
		d.sweep = 0
		for key, expires := range d.seen {
			if !now.Before(expires) {
				delete(d.seen, key)
			}
		}
	}
	return false, nil
}

func (d *MemoryDeduper) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}

// RedisDeduper shares dedupe state between replicas.
type RedisDeduper struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if client == nil {
		panic("whatsapp: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &RedisDeduper{redis: client, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, id string) (bool, error) {
	ok, err := d.redis.SetNX(ctx, dedupeKey(id), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("whatsapp: dedupe %s: %w", id, err)
	}
	return !ok, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, id string) error {
	if err := d.redis.Del(ctx, dedupeKey(id)).Err(); err != nil {
		return fmt.Errorf("whatsapp: forget %s: %w", id, err)
	}
	return nil
}

func dedupeKey(id string) string {
	return "dedupe:whatsapp:" + id
}
