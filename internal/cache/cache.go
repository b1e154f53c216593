// Package cache implements the interior-mutable, reader-writer-locked
// caches described in spec §9: meta-override lookups, consensus-derived
// metadata, and downloaded federation configs all share this shape — read
// under a shared lock, refresh under an exclusive lock with
// double-checked freshness so a thundering herd of callers for the same
// stale key collapses into one refresh via singleflight.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// Loader produces a fresh value for key. Errors are never cached.
type Loader[V any] func(ctx context.Context, key string) (V, error)

// TTLCache is a generic map<key, (value, fetched_at)> behind a RWMutex,
// with single-flighted refreshes per key.
type TTLCache[V any] struct {
	ttl    time.Duration
	load   Loader[V]
	mu     sync.RWMutex
	values map[string]entry[V]
	group  singleflight.Group
}

func New[V any](ttl time.Duration, load Loader[V]) *TTLCache[V] {
	return &TTLCache[V]{
		ttl:    ttl,
		load:   load,
		values: make(map[string]entry[V]),
	}
}

// Get returns a cached value if fresh, otherwise refreshes it. Concurrent
// callers for the same key block on one another's refresh rather than each
// issuing their own load (the "thundering herd" case in spec §9).
func (c *TTLCache[V]) Get(ctx context.Context, key string) (V, error) {
	c.mu.RLock()
	e, ok := c.values[key]
	c.mu.RUnlock()
	if ok && time.Since(e.fetchedAt) < c.ttl {
		return e.value, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		e, ok := c.values[key]
		fresh := ok && time.Since(e.fetchedAt) < c.ttl
		c.mu.RUnlock()
		if fresh {
			return e.value, nil
		}

		loaded, err := c.load(ctx, key)
		if err != nil {
			return loaded, err
		}

		c.mu.Lock()
		c.values[key] = entry[V]{value: loaded, fetchedAt: time.Now()}
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Invalidate drops a key so the next Get forces a refresh.
func (c *TTLCache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
}
