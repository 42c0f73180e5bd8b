// Package idempotency remembers the outcome of client requests carrying an
// Idempotency-Key so a retried request replays the first result instead of
// running again.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Cache is a time-bounded idempotency store. Concurrent calls to Do with
// the same key run fn once; the others wait for its result.
type Cache[V any] struct {
	mu       sync.Mutex
	items    map[string]entry[V]
	inflight map[string]chan struct{}
	ttl      time.Duration
	now      func() time.Time
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// New returns a cache with the provided ttl.
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		items:    make(map[string]entry[V]),
		inflight: make(map[string]chan struct{}),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the stored value if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(key)
}

// Set stores a value until ttl expiry.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Do returns the cached value for key, or runs fn and caches its result
// when fn succeeds. replayed reports whether the value came from the cache.
// Failed calls are not cached, so the client may retry them.
func (c *Cache[V]) Do(key string, fn func() (V, error)) (value V, replayed bool, err error) {
	for {
		c.mu.Lock()
		if v, ok := c.lookup(key); ok {
			c.mu.Unlock()
			return v, true, nil
		}
		wait, busy := c.inflight[key]
		if !busy {
			done := make(chan struct{})
			c.inflight[key] = done
			c.mu.Unlock()

			value, err = c.run(key, done, fn)
			return value, false, err
		}
		c.mu.Unlock()
		<-wait
	}
}

func (c *Cache[V]) run(key string, done chan struct{}, fn func() (V, error)) (value V, err error) {
	defer func() {
		c.mu.Lock()
		if err == nil {
			c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
		}
		delete(c.inflight, key)
		c.mu.Unlock()
		close(done)
	}()
	return fn()
}

// Sweep drops expired entries.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, it := range c.items {
		if !now.Before(it.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Start launches a background goroutine that sweeps expired entries every
// interval. It stops when ctx is cancelled.
func (c *Cache[V]) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// lookup must be called with c.mu held.
func (c *Cache[V]) lookup(key string) (V, bool) {
	if item, ok := c.items[key]; ok {
		if c.now().Before(item.expiresAt) {
			return item.value, true
		}
		delete(c.items, key)
	}
	var zero V
	return zero, false
}
