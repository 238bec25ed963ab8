// Package cache provides the process-wide resource caches shared by
// generation backends: loaded model weights keyed by model file and
// per-conversation state (live decode contexts or remote session history)
// keyed by chat id.
//
// Both are instances of Cache, a map with atomic per-key get-or-load:
// concurrent misses for the same key converge on a single load and receive
// the same instance. Caches are constructed at startup and torn down with
// Close; values are disposed when replaced, invalidated or closed.
package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// LoadFunc produces the value for a missing key.
type LoadFunc[V any] func(ctx context.Context) (V, error)

// Cache is a concurrency safe map with per-key get-or-load semantics.
type Cache[V any] struct {
	mu      sync.RWMutex
	items   map[string]V
	group   singleflight.Group
	dispose func(V)
	loads   int
}

// Options configure a Cache.
type Options[V any] struct {
	// Dispose releases a value evicted from the cache. Optional.
	Dispose func(V)
}

// New creates an empty cache.
func New[V any](optFns ...func(o *Options[V])) *Cache[V] {
	opts := Options[V]{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Cache[V]{items: make(map[string]V), dispose: opts.Dispose}
}

// Get returns the cached value for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// GetOrLoad returns the cached value for key, calling load at most once
// across concurrent callers when it is missing. A failed load is not cached.
//
// The load runs detached from the cancellation of the caller that started
// it, so one cancelled caller does not fail the others waiting on the same
// key. Each caller stops waiting when its own ctx is done; the load then
// still completes and populates the cache.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load LoadFunc[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.items[key] = v
		c.loads++
		c.mu.Unlock()
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Put stores v under key, disposing the value it replaces.
func (c *Cache[V]) Put(key string, v V) {
	c.mu.Lock()
	old, had := c.items[key]
	c.items[key] = v
	c.mu.Unlock()
	if had && c.dispose != nil && !sameValue(old, v) {
		c.dispose(old)
	}
}

// Take removes key and hands its value to the caller without disposing it.
func (c *Cache[V]) Take(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	if ok {
		delete(c.items, key)
	}
	return v, ok
}

// Invalidate removes key and disposes its value. It reports whether an
// entry existed.
func (c *Cache[V]) Invalidate(key string) bool {
	v, ok := c.Take(key)
	if ok && c.dispose != nil {
		c.dispose(v)
	}
	return ok
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Loads returns how many loads have been published.
func (c *Cache[V]) Loads() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loads
}

// Close disposes every entry and empties the cache.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	items := c.items
	c.items = make(map[string]V)
	c.mu.Unlock()
	if c.dispose == nil {
		return
	}
	for _, v := range items {
		c.dispose(v)
	}
}

// sameValue reports whether a and b are the identical value. Uncomparable
// values are never considered the same.
func sameValue[V any](a, b V) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return any(a) == any(b)
}
