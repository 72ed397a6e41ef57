// Package resolver implements the memoized async computation service behind
// default values, derived values, and widget props. A cache hit returns
// synchronously without invoking the producer; a miss returns the caller's
// fallback immediately while the producer runs, deduplicated by key so
// concurrent requests share a single invocation. The cache itself never
// decides staleness: completions are handed to the owner, which reconciles
// them against its generation counters before committing.
package resolver

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Producer computes the value for a cache key.
type Producer func(ctx context.Context) (any, error)

// Deliver receives a producer outcome. It runs on the producer's goroutine;
// owners are expected to re-enter their own serialization before mutating
// state, and to call Commit only when the result is still current.
type Deliver func(value any, err error)

// Cache memoizes async computations by string key, scoped to one form
// instance. Keys are namespaced by the owning definition id.
type Cache struct {
	scope  string
	mu     sync.Mutex
	values map[string]any
	flight singleflight.Group
}

// New constructs an empty cache for the given scope.
func New(scope string) *Cache {
	return &Cache{
		scope:  scope,
		values: make(map[string]any),
	}
}

// Lookup returns the cached value for key, if any.
func (c *Cache) Lookup(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[c.scope+"\x00"+key]
	return v, ok
}

// Commit stores value under key. Owners call this only after the generation
// check confirmed the result is not stale.
func (c *Cache) Commit(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[c.scope+"\x00"+key] = value
}

// Forget drops the cached entry for key and detaches any in-flight producer
// from it, so the next Resolve starts fresh instead of joining a computation
// that saw an older snapshot.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	delete(c.values, c.scope+"\x00"+key)
	c.mu.Unlock()
	c.flight.Forget(c.scope + "\x00" + key)
}

// Resolve implements the cache contract. On a hit it returns (value, true)
// synchronously and never invokes producer. On a miss it returns
// (fallback, false), invokes producer on its own goroutine (deduplicated per
// key, so concurrent misses share one call), and hands the outcome to deliver.
func (c *Cache) Resolve(ctx context.Context, key string, producer Producer, fallback any, deliver Deliver) (any, bool) {
	if v, ok := c.Lookup(key); ok {
		return v, true
	}
	scoped := c.scope + "\x00" + key
	ch := c.flight.DoChan(scoped, func() (any, error) {
		return producer(ctx)
	})
	go func() {
		res := <-ch
		deliver(res.Val, res.Err)
	}()
	return fallback, false
}
