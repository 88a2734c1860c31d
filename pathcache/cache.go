// Package pathcache maps canonical file paths to fully loaded values.
//
// The cache is unbounded: entries stay until they are evicted explicitly.
// Reads share the stored value, so every holder of a cached entry sees the
// same instance. Concurrent read-through misses for one path are coalesced
// into a single load with singleflight.
package pathcache

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// ErrEmptyPath is returned when a lookup is made with an empty path.
var ErrEmptyPath = errors.New("pathcache: empty path")

// LoadFunc produces a fresh value for a canonical path.
type LoadFunc[V any] func(ctx context.Context, path string) (V, error)

// Canonicalizer maps a user supplied path to its cache key.
type Canonicalizer func(path string) (string, error)

// Clean is the default Canonicalizer. It cleans the path lexically and does not
// touch the filesystem.
func Clean(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	return filepath.Clean(path), nil
}

// Abs canonicalizes to an absolute, cleaned path.
func Abs(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	return filepath.Abs(path)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries    int
	Hits       int64
	Misses     int64
	Loads      int64
	LoadErrors int64
	Stores     int64
	Evictions  int64
}

// Cache is a path-keyed value cache. The zero value is not usable; use New.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]V
	canon   Canonicalizer
	group   singleflight.Group

	hits       atomic.Int64
	misses     atomic.Int64
	loads      atomic.Int64
	loadErrors atomic.Int64
	stores     atomic.Int64
	evictions  atomic.Int64
}

// New creates an empty cache. A nil canonicalizer means Clean.
func New[V any](canon Canonicalizer) *Cache[V] {
	if canon == nil {
		canon = Clean
	}
	return &Cache[V]{
		entries: make(map[string]V),
		canon:   canon,
	}
}

// Key returns the canonical key for path.
func (c *Cache[V]) Key(path string) (string, error) {
	return c.canon(path)
}

// Get returns the value for path.
//
// With readFromCache set, an existing entry is returned as is and concurrent
// misses share one load. Otherwise load always runs. With saveToCache set the
// loaded value replaces any prior entry for the path. The boolean result
// reports a cache hit.
func (c *Cache[V]) Get(ctx context.Context, path string, readFromCache, saveToCache bool, load LoadFunc[V]) (V, bool, error) {
	var zero V

	key, err := c.canon(path)
	if err != nil {
		return zero, false, err
	}

	if readFromCache {
		if v, ok := c.Peek(key); ok {
			c.hits.Add(1)
			return v, true, nil
		}
		c.misses.Add(1)

		flight := key
		if !saveToCache {
			flight = "\x00" + key
		}

		res, err, _ := c.group.Do(flight, func() (any, error) {
			// A flight that finished just before this one may have stored the value.
			if saveToCache {
				if v, ok := c.Peek(key); ok {
					return v, nil
				}
			}
			return c.load(ctx, key, saveToCache, load)
		})
		if err != nil {
			return zero, false, err
		}
		return res.(V), false, nil
	}

	v, err := c.load(ctx, key, saveToCache, load)
	return v, false, err
}

func (c *Cache[V]) load(ctx context.Context, key string, save bool, load LoadFunc[V]) (V, error) {
	c.loads.Add(1)

	v, err := load(ctx, key)
	if err != nil {
		c.loadErrors.Add(1)
		return v, err
	}

	if save {
		c.Put(key, v)
	}
	return v, nil
}

// Peek returns the entry stored under an already canonical key.
func (c *Cache[V]) Peek(key string) (V, bool) {
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	return v, ok
}

// Put stores v under an already canonical key, replacing any prior entry.
func (c *Cache[V]) Put(key string, v V) {
	c.mu.Lock()
	c.entries[key] = v
	c.mu.Unlock()
	c.stores.Add(1)
}

// Evict removes the entry for path and returns it.
func (c *Cache[V]) Evict(path string) (V, bool) {
	var zero V

	key, err := c.canon(path)
	if err != nil {
		return zero, false
	}

	c.mu.Lock()
	v, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if !ok {
		return zero, false
	}
	c.evictions.Add(1)
	return v, true
}

// Clear removes all entries and returns them.
func (c *Cache[V]) Clear() []V {
	c.mu.Lock()
	out := make([]V, 0, len(c.entries))
	for _, v := range c.entries {
		out = append(out, v)
	}
	c.entries = make(map[string]V)
	c.mu.Unlock()

	c.evictions.Add(int64(len(out)))
	return out
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Paths returns the cached keys in sorted order.
func (c *Cache[V]) Paths() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	c.mu.RUnlock()

	slices.Sort(out)
	return out
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Entries:    c.Len(),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Loads:      c.loads.Load(),
		LoadErrors: c.loadErrors.Load(),
		Stores:     c.stores.Load(),
		Evictions:  c.evictions.Load(),
	}
}
