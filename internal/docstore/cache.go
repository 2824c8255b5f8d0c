// In-memory read cache keyed by collection path and optional record id.

package docstore

import (
	"sync"
	"time"
)

type cacheKey struct {
	path string
	id   string // "" caches the whole collection
}

type cacheEntry struct {
	value any
	at    time.Time
}

// cache holds recently read collections and records. It is purely an
// optimization: every write to a path drops every entry for that path.
type cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	// byPath indexes the keys of each path for invalidation.
	byPath map[string]map[cacheKey]struct{}
	// gen counts invalidations per path so that a read racing a write does
	// not store the pre-write value.
	gen   map[string]uint64
	epoch uint64
}

func newCache(ttl time.Duration) *cache {
	return &cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
		byPath:  make(map[string]map[cacheKey]struct{}),
		gen:     make(map[string]uint64),
	}
}

// generation returns the invalidation count of path, to be passed to set.
func (c *cache) generation(path string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen[path] + c.epoch
}

func (c *cache) get(path, id string) (any, bool) {
	if c == nil {
		return nil, false
	}
	k := cacheKey{path, id}
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(e.at) > c.ttl {
		c.mu.Lock()
		if cur, ok := c.entries[k]; ok && cur.at == e.at {
			c.remove(k)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// set stores value unless path was invalidated since gen was read.
func (c *cache) set(path, id string, value any, gen uint64) {
	if c == nil {
		return
	}
	k := cacheKey{path, id}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[path]+c.epoch != gen {
		return
	}
	c.entries[k] = cacheEntry{value: value, at: c.now()}
	keys := c.byPath[path]
	if keys == nil {
		keys = make(map[cacheKey]struct{})
		c.byPath[path] = keys
	}
	keys[k] = struct{}{}
}

// invalidate drops every entry of path.
func (c *cache) invalidate(path string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.byPath[path] {
		delete(c.entries, k)
	}
	delete(c.byPath, path)
	c.gen[path]++
}

func (c *cache) invalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.entries = make(map[cacheKey]cacheEntry)
	c.byPath = make(map[string]map[cacheKey]struct{})
}

func (c *cache) len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// remove must be called with mu held.
func (c *cache) remove(k cacheKey) {
	delete(c.entries, k)
	if keys := c.byPath[k.path]; keys != nil {
		delete(keys, k)
		if len(keys) == 0 {
			delete(c.byPath, k.path)
		}
	}
}
