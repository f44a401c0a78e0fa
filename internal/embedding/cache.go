package embedding

import (
	"sync"
	"time"
)

// cacheEntry wraps a cached vector with its store time for TTL checks.
type cacheEntry struct {
	vec      []float32
	cachedAt time.Time
}

// Cache memoizes embeddings keyed by input text. Query texts repeat heavily,
// and a cache hit saves a full provider round trip. Entries expire after the
// TTL; at capacity an arbitrary entry is evicted.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]cacheEntry
	capacity int
	ttl      time.Duration

	hits   int64
	misses int64
}

// NewCache creates a cache holding at most capacity entries. ttl <= 0 means
// entries never expire.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		entries:  make(map[string]cacheEntry, capacity),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Get returns the cached embedding for text. The returned slice is a copy.
func (c *Cache) Get(text string) ([]float32, bool) {
	c.mu.RLock()
	entry, ok := c.entries[text]
	c.mu.RUnlock()

	if ok && c.ttl > 0 && time.Since(entry.cachedAt) > c.ttl {
		c.mu.Lock()
		// Re-check under the write lock; another goroutine may have refreshed it.
		if cur, still := c.entries[text]; still && time.Since(cur.cachedAt) > c.ttl {
			delete(c.entries, text)
		}
		c.mu.Unlock()
		ok = false
	}

	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if !ok {
		return nil, false
	}
	vec := make([]float32, len(entry.vec))
	copy(vec, entry.vec)
	return vec, true
}

// Put stores an embedding for text. The cache keeps its own copy.
func (c *Cache) Put(text string, vec []float32) {
	stored := make([]float32, len(vec))
	copy(stored, vec)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[text]; !exists && len(c.entries) >= c.capacity {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[text] = cacheEntry{vec: stored, cachedAt: time.Now()}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns the hit and miss counts since creation.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
