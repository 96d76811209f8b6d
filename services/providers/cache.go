package providers

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	key        string
	vector     []float32
	insertedAt time.Time
	element    *list.Element
}

func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return ttl > 0 && time.Since(e.insertedAt) > ttl
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// CachedEmbedder wraps an Embedder with an LRU cache of single-text
// embeddings. Repeated queries within a conversation skip the provider.
type CachedEmbedder struct {
	Embedder

	mu      sync.Mutex
	entries map[string]*cacheEntry
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewCachedEmbedder creates a CachedEmbedder holding at most maxSize vectors
// for ttl. A zero ttl keeps entries until evicted.
func NewCachedEmbedder(inner Embedder, maxSize int, ttl time.Duration) *CachedEmbedder {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &CachedEmbedder{
		Embedder: inner,
		entries:  make(map[string]*cacheEntry),
		lruList:  list.New(),
		maxSize:  maxSize,
		ttl:      ttl,
	}
}

// Embed returns a cached vector when present, otherwise asks the wrapped
// embedder and stores the result.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if IsBlank(text) {
		return nil, nil
	}

	if vec, ok := c.get(text); ok {
		return vec, nil
	}

	vec, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if vec != nil {
		c.set(text, vec)
	}
	return vec, nil
}

func (c *CachedEmbedder) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(key)
		}
		return nil, false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++
	return entry.vector, true
}

func (c *CachedEmbedder) set(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		entry.vector = vec
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		if back := c.lruList.Back(); back != nil {
			c.removeEntry(back.Value.(string))
		}
	}

	entry := &cacheEntry{key: key, vector: vec, insertedAt: time.Now()}
	entry.element = c.lruList.PushFront(key)
	c.entries[key] = entry
}

// must be called with lock held
func (c *CachedEmbedder) removeEntry(key string) {
	if entry, exists := c.entries[key]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, key)
	}
}

// Clear removes all entries from the cache
func (c *CachedEmbedder) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// Stats returns cache statistics
func (c *CachedEmbedder) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}
