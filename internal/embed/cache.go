package embed

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"ragchat/internal/llm"
)

// Stats is a snapshot of cache effectiveness counters.
type Stats struct {
	Hits      int
	Misses    int
	Evictions int
}

// Cache memoizes an inner embedder keyed by input text. Entries expire
// after a TTL (RAGCHAT_EMBED_CACHE_TTL_SEC, default 3600; 0 disables
// expiry). The cache write is idempotent: recomputing overwrites with an
// equal value, so a racing double-compute is wasteful but safe.
type Cache struct {
	inner llm.Embedder

	mu    sync.Mutex
	data  map[string][]float32
	times map[string]time.Time
	ttl   time.Duration
	stats Stats
}

func NewCache(inner llm.Embedder) *Cache {
	ttl := 3600
	if v := os.Getenv("RAGCHAT_EMBED_CACHE_TTL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			ttl = n
		}
	}
	return &Cache{
		inner: inner,
		data:  make(map[string][]float32),
		times: make(map[string]time.Time),
		ttl:   time.Duration(ttl) * time.Second,
	}
}

func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	if v, ok := c.data[text]; ok {
		if c.ttl > 0 && time.Since(c.times[text]) > c.ttl {
			delete(c.data, text)
			delete(c.times, text)
			c.stats.Evictions++
		} else {
			c.stats.Hits++
			c.mu.Unlock()
			return v, nil
		}
	}
	c.mu.Unlock()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.data[text] = vec
	c.times[text] = time.Now()
	c.stats.Misses++
	c.mu.Unlock()
	return vec, nil
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
