package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheStats is a point-in-time view of the compile cache.
type CacheStats struct {
	Entries   int     `json:"entries"`
	Capacity  int     `json:"capacity"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// Cache holds successful compile outputs keyed by content hash. A nil *Cache
// is valid and never hits.
type Cache struct {
	entries  *lru.Cache[string, Output]
	capacity int

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewCache creates a cache holding up to size outputs. A size of zero
// disables caching and returns nil.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		return nil, nil
	}

	c := &Cache{capacity: size}
	entries, err := lru.NewWithEvict[string, Output](size, func(string, Output) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries

	return c, nil
}

// Key derives the cache key for a request compiled under the given options
// fingerprint.
func Key(req Request, options string) string {
	h := sha256.New()
	for _, part := range []string{req.Tag, req.Prelude, req.Body, options} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached output for key.
func (c *Cache) Get(key string) (Output, bool) {
	if c == nil {
		return Output{}, false
	}
	out, ok := c.entries.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return out, ok
}

// Set stores a successful output.
func (c *Cache) Set(key string, out Output) {
	if c == nil {
		return
	}
	c.entries.Add(key, out)
}

// Purge drops every entry. Each dropped entry counts as an eviction.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.entries.Purge()
}

// Stats returns the current cache statistics.
func (c *Cache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}

	stats := CacheStats{
		Entries:   c.entries.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}
