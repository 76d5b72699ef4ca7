package modelid

import (
	"github.com/dgraph-io/ristretto/v2"
)

// Cache memoizes Canonical results. Normalization runs two regexes per call,
// which adds up on gateway hot paths where the same handful of model names
// repeats on every request.
type Cache struct {
	cache *ristretto.Cache[string, string]
}

// NewCache creates a memoizing normalizer. The cache is admission-based, so a
// miss immediately after Set is possible and falls back to recomputing.
func NewCache() (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{cache: c}, nil
}

// Canonical returns the same result as the package-level Canonical.
func (c *Cache) Canonical(provider, model string) string {
	key := provider + "\x00" + model
	if v, ok := c.cache.Get(key); ok {
		return v
	}
	v := Canonical(provider, model)
	c.cache.Set(key, v, int64(len(v)))
	return v
}

// Wait blocks until buffered writes are applied. Used in tests.
func (c *Cache) Wait() {
	c.cache.Wait()
}

// Close releases the cache's resources.
func (c *Cache) Close() {
	c.cache.Close()
}
