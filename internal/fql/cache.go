package fql

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of distinct queries kept parsed.
const DefaultCacheSize = 4096

// Cache memoizes Parse for callers that receive query strings at runtime
// rather than at config load. Parse failures are not cached.
// It is safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, Expr]
}

// NewCache creates a Cache holding up to size parsed queries.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, Expr](size)
	if err != nil {
		return nil, fmt.Errorf("fql cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// Parse returns the cached tree for src, parsing it on first use.
func (c *Cache) Parse(src string) (Expr, error) {
	if e, ok := c.entries.Get(src); ok {
		return e, nil
	}
	e, err := Parse(src)
	if err != nil {
		return nil, err
	}
	c.entries.Add(src, e)
	return e, nil
}

// Len returns how many parsed queries are cached.
func (c *Cache) Len() int {
	return c.entries.Len()
}
