package imageencrypt

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize is the number of curves a zero-sized CurveCache keeps.
const DefaultCacheSize = 8

type dimension struct {
	width, height int
}

// CurveCache keeps recently generated curves by dimension, evicting the least
// recently used one when full. Concurrent requests for the same dimension
// share a single generation. Cached curves must be treated as read-only.
type CurveCache struct {
	group   singleflight.Group
	entries *lru.Cache[dimension, *GilbertCurve]
}

// NewCurveCache returns a cache holding at most size curves.
func NewCurveCache(size int) *CurveCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[dimension, *GilbertCurve](size)
	return &CurveCache{entries: entries}
}

// Get returns the curve for width x height, generating it on a miss.
func (c *CurveCache) Get(width, height int) (*GilbertCurve, error) {
	key := dimension{width, height}
	if curve, ok := c.entries.Get(key); ok {
		return curve, nil
	}

	v, err, _ := c.group.Do(fmt.Sprintf("%dx%d", width, height), func() (interface{}, error) {
		if curve, ok := c.entries.Get(key); ok {
			return curve, nil
		}
		curve, err := Generate(width, height)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, curve)
		return curve, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*GilbertCurve), nil
}

// Len returns the number of cached curves.
func (c *CurveCache) Len() int {
	return c.entries.Len()
}
