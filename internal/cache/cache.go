// Package cache provides small in-process TTL caches for hot read paths.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a typed key/value store with per-entry expiry.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V, ttl time.Duration)
	Delete(key string)
	Flush()
}

// TTLCache adapts go-cache to a typed API.
type TTLCache[V any] struct {
	store *gocache.Cache
}

// NewTTLCache returns a cache whose entries default to ttl and are swept every cleanup.
func NewTTLCache[V any](ttl, cleanup time.Duration) *TTLCache[V] {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &TTLCache[V]{store: gocache.New(ttl, cleanup)}
}

func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V
	raw, ok := c.store.Get(key)
	if !ok {
		return zero, false
	}
	value, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return value, true
}

// Set stores value. A zero ttl uses the cache default.
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.store.Set(key, value, ttl)
}

func (c *TTLCache[V]) Delete(key string) {
	c.store.Delete(key)
}

func (c *TTLCache[V]) Flush() {
	c.store.Flush()
}

func (c *TTLCache[V]) Len() int {
	return c.store.ItemCount()
}
