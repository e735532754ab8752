package storage

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// CachedKV is a read-through cache in front of another KV, backed by ristretto.
// Writes go to the inner store first and only then update the cache.
type CachedKV struct {
	inner KV
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCachedKV wraps inner with a cache of at most maxSizeMB megabytes.
func NewCachedKV(inner KV, maxSizeMB int64, ttl time.Duration) (*CachedKV, error) {
	if maxSizeMB < 1 {
		maxSizeMB = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000, // ~10x the expected number of hot keys
		MaxCost:     maxSizeMB * 1024 * 1024,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &CachedKV{inner: inner, cache: cache, ttl: ttl}, nil
}

func (c *CachedKV) Get(ctx context.Context, key string) ([]byte, error) {
	if val, found := c.cache.Get(key); found {
		if b, ok := val.([]byte); ok {
			return clone(b), nil
		}
		c.cache.Del(key)
	}

	val, err := c.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.store(key, val)
	return val, nil
}

func (c *CachedKV) Put(ctx context.Context, key string, value []byte) error {
	if err := c.inner.Put(ctx, key, value); err != nil {
		c.cache.Del(key)
		return err
	}
	c.store(key, value)
	return nil
}

func (c *CachedKV) Delete(ctx context.Context, key string) error {
	c.cache.Del(key)
	return c.inner.Delete(ctx, key)
}

// List always reads through; prefix scans are not cached.
func (c *CachedKV) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	return c.inner.List(ctx, prefix)
}

// Invalidate drops every cached value without touching the inner store.
func (c *CachedKV) Invalidate() {
	c.cache.Clear()
}

// HitRatio returns ristretto's observed hit ratio.
func (c *CachedKV) HitRatio() float64 {
	return c.cache.Metrics.Ratio()
}

func (c *CachedKV) Close() error {
	c.cache.Close()
	return c.inner.Close()
}

func (c *CachedKV) store(key string, value []byte) {
	cost := int64(len(value))
	if cost == 0 {
		cost = 1
	}
	c.cache.SetWithTTL(key, clone(value), cost, c.ttl)
	// Wait for value to pass through buffers so a following Get observes it
	c.cache.Wait()
}
