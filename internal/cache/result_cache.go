// Package cache holds the compiled-workflow result cache, which allows at
// most one compilation per key at a time, and the ISO-8601 durations used to
// configure it.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// Key identifies a cache entry. String must be unique per distinct key.
type Key interface {
	comparable
	String() string
}

// LoadFunc produces the value for a key on a cache miss.
type LoadFunc[K Key, V any] func(ctx context.Context, key K) (V, error)

// ResultStats is a snapshot of cache activity.
type ResultStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Loads  int64 `json:"loads"`
	Errors int64 `json:"errors"`
}

// ResultCache memoizes expensive transformations for a fixed TTL. Concurrent
// misses on the same key share a single load; different keys load
// independently. Entries leave only by expiry.
type ResultCache[K Key, V any] struct {
	entries *ttlcache.Cache[K, V]
	load    LoadFunc[K, V]
	group   singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	loads  atomic.Int64
	errors atomic.Int64
}

// NewResultCache creates a cache whose entries live for ttl after being loaded.
func NewResultCache[K Key, V any](ttl time.Duration, load LoadFunc[K, V]) *ResultCache[K, V] {
	return &ResultCache[K, V]{
		entries: ttlcache.New[K, V](
			ttlcache.WithTTL[K, V](ttl),
			ttlcache.WithDisableTouchOnHit[K, V](),
		),
		load: load,
	}
}

// GetOrLoad returns the live entry for key, loading it on a miss. Load errors
// are returned to every waiting caller and nothing is cached. A caller whose
// ctx ends stops waiting; the shared load runs on for the others.
func (c *ResultCache[K, V]) GetOrLoad(ctx context.Context, key K) (V, error) {
	if v, ok := c.Peek(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (any, error) {
		// Another caller may have finished loading between our miss and DoChan.
		if v, ok := c.Peek(key); ok {
			return v, nil
		}
		c.loads.Add(1)
		v, err := c.load(loadCtx, key)
		if err != nil {
			c.errors.Add(1)
			return nil, err
		}
		c.entries.Set(key, v, ttlcache.DefaultTTL)
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Peek returns a live entry without loading.
func (c *ResultCache[K, V]) Peek(key K) (V, bool) {
	item := c.entries.Get(key)
	if item == nil {
		var zero V
		return zero, false
	}
	return item.Value(), true
}

// Stats returns a snapshot of cache activity.
func (c *ResultCache[K, V]) Stats() ResultStats {
	return ResultStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Loads:  c.loads.Load(),
		Errors: c.errors.Load(),
	}
}
