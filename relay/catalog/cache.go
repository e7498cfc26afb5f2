package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/gatewayz/gatewayz/common/logger"
)

// Status is the discriminated cache state: the same entry either serves
// fresh data, stale data pending refresh, nothing, or sits in a dedicated
// error backoff (independent of the stale window, e.g. Alibaba quota
// errors).
type Status int

const (
	StatusEmpty Status = iota
	StatusFresh
	StatusStale
	StatusErrorBackoff
)

func (s Status) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusStale:
		return "stale"
	case StatusErrorBackoff:
		return "error_backoff"
	default:
		return "empty"
	}
}

// RefreshPool bounds the number of concurrent background refreshes across
// all gateway caches.
type RefreshPool struct {
	sem chan struct{}
}

// NewRefreshPool builds a pool with the given worker count.
func NewRefreshPool(workers int) *RefreshPool {
	if workers <= 0 {
		workers = 4
	}
	return &RefreshPool{sem: make(chan struct{}, workers)}
}

func (p *RefreshPool) tryAcquire() bool {
	select {
	case p.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *RefreshPool) release() { <-p.sem }

// Cache is a typed single-entry cache with TTL, stale-TTL, and error
// backoff. Reads within ttl are fresh; between ttl and staleTTL the last
// good data is served while at most one background refresh runs; beyond
// staleTTL the read refreshes synchronously.
type Cache[T any] struct {
	mu sync.Mutex

	name     string
	ttl      time.Duration
	staleTTL time.Duration
	pool     *RefreshPool

	data      T
	has       bool
	timestamp time.Time

	errMsg   string
	errUntil time.Time

	refreshing bool

	now func() time.Time
}

// NewCache builds a cache entry named for its gateway.
func NewCache[T any](name string, ttl, staleTTL time.Duration, pool *RefreshPool) *Cache[T] {
	if staleTTL < ttl {
		staleTTL = ttl
	}
	return &Cache[T]{
		name:     name,
		ttl:      ttl,
		staleTTL: staleTTL,
		pool:     pool,
		now:      time.Now,
	}
}

// Get returns cached data according to the stale-while-revalidate policy,
// calling fetch when a synchronous or background refresh is due. fetch runs
// outside the cache lock.
func (c *Cache[T]) Get(ctx context.Context, fetch func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	now := c.now()

	// Dedicated error backoff: serve whatever data exists without touching
	// the upstream, fail only when there is nothing to serve.
	if now.Before(c.errUntil) {
		if c.has {
			data := c.data
			c.mu.Unlock()
			return data, nil
		}
		msg := c.errMsg
		c.mu.Unlock()
		var zero T
		return zero, errors.Errorf("%s: in error backoff: %s", c.name, msg)
	}

	if c.has {
		age := now.Sub(c.timestamp)
		if age < c.ttl {
			data := c.data
			c.mu.Unlock()
			return data, nil
		}
		if age < c.staleTTL {
			data := c.data
			c.scheduleRefreshLocked(fetch)
			c.mu.Unlock()
			return data, nil
		}
	}
	c.mu.Unlock()

	// Empty or beyond the stale window: synchronous refresh.
	data, err := fetch(ctx)
	if err != nil {
		c.mu.Lock()
		if c.has {
			// Failed refresh never clobbers the last good data.
			data = c.data
			c.mu.Unlock()
			return data, nil
		}
		c.mu.Unlock()
		var zero T
		return zero, errors.Wrapf(err, "fetch %s", c.name)
	}

	c.Set(data)
	return data, nil
}

// scheduleRefreshLocked starts a background refresh when none is in flight
// for this entry and a pool slot is available. Caller holds c.mu.
func (c *Cache[T]) scheduleRefreshLocked(fetch func(context.Context) (T, error)) {
	if c.refreshing {
		return
	}
	if c.pool != nil && !c.pool.tryAcquire() {
		return
	}
	c.refreshing = true

	go func() {
		defer func() {
			c.mu.Lock()
			c.refreshing = false
			c.mu.Unlock()
			if c.pool != nil {
				c.pool.release()
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		data, err := fetch(ctx)
		if err != nil {
			logger.Logger.Warn("background catalog refresh failed",
				zap.String("gateway", c.name),
				zap.Error(err))
			return
		}
		c.Set(data)
	}()
}

// Set stores fresh data and clears any error state.
func (c *Cache[T]) Set(data T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.has = true
	c.timestamp = c.now()
	c.errMsg = ""
	c.errUntil = time.Time{}
}

// SetError records an error state with its own backoff without touching the
// stale data.
func (c *Cache[T]) SetError(msg string, backoff time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errMsg = msg
	c.errUntil = c.now().Add(backoff)
}

// Peek returns the cached data (possibly stale) and its status without
// triggering any refresh.
func (c *Cache[T]) Peek() (T, Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Before(c.errUntil) {
		return c.data, StatusErrorBackoff
	}
	if !c.has {
		var zero T
		return zero, StatusEmpty
	}
	age := now.Sub(c.timestamp)
	switch {
	case age < c.ttl:
		return c.data, StatusFresh
	case age < c.staleTTL:
		return c.data, StatusStale
	default:
		var zero T
		return zero, StatusEmpty
	}
}

// Clear drops the entry entirely; used by admin invalidation.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.data = zero
	c.has = false
	c.timestamp = time.Time{}
	c.errMsg = ""
	c.errUntil = time.Time{}
}

// SetNowFunc overrides the clock; test helper.
func (c *Cache[T]) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Refreshing reports whether a background refresh is currently in flight.
func (c *Cache[T]) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}
