package batch

import (
	"container/list"
	"context"
	"sync"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
)

// DefaultCacheCapacity bounds the in-memory result cache.
const DefaultCacheCapacity = 1000

// Cache memoises successful results by key. Implementations must be safe
// for concurrent use.
type Cache[R any] interface {
	Get(ctx context.Context, key string) (R, bool)
	Set(ctx context.Context, key string, value R)
	// Len reports the number of locally held entries.
	Len() int
	// Trim evicts the oldest local entries until at most keep remain and
	// returns how many were evicted.
	Trim(keep int) int
	Clear()
}

// RemoteStore is a shared cache tier, typically redis. Errors are reported
// so the caller can log them; they are never fatal to an item.
type RemoteStore[R any] interface {
	Get(ctx context.Context, key string) (R, bool, error)
	Set(ctx context.Context, key string, value R) error
}

// ─────────────────────────────────────────────────────────────────────────────
// MemoryCache
// ─────────────────────────────────────────────────────────────────────────────

type cacheEntry[R any] struct {
	key   string
	value R
}

// MemoryCache is a bounded FIFO cache: once full, the oldest insert is
// evicted. Overwriting a key keeps its original position.
type MemoryCache[R any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is oldest
	index    map[string]*list.Element
}

// NewMemoryCache returns an empty cache. A capacity below 1 selects
// DefaultCacheCapacity.
func NewMemoryCache[R any](capacity int) *MemoryCache[R] {
	if capacity < 1 {
		capacity = DefaultCacheCapacity
	}
	return &MemoryCache[R]{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

func (c *MemoryCache[R]) Get(_ context.Context, key string) (R, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		return el.Value.(*cacheEntry[R]).value, true
	}
	var zero R
	return zero, false
}

func (c *MemoryCache[R]) Set(_ context.Context, key string, value R) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		el.Value.(*cacheEntry[R]).value = value
		return
	}
	for c.order.Len() >= c.capacity {
		c.evictOldestLocked()
	}
	c.index[key] = c.order.PushBack(&cacheEntry[R]{key: key, value: value})
}

func (c *MemoryCache[R]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache[R]) Trim(keep int) int {
	if keep < 0 {
		keep = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for c.order.Len() > keep {
		c.evictOldestLocked()
		evicted++
	}
	return evicted
}

func (c *MemoryCache[R]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.index = make(map[string]*list.Element, c.capacity)
}

// Capacity returns the configured bound.
func (c *MemoryCache[R]) Capacity() int { return c.capacity }

func (c *MemoryCache[R]) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.index, front.Value.(*cacheEntry[R]).key)
}

// ─────────────────────────────────────────────────────────────────────────────
// TieredCache
// ─────────────────────────────────────────────────────────────────────────────

// TieredCache puts a MemoryCache in front of a shared RemoteStore. Local
// misses fall through to the remote tier and remote hits are promoted.
// Len, Trim and Clear act on the local tier only; the remote tier is shared
// with other workers and expires on its own.
type TieredCache[R any] struct {
	local  *MemoryCache[R]
	remote RemoteStore[R]
	logger logging.Logger
}

// NewTieredCache combines local and remote. A nil logger discards output.
func NewTieredCache[R any](local *MemoryCache[R], remote RemoteStore[R], logger logging.Logger) *TieredCache[R] {
	if local == nil {
		local = NewMemoryCache[R](DefaultCacheCapacity)
	}
	return &TieredCache[R]{local: local, remote: remote, logger: logging.OrNop(logger).Named("cache")}
}

func (c *TieredCache[R]) Get(ctx context.Context, key string) (R, bool) {
	if v, ok := c.local.Get(ctx, key); ok {
		return v, true
	}
	var zero R
	if c.remote == nil {
		return zero, false
	}
	v, ok, err := c.remote.Get(ctx, key)
	if err != nil {
		c.logger.Warn("remote cache get failed", logging.String("key", key), logging.Err(err))
		return zero, false
	}
	if !ok {
		return zero, false
	}
	c.local.Set(ctx, key, v)
	return v, true
}

func (c *TieredCache[R]) Set(ctx context.Context, key string, value R) {
	c.local.Set(ctx, key, value)
	if c.remote == nil {
		return
	}
	if err := c.remote.Set(ctx, key, value); err != nil {
		c.logger.Warn("remote cache set failed", logging.String("key", key), logging.Err(err))
	}
}

func (c *TieredCache[R]) Len() int          { return c.local.Len() }
func (c *TieredCache[R]) Trim(keep int) int { return c.local.Trim(keep) }
func (c *TieredCache[R]) Clear()            { c.local.Clear() }
