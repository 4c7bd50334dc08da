package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache[string](10)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Set(ctx, "a", "alpha")
	v, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, "alpha", v)
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCache_EvictsOldestInsert(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache[int](3)
	for i := 0; i < 4; i++ {
		c.Set(ctx, fmt.Sprint(i), i)
	}

	assert.Equal(t, 3, c.Len())
	_, ok := c.Get(ctx, "0")
	assert.False(t, ok)
	for _, k := range []string{"1", "2", "3"} {
		_, ok := c.Get(ctx, k)
		assert.True(t, ok, k)
	}
}

func TestMemoryCache_OverwriteKeepsPosition(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache[int](2)
	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	c.Set(ctx, "a", 10)
	c.Set(ctx, "c", 3)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok, "a was inserted first and must be evicted first")
	v, _ := c.Get(ctx, "b")
	assert.Equal(t, 2, v)
}

func TestMemoryCache_TrimAndClear(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache[int](100)
	for i := 0; i < 50; i++ {
		c.Set(ctx, fmt.Sprint(i), i)
	}

	assert.Equal(t, 40, c.Trim(10))
	assert.Equal(t, 10, c.Len())
	_, ok := c.Get(ctx, "49")
	assert.True(t, ok, "newest entries survive a trim")
	assert.Equal(t, 0, c.Trim(20))

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCacheCapacity, NewMemoryCache[int](0).Capacity())
}

func TestMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache[int](64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("%d-%d", g, i)
				c.Set(ctx, key, i)
				c.Get(ctx, key)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}

type fakeRemote struct {
	mu      sync.Mutex
	data    map[string]string
	getErr  error
	setErr  error
	gets    int
	setKeys []string
}

func newFakeRemote() *fakeRemote { return &fakeRemote{data: map[string]string{}} }

func (f *fakeRemote) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return "", false, f.getErr
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeRemote) Set(_ context.Context, key string, v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setKeys = append(f.setKeys, key)
	if f.setErr != nil {
		return f.setErr
	}
	f.data[key] = v
	return nil
}

func TestTieredCache_PromotesRemoteHits(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.data["k"] = "from-remote"
	c := NewTieredCache[string](NewMemoryCache[string](4), remote, nil)

	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "from-remote", v)
	assert.Equal(t, 1, c.Len())

	_, _ = c.Get(ctx, "k")
	assert.Equal(t, 1, remote.gets, "second lookup is served locally")
}

func TestTieredCache_SetWritesBothTiers(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	c := NewTieredCache[string](nil, remote, nil)

	c.Set(ctx, "k", "v")
	assert.Equal(t, "v", remote.data["k"])
	assert.Equal(t, 1, c.Len())
}

func TestTieredCache_RemoteErrorsAreMisses(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.getErr = errors.New("connection refused")
	remote.setErr = errors.New("connection refused")
	c := NewTieredCache[string](NewMemoryCache[string](4), remote, nil)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	assert.NotPanics(t, func() { c.Set(ctx, "k", "v") })
	v, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestTieredCache_TrimIsLocalOnly(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	c := NewTieredCache[string](NewMemoryCache[string](4), remote, nil)
	c.Set(ctx, "a", "1")
	c.Set(ctx, "b", "2")

	assert.Equal(t, 2, c.Trim(0))
	c.Clear()
	assert.Len(t, remote.data, 2)
}
