package cache_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/apicache/modules/cache"
)

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, maxAge time.Duration, maxSize int, clock *fakeClock) *cache.Cache[string] {
	t.Helper()
	c, err := cache.New[string](cache.Options{
		MaxAge:         maxAge,
		MaxSize:        maxSize,
		Clock:          clock.Now,
		DisableSweeper: true,
	})
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}

func TestNew_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts cache.Options
	}{
		{name: "zero max age", opts: cache.Options{MaxAge: 0, MaxSize: 1}},
		{name: "negative max age", opts: cache.Options{MaxAge: -time.Second, MaxSize: 1}},
		{name: "zero max size", opts: cache.Options{MaxAge: time.Second, MaxSize: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := cache.New[int](tt.opts)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
		})
	}
}

func TestCache_SetThenGet(t *testing.T) {
	c := newTestCache(t, time.Minute, 10, newFakeClock())

	for i := 0; i < 10; i++ {
		k, v := fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i)
		c.Set(k, v)
		got, ok := c.Get(k)
		require.True(t, ok)
		assert.Equal(t, v, got)
	}
}

func TestCache_GetMissing(t *testing.T) {
	c := newTestCache(t, time.Minute, 1, newFakeClock())

	got, ok := c.Get("never-set")
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	clock := newFakeClock()
	const n = 3
	c := newTestCache(t, time.Hour, n, clock)

	for i := 0; i <= n; i++ {
		c.Set(fmt.Sprintf("k%d", i), "v")
		clock.Advance(time.Millisecond)
	}

	assert.Equal(t, n, c.Len())
	_, ok := c.Get("k0")
	assert.False(t, ok, "first inserted key should have been evicted")
	for i := 1; i <= n; i++ {
		_, ok := c.Get(fmt.Sprintf("k%d", i))
		assert.True(t, ok, "k%d should remain", i)
	}
}

func TestCache_EvictionUsesTimestampNotKeyOrder(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, time.Hour, 2, clock)

	c.Set("a", "1")
	clock.Advance(time.Second)
	c.Set("b", "2")
	clock.Advance(time.Second)
	// overwrite refreshes a's timestamp, so b becomes the oldest
	c.Set("a", "1bis")
	clock.Advance(time.Second)
	c.Set("c", "3")

	_, ok := c.Get("b")
	assert.False(t, ok)
	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1bis", got)
}

func TestCache_OverwriteNeverEvicts(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, time.Hour, 2, clock)

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("b", "3")
	c.Set("a", "4")

	assert.Equal(t, 2, c.Len())
	got, _ := c.Get("a")
	assert.Equal(t, "4", got)
	got, _ = c.Get("b")
	assert.Equal(t, "3", got)
}

func TestCache_SizeNeverExceedsMax(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, time.Hour, 5, clock)

	for i := 0; i < 50; i++ {
		c.Set(fmt.Sprintf("k%d", i%17), "v")
		require.LessOrEqual(t, c.Len(), 5)
	}
}

func TestCache_ExpiryBoundary(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, time.Second, 5, clock)

	c.Set("k", "v")
	clock.Advance(time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok, "entry aged exactly MaxAge is still readable")

	clock.Advance(time.Nanosecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry older than MaxAge is absent")
}

func TestCache_ExpiredGetDeletes(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, time.Second, 5, clock)

	c.Set("k", "v")
	clock.Advance(2 * time.Second)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry must be removed on access")

	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestCache_ClearTwice(t *testing.T) {
	c := newTestCache(t, time.Minute, 5, newFakeClock())
	c.Set("a", "1")
	c.Set("b", "2")

	c.Clear()
	assert.Equal(t, 0, c.Len())
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCache_Delete(t *testing.T) {
	c := newTestCache(t, time.Minute, 5, newFakeClock())
	c.Set("a", "1")
	c.Delete("a")
	c.Delete("missing")

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_Sweep(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, time.Second, 10, clock)

	c.Set("old1", "v")
	c.Set("old2", "v")
	clock.Advance(1500 * time.Millisecond)
	c.Set("fresh", "v")

	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.Sweep())
}

func TestCache_SweeperRunsAndStops(t *testing.T) {
	c, err := cache.New[string](cache.Options{MaxAge: 20 * time.Millisecond, MaxSize: 10})
	require.NoError(t, err)

	c.Set("k", "v")
	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond,
		"sweeper should purge the entry without any Get")

	c.Stop()
	select {
	case <-c.Done():
	default:
		t.Fatal("sweeper still running after Stop")
	}

	// second Stop must not panic or block
	c.Stop()
}

func TestCache_DisabledSweeperIsDoneImmediately(t *testing.T) {
	c := newTestCache(t, time.Minute, 1, newFakeClock())
	select {
	case <-c.Done():
	default:
		t.Fatal("expected no scheduled work when the sweeper is disabled")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c, err := cache.New[int](cache.Options{MaxAge: time.Minute, MaxSize: 16})
	require.NoError(t, err)
	defer c.Stop()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*31+i)%40)
				c.Set(key, i)
				c.Get(key)
				if i%50 == 0 {
					c.Sweep()
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 16)
}

func TestCache_PrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := cache.NewPrometheusMetrics(reg, "test")
	clock := newFakeClock()

	c, err := cache.New[string](cache.Options{
		MaxAge:         time.Second,
		MaxSize:        1,
		Clock:          clock.Now,
		Metrics:        m,
		DisableSweeper: true,
	})
	require.NoError(t, err)

	c.Set("a", "1")
	c.Get("a")      // hit
	c.Get("b")      // miss
	c.Set("b", "2") // evicts a
	clock.Advance(2 * time.Second)
	c.Get("b") // expire + miss

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Hits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Expired))
}
