// Package cache provides an in-memory key/value cache whose entries expire a
// fixed time after insertion and whose size is capped by evicting the oldest entry.
package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/guarzo/apicache/common"
)

// Options configures a Cache.
type Options struct {
	// MaxAge is how long an entry stays readable after it was set. It is also the sweep period.
	MaxAge time.Duration
	// MaxSize is the maximum number of entries held after any Set.
	MaxSize int

	// Clock defaults to time.Now. Tests inject a fake one.
	Clock   func() time.Time
	Metrics Metrics
	Logger  *slog.Logger
	// DisableSweeper skips the background goroutine; expired entries are
	// then only removed on Get or by calling Sweep.
	DisableSweeper bool
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Cache is safe for concurrent use. Call Stop when it is no longer needed.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]

	maxAge  time.Duration
	maxSize int
	now     func() time.Time
	metrics Metrics
	logger  *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

var _ common.CacheRepository[string] = (*Cache[string])(nil)

// New creates a cache and, unless disabled, starts its sweeper.
func New[V any](opts Options) (*Cache[V], error) {
	if opts.MaxAge <= 0 {
		return nil, errors.Newf(errors.CodeInvalidConfig, "cache max age must be positive, got %s", opts.MaxAge)
	}
	if opts.MaxSize <= 0 {
		return nil, errors.Newf(errors.CodeInvalidConfig, "cache max size must be positive, got %d", opts.MaxSize)
	}

	c := &Cache[V]{
		entries: make(map[string]entry[V], opts.MaxSize),
		maxAge:  opts.MaxAge,
		maxSize: opts.MaxSize,
		now:     opts.Clock,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.metrics == nil {
		c.metrics = NoopMetrics{}
	}
	if c.logger == nil {
		c.logger = common.NopLogger()
	}

	if opts.DisableSweeper {
		close(c.done)
	} else {
		go c.sweepLoop()
	}
	return c, nil
}

// Get returns the value for key if it was set no more than MaxAge ago.
// An expired entry is deleted before returning.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.metrics.Miss()
		return zero, false
	}
	if c.expired(e, c.now()) {
		delete(c.entries, key)
		c.metrics.Expire(1)
		c.metrics.Miss()
		return zero, false
	}
	c.metrics.Hit()
	return e.value, true
}

// Set inserts or overwrites key. Inserting a new key into a full cache first
// evicts the entry with the oldest insertion time. Overwriting never evicts.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = entry[V]{value: value, insertedAt: c.now()}
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len counts stored entries, including expired ones not yet purged.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep deletes every expired entry and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		c.metrics.Expire(removed)
	}
	return removed
}

// Stop cancels the sweeper and waits for it to exit. Safe to call more than once.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
}

// Done is closed once no sweeper goroutine is running.
func (c *Cache[V]) Done() <-chan struct{} {
	return c.done
}

func (c *Cache[V]) expired(e entry[V], now time.Time) bool {
	return now.Sub(e.insertedAt) > c.maxAge
}

// evictOldest removes one entry with the minimal insertion time. Caller holds mu.
func (c *Cache[V]) evictOldest() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.insertedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.insertedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		c.metrics.Eviction()
	}
}

func (c *Cache[V]) sweepLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.maxAge)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("swept expired cache entries", "removed", n)
			}
		}
	}
}
