// Package cache provides an in-memory TTL cache with hit/miss statistics and
// a read-through helper for expensive lookups.
package cache

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ClippyCDN/clippy/internal/logging"
	"github.com/ClippyCDN/clippy/internal/metrics"
)

// DefaultCheckInterval is how often expired entries are swept when a TTL is
// set and no interval is given.
const DefaultCheckInterval = time.Minute

// DebugOptions enables debug log lines per event type.
type DebugOptions struct {
	Added   bool
	Removed bool
	Fetched bool
	Expired bool
	Missed  bool
}

// Options configures a Cache.
type Options struct {
	// Name labels log lines and metrics.
	Name string
	// TTL is how long an entry stays valid. Zero disables expiry.
	TTL time.Duration
	// CheckInterval is the sweep period, DefaultCheckInterval when zero.
	CheckInterval time.Duration
	// Live enables serving from the cache in FetchWithCache. When false every
	// call goes to the fetch function.
	Live  bool
	Debug DebugOptions
}

// Statistics is a point-in-time view of cache counters.
type Statistics struct {
	Size          int     `json:"size"`
	Keys          int     `json:"keys"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Expired       int64   `json:"expired"`
	HitPercentage float64 `json:"hit_percentage"`
}

type entry[V any] struct {
	Value     V     `json:"value"`
	Timestamp int64 `json:"timestamp"`

	stored time.Time
}

// Cache is a concurrency-safe TTL cache keyed by string.
type Cache[V any] struct {
	name string
	ttl  time.Duration
	live bool
	dbg  DebugOptions
	log  *zap.Logger
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]entry[V]
	hits    int64
	misses  int64
	expired int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a cache. When opts.TTL is positive a background sweep runs
// every CheckInterval until Close is called.
func New[V any](opts Options) *Cache[V] {
	if opts.Name == "" {
		opts.Name = "default"
	}
	c := &Cache[V]{
		name:    opts.Name,
		ttl:     opts.TTL,
		live:    opts.Live,
		dbg:     opts.Debug,
		log:     logging.Named("cache").With(zap.String("cache", opts.Name)),
		now:     time.Now,
		entries: make(map[string]entry[V]),
		done:    make(chan struct{}),
	}

	if c.ttl > 0 {
		interval := opts.CheckInterval
		if interval <= 0 {
			interval = DefaultCheckInterval
		}
		c.wg.Add(1)
		go c.sweepLoop(interval)
	}
	return c
}

// Name returns the cache name.
func (c *Cache[V]) Name() string { return c.name }

// Live reports whether FetchWithCache serves from this cache.
func (c *Cache[V]) Live() bool { return c.live }

func (c *Cache[V]) sweepLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}

// Close stops the sweep goroutine. The cache remains usable.
func (c *Cache[V]) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Cache[V]) expiredAt(e entry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.stored) >= c.ttl
}

// Get returns the value for key and counts a hit, or counts a miss. An entry
// past its TTL is removed here and counted as expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && c.expiredAt(e, c.now()) {
		delete(c.entries, key)
		c.expired++
		metrics.RecordCacheExpired(c.name, 1)
		ok = false
	}
	if !ok {
		c.misses++
		misses := c.misses
		c.mu.Unlock()

		metrics.RecordCacheLookup(c.name, false)
		if c.dbg.Missed {
			c.log.Debug("cache miss", zap.String("key", key), zap.Int64("misses", misses))
		}
		var zero V
		return zero, false
	}
	c.hits++
	hits := c.hits
	c.mu.Unlock()

	metrics.RecordCacheLookup(c.name, true)
	if c.dbg.Fetched {
		c.log.Debug("retrieved from cache", zap.String("key", key), zap.Int64("hits", hits))
	}
	return e.Value, true
}

// lookup returns a live entry and counts a hit; absence is not counted.
func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || c.expiredAt(e, c.now()) {
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	c.hits++
	hits := c.hits
	c.mu.Unlock()

	metrics.RecordCacheLookup(c.name, true)
	if c.dbg.Fetched {
		c.log.Debug("retrieved from cache", zap.String("key", key), zap.Int64("hits", hits))
	}
	return e.Value, true
}

// Set stores v under key, replacing any previous entry and its timestamp.
func (c *Cache[V]) Set(key string, v V) {
	now := c.now()
	c.mu.Lock()
	c.entries[key] = entry[V]{Value: v, Timestamp: now.UnixMilli(), stored: now}
	keys := len(c.entries)
	hits, misses := c.hits, c.misses
	c.mu.Unlock()

	metrics.SetCacheKeys(c.name, keys)
	if c.dbg.Added {
		c.log.Debug("inserted into cache",
			zap.String("key", key),
			zap.Int("keys", keys),
			zap.Int64("hits", hits),
			zap.Int64("misses", misses))
	}
}

// Has reports whether a live entry exists without touching the counters.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && !c.expiredAt(e, c.now())
}

// Remove evicts key if present.
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	keys := len(c.entries)
	c.mu.Unlock()

	metrics.SetCacheKeys(c.name, keys)
	if c.dbg.Removed {
		c.log.Debug("removed from cache", zap.String("key", key))
	}
}

// Sweep evicts every expired entry and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	if c.ttl <= 0 {
		return 0
	}
	now := c.now()

	c.mu.Lock()
	before := len(c.entries)
	for k, e := range c.entries {
		if c.expiredAt(e, now) {
			delete(c.entries, k)
		}
	}
	after := len(c.entries)
	n := before - after
	c.expired += int64(n)
	c.mu.Unlock()

	if n > 0 {
		metrics.RecordCacheExpired(c.name, n)
	}
	metrics.SetCacheKeys(c.name, after)
	if c.dbg.Expired {
		c.log.Debug("expired cache entries",
			zap.Int("expired", n),
			zap.Int("before", before),
			zap.Int("after", after))
	}
	return n
}

// Statistics returns the current counters. Size approximates the JSON-encoded
// size of all entries in bytes.
func (c *Cache[V]) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	pairs := make([][2]any, 0, len(c.entries))
	for k, e := range c.entries {
		pairs = append(pairs, [2]any{k, e})
	}
	size := 0
	if b, err := json.Marshal(pairs); err == nil {
		size = len(b)
	} else {
		c.log.Debug("size estimate failed", zap.Error(err))
	}

	return Statistics{
		Size:          size,
		Keys:          len(c.entries),
		Hits:          c.hits,
		Misses:        c.misses,
		Expired:       c.expired,
		HitPercentage: hitPercentage(c.hits, c.misses),
	}
}

func hitPercentage(hits, misses int64) float64 {
	if hits == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses) * 100
}
