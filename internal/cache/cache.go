package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/kjstillabower/flycompare/internal/models"
	"github.com/kjstillabower/flycompare/internal/observability"
)

// DefaultTTL is how long a search result stays fresh.
const DefaultTTL = 15 * time.Minute

// DefaultMaxEntries bounds the in-memory cache.
const DefaultMaxEntries = 1000

// Cache stores search results by cache key.
// Get returns (flights, true, nil) for an entry younger than its TTL and (nil, false, nil) otherwise;
// stale entries are removed by the read that finds them. Set overwrites unconditionally.
type Cache interface {
	Get(ctx context.Context, key string) ([]models.FlightRecord, bool, error)
	Set(ctx context.Context, key string, flights []models.FlightRecord, ttl time.Duration) error
}

// Pinger is implemented by backends that live in another process.
type Pinger interface {
	Ping(ctx context.Context) error
}

// entry is a cached search result, the time it was stored and how long it stays fresh.
// TTLSeconds travels with the entry so shared backends judge freshness by the ttl
// given to Set, not by whichever process reads it.
type entry struct {
	Data       []models.FlightRecord `json:"data"`
	Timestamp  time.Time             `json:"timestamp"`
	TTLSeconds int64                 `json:"ttl_seconds,omitempty"`
	ttl        time.Duration
}

func (e entry) stale(now time.Time) bool {
	return now.Sub(e.Timestamp) >= e.ttl
}

// InMemoryCache is a bounded, mutex-guarded Cache. When full, the least recently
// used entry is evicted. Values are copied in and out so callers never share slices.
type InMemoryCache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, entry]
	now func() time.Time
}

// Option configures an InMemoryCache.
type Option func(*InMemoryCache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *InMemoryCache) { c.now = now }
}

// NewInMemoryCache returns a cache holding at most maxEntries results (DefaultMaxEntries if <= 0).
func NewInMemoryCache(maxEntries int, opts ...Option) *InMemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	l, err := simplelru.NewLRU[string, entry](maxEntries, nil)
	if err != nil {
		// NewLRU only fails for a non-positive size.
		panic(fmt.Sprintf("cache: %v", err))
	}
	c := &InMemoryCache{lru: l, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the cached flights for key when the entry is fresh.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]models.FlightRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if e.stale(c.now()) {
		c.lru.Remove(key)
		observability.CacheEvictionsTotal.WithLabelValues("expired").Inc()
		observability.CacheEntries.Set(float64(c.lru.Len()))
		return nil, false, nil
	}
	return models.CloneFlights(e.Data), true, nil
}

// Set stores a copy of flights under key with a fresh timestamp.
func (c *InMemoryCache) Set(ctx context.Context, key string, flights []models.FlightRecord, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if evicted := c.lru.Add(key, entry{Data: models.CloneFlights(flights), Timestamp: c.now(), ttl: ttl}); evicted {
		observability.CacheEvictionsTotal.WithLabelValues("capacity").Inc()
	}
	observability.CacheEntries.Set(float64(c.lru.Len()))
	return nil
}

// Len returns the number of entries held, fresh or not.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Sweep removes every stale entry and returns how many were removed.
func (c *InMemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && e.stale(now) {
			c.lru.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		observability.CacheEvictionsTotal.WithLabelValues("expired").Add(float64(removed))
		observability.CacheEntries.Set(float64(c.lru.Len()))
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (c *InMemoryCache) RunSweeper(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 && logger != nil {
				logger.Debug("swept stale cache entries", zap.Int("removed", n))
			}
		}
	}
}
