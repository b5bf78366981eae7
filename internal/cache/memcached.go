package cache

import (
	"context"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/flycompare/internal/models"
)

// MemcachedCache implements Cache using memcached. Entries carry their store time,
// and one read at or past ttl is treated as a miss even if memcached still holds it.
type MemcachedCache struct {
	client *memcache.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero. ttl bounds entry age on read.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, ttl time.Duration) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemcachedCache{client: client, ttl: ttl, now: time.Now}, nil
}

func (c *MemcachedCache) key(k string) string {
	// memcached keys may not contain spaces or control characters.
	return keyPrefix + encodeKey(k)
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) ([]models.FlightRecord, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	e, err := decodeEntry(item.Value, c.ttl)
	if err != nil {
		return nil, false, err
	}
	if e.stale(c.now()) {
		if err := c.client.Delete(c.key(key)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			return nil, false, err
		}
		return nil, false, nil
	}
	return e.Data, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, flights []models.FlightRecord, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = int32(DefaultTTL.Seconds())
	}
	raw, err := encodeEntry(flights, c.now(), time.Duration(expSec)*time.Second)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expSec,
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping(ctx context.Context) error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
