package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/flycompare/internal/models"
)

// RedisCache implements Cache on a redis server, storing the same JSON entry as MemcachedCache.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisCache connects lazily to addr (host:port). timeout bounds dial, read and write.
func NewRedisCache(addr, password string, db int, timeout time.Duration, ttl time.Duration) *RedisCache {
	opt := &redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}
	if timeout > 0 {
		opt.DialTimeout = timeout
		opt.ReadTimeout = timeout
		opt.WriteTimeout = timeout
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: redis.NewClient(opt), ttl: ttl, now: time.Now}
}

// Get implements Cache.Get.
func (c *RedisCache) Get(ctx context.Context, key string) ([]models.FlightRecord, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	e, err := decodeEntry(raw, c.ttl)
	if err != nil {
		return nil, false, err
	}
	if e.stale(c.now()) {
		if err := c.client.Del(ctx, keyPrefix+key).Err(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return e.Data, true, nil
}

// Set implements Cache.Set. The redis expiry matches ttl.
func (c *RedisCache) Set(ctx context.Context, key string, flights []models.FlightRecord, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	raw, err := encodeEntry(flights, c.now(), ttl)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, raw, ttl).Err()
}

// Ping checks if redis is reachable. Used for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
