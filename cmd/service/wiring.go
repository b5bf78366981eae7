package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/flycompare/internal/cache"
	"github.com/kjstillabower/flycompare/internal/circuitbreaker"
	"github.com/kjstillabower/flycompare/internal/client"
	"github.com/kjstillabower/flycompare/internal/config"
	"github.com/kjstillabower/flycompare/internal/observability"
)

// cacheBackend is the configured result cache plus the hooks health and shutdown need.
type cacheBackend struct {
	cache  cache.Cache
	pinger cache.Pinger
	closer func() error
}

// newCache builds the backend named by cfg.CacheBackend. The in-memory backend
// gets a sweeper that runs until ctx ends.
func newCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cacheBackend, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.CacheTTL)
		if err != nil {
			return cacheBackend{}, err
		}
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return cacheBackend{cache: mc, pinger: mc, closer: mc.Close}, nil
	case "redis":
		rc := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTimeout, cfg.CacheTTL)
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
		return cacheBackend{cache: rc, pinger: rc, closer: rc.Close}, nil
	case "in_memory", "":
		mem := cache.NewInMemoryCache(cfg.CacheMaxEntries)
		go mem.RunSweeper(ctx, cfg.CacheSweepInterval, logger)
		logger.Info("cache backend: in_memory", zap.Int("max_entries", cfg.CacheMaxEntries))
		return cacheBackend{cache: mem}, nil
	default:
		return cacheBackend{}, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

// newBreakers returns one circuit breaker per source, or nil when breakers are disabled.
func newBreakers(cfg *config.Config, logger *zap.Logger) map[string]*circuitbreaker.CircuitBreaker {
	if !cfg.BreakerEnabled {
		return nil
	}
	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(cfg.Sources))
	for _, site := range cfg.Sources {
		breakers[site.Name] = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			Timeout:          cfg.BreakerTimeout,
			Component:        site.Name,
			OnStateChange: func(source string, from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(source, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker transition",
					zap.String("source", source),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		observability.CircuitBreakerState.WithLabelValues(site.Name).Set(0)
	}
	logger.Info("circuit breakers enabled",
		zap.Int("failure_threshold", cfg.BreakerFailureThreshold),
		zap.Duration("timeout", cfg.BreakerTimeout))
	return breakers
}

// newAirportLookup returns nil when no aviationstack key is configured so the
// endpoint answers 503 instead of calling upstream.
func newAirportLookup(cfg *config.Config) client.AirportLookup {
	if cfg.AviationKey == "" {
		return nil
	}
	return client.NewAirportClient(cfg.AviationKey, cfg.AirportURL, cfg.AirportTimeout)
}

// writeTimeout leaves room after the request timeout to write the error response.
func writeTimeout(requestTimeout time.Duration) time.Duration {
	return requestTimeout + 30*time.Second
}
