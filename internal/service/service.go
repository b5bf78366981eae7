package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/flycompare/internal/aggregator"
	"github.com/kjstillabower/flycompare/internal/cache"
	"github.com/kjstillabower/flycompare/internal/models"
	"github.com/kjstillabower/flycompare/internal/observability"
)

// Aggregator is the source fan-out used on a cache miss.
type Aggregator interface {
	Aggregate(ctx context.Context, q models.SearchQuery) (aggregator.Result, error)
}

// SearchResult is what a search returns to the endpoint.
type SearchResult struct {
	Flights []models.FlightRecord
	// Cached is true when Flights came from the result cache.
	Cached bool
	// FailedSources names sources skipped during a fresh aggregation. Empty on a cache hit.
	FailedSources []string
}

// Options tunes SearchService.
type Options struct {
	TTL time.Duration
	// CoalesceTimeout bounds how long a caller waits on an aggregation (0 = until the caller's context ends).
	CoalesceTimeout time.Duration
	// Lifetime ends in-progress aggregations when it is cancelled, at shutdown.
	// Client disconnects never do.
	Lifetime context.Context
	Logger   *zap.Logger
}

// SearchService orchestrates flight searches using the cache-aside pattern.
// Concurrent misses for the same key share one aggregation.
type SearchService struct {
	agg             Aggregator
	cache           cache.Cache
	ttl             time.Duration
	lifetime        context.Context
	logger          *zap.Logger
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer[aggregator.Result]
}

// NewSearchService creates a SearchService backed by agg and c.
func NewSearchService(agg Aggregator, c cache.Cache, opts Options) *SearchService {
	if opts.TTL <= 0 {
		opts.TTL = cache.DefaultTTL
	}
	if opts.Lifetime == nil {
		opts.Lifetime = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &SearchService{
		agg:             agg,
		cache:           c,
		ttl:             opts.TTL,
		lifetime:        opts.Lifetime,
		logger:          opts.Logger,
		stampedeTracker: newStampedeTracker(),
		coalescer:       newRequestCoalescer[aggregator.Result](opts.CoalesceTimeout),
	}
}

// Search returns flights for q, from the cache when a fresh entry exists and otherwise
// from a new aggregation whose result is cached, even when empty.
// q is expected to be validated.
func (s *SearchService) Search(ctx context.Context, q models.SearchQuery) (SearchResult, error) {
	key := q.CacheKey()
	start := time.Now()
	logger := s.logger
	if l := observability.LoggerFromContext(ctx); l != nil {
		logger = l
	}
	observability.RecordSearch(q.Origin, q.Destination)

	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		logger.Warn("cache get failed, searching sources", zap.String("key", key), zap.Error(err))
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
	}
	if err == nil && ok {
		observability.CacheHitsTotal.WithLabelValues("flights").Inc()
		observability.SearchesTotal.WithLabelValues("hit").Inc()
		logger.Debug("serving from cache", zap.String("key", key), zap.Int("flights", len(cached)))
		return SearchResult{Flights: cached, Cached: true}, nil
	}
	observability.CacheMissesTotal.WithLabelValues("flights").Inc()

	routeLabel := observability.MetricRouteLabel(q.Origin + "-" + q.Destination)
	concurrentMisses := s.stampedeTracker.RecordMiss(key)
	defer s.stampedeTracker.Resolve(key)
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(routeLabel).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(routeLabel).Observe(float64(concurrentMisses))
	}

	logger.Debug("cache miss, querying sources", zap.String("key", key))

	// The aggregation keeps the request's values (logger, correlation id) but not its
	// cancellation, so a client that disconnects still leaves a cached result behind.
	detached := context.WithoutCancel(ctx)
	waitStart := time.Now()
	res, shared, err := s.coalescer.Do(ctx, key, func() (aggregator.Result, error) {
		return s.aggregateAndStore(detached, key, q, logger)
	})
	if shared {
		observability.RequestCoalescingHitsTotal.WithLabelValues(routeLabel).Inc()
		observability.RequestCoalescingWaitSeconds.Observe(time.Since(waitStart).Seconds())
	}
	if err != nil {
		observability.SearchesTotal.WithLabelValues("error").Inc()
		return SearchResult{}, fmt.Errorf("search %s: %w", key, err)
	}

	observability.SearchesTotal.WithLabelValues("miss").Inc()
	failed := res.FailedSources()
	logger.Info("search complete",
		zap.String("key", key),
		zap.Int("flights", len(res.Flights)),
		zap.Strings("failed_sources", failed),
		zap.Bool("coalesced", shared),
		zap.Duration("duration", time.Since(start)),
	)
	return SearchResult{
		Flights:       models.CloneFlights(res.Flights),
		FailedSources: failed,
	}, nil
}

// SearchFlights returns only the flights for q. Used by the cache warmer.
func (s *SearchService) SearchFlights(ctx context.Context, q models.SearchQuery) ([]models.FlightRecord, error) {
	res, err := s.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	return res.Flights, nil
}

// aggregateAndStore runs one aggregation and writes its result to the cache.
// A cache write failure is logged, not returned.
func (s *SearchService) aggregateAndStore(ctx context.Context, key string, q models.SearchQuery, logger *zap.Logger) (aggregator.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.lifetime, cancel)
	defer stop()

	res, err := s.agg.Aggregate(ctx, q)
	if err != nil {
		return aggregator.Result{}, err
	}
	if res.Flights == nil {
		res.Flights = []models.FlightRecord{}
	}

	setStart := time.Now()
	if setErr := s.cache.Set(ctx, key, res.Flights, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}
	return res, nil
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, decode, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network"):
		return "connection"
	case strings.Contains(errStr, "unmarshal"):
		return "decode"
	default:
		return "unknown"
	}
}
