package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/flycompare/internal/models"
	"github.com/kjstillabower/flycompare/internal/observability"
)

// DateLayout is the travel date format used for warmed queries.
const DateLayout = "2006-01-02"

// FlightFetcher is implemented by the service layer; a successful fetch populates the cache.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type FlightFetcher interface {
	SearchFlights(ctx context.Context, q models.SearchQuery) ([]models.FlightRecord, error)
}

// CacheWarmer prefetches popular routes so the first visitor does not wait for the scrape.
type CacheWarmer struct {
	fetcher     FlightFetcher
	logger      *zap.Logger
	daysAhead   int
	concurrency int
	now         func() time.Time
}

// NewCacheWarmer creates a CacheWarmer that searches each route for the next daysAhead
// travel dates (today included), at most concurrency searches at a time.
func NewCacheWarmer(fetcher FlightFetcher, daysAhead, concurrency int, logger *zap.Logger) *CacheWarmer {
	if daysAhead <= 0 {
		daysAhead = 1
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger, daysAhead: daysAhead, concurrency: concurrency, now: time.Now}
}

// ParseRoute splits "ORIGIN-DEST" into its two codes.
func ParseRoute(route string) (origin, destination string, err error) {
	parts := strings.Split(strings.TrimSpace(route), "-")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("invalid route %q: want ORIGIN-DEST", route)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// Queries expands routes into one query per route and travel date.
func (w *CacheWarmer) Queries(routes []string) ([]models.SearchQuery, error) {
	today := w.now()
	var (
		out  []models.SearchQuery
		errs []error
	)
	for _, r := range routes {
		origin, dest, err := ParseRoute(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for d := 0; d < w.daysAhead; d++ {
			out = append(out, models.SearchQuery{
				Origin:      origin,
				Destination: dest,
				Date:        today.AddDate(0, 0, d).Format(DateLayout),
			})
		}
	}
	return out, errors.Join(errs...)
}

// Warm searches every route and date through the fetcher.
// Returns an error if any route failed (aggregated).
func (w *CacheWarmer) Warm(ctx context.Context, routes []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()

	queries, parseErr := w.Queries(routes)
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("routes", len(routes)), zap.Int("queries", len(queries)))
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	if parseErr != nil {
		errs = append(errs, parseErr)
	}
	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, q := range queries {
		g.Go(func() error {
			if _, err := w.fetcher.SearchFlights(ctx, q); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", q.CacheKey(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("queries", len(queries)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, routes []string, interval time.Duration) error {
	if err := w.Warm(ctx, routes); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, routes); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
