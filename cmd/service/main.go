package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/flycompare/internal/aggregator"
	"github.com/kjstillabower/flycompare/internal/cache"
	"github.com/kjstillabower/flycompare/internal/client"
	"github.com/kjstillabower/flycompare/internal/config"
	httphandler "github.com/kjstillabower/flycompare/internal/http"
	"github.com/kjstillabower/flycompare/internal/lifecycle"
	"github.com/kjstillabower/flycompare/internal/observability"
	"github.com/kjstillabower/flycompare/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	// lifetime ends detached aggregations and background loops once shutdown has drained requests.
	lifetime, endLifetime := context.WithCancel(context.Background())
	defer endLifetime()

	automation, err := client.NewTinyFishClient(cfg.TinyFishKey, cfg.AutomationURL, cfg.AutomationTimeout)
	if err != nil {
		logger.Fatal("automation client", zap.Error(err))
	}

	breakers := newBreakers(cfg, logger)
	agg := aggregator.New(automation, aggregator.Config{
		Sites:         cfg.Sources,
		SourceTimeout: cfg.AutomationTimeout,
		Concurrency:   cfg.FetchConcurrency,
		Breakers:      breakers,
	}, logger)
	logger.Info("sources configured",
		zap.Int("count", len(cfg.Sources)),
		zap.Int("fetch_concurrency", cfg.FetchConcurrency),
		zap.Duration("source_timeout", cfg.AutomationTimeout))

	backend, err := newCache(lifetime, cfg, logger)
	if err != nil {
		logger.Fatal("cache backend", zap.Error(err), zap.String("backend", cfg.CacheBackend))
	}

	searchService := service.NewSearchService(agg, backend.cache, service.Options{
		TTL:             cfg.CacheTTL,
		CoalesceTimeout: cfg.CoalesceTimeout,
		Lifetime:        lifetime,
		Logger:          logger,
	})

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		StartTime:        time.Now(),
		Version:          version,
	}
	if backend.pinger != nil {
		healthConfig.CachePing = backend.pinger.Ping
	}

	airports := newAirportLookup(cfg)
	if airports == nil {
		logger.Info("airport lookup disabled; AVIATION_KEY not set")
	}
	handler := httphandler.NewHandler(searchService, airports, cfg.MaxFieldLength, healthConfig, logger)

	if len(cfg.TrackedRoutes) > 0 {
		observability.SetTrackedRoutes(cfg.TrackedRoutes)
	}

	if len(cfg.WarmRoutes) > 0 {
		warmer := cache.NewCacheWarmer(searchService, cfg.WarmDaysAhead, cfg.WarmConcurrency, logger)
		go func() {
			if err := warmer.Warm(lifetime, cfg.WarmRoutes); err != nil {
				logger.Warn("cache warming failed", zap.Error(err))
			}
			if err := warmer.WarmPeriodic(lifetime, cfg.WarmRoutes, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("periodic cache warming stopped", zap.Error(err))
			}
		}()
	}

	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout(cfg.RequestTimeout),
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.BeginShutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight), zap.Int64("searches", httphandler.SearchesInFlight()))
	observability.RecordShutdownInFlight(inFlight)
	if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}
	endLifetime()

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if backend.closer != nil {
		if err := backend.closer(); err != nil {
			logger.Error("cache close", zap.Error(err), zap.String("backend", cfg.CacheBackend))
		}
	}
	logger.Info("shutdown complete")
}
