package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency. Searches that miss the cache take minutes; watch the route split.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, long-running searches piling up.
	HTTPRequestsInFlight prometheus.Gauge

	// Automation API call rate per source and status.
	AutomationAPICallsTotal *prometheus.CounterVec

	// Automation API latency per source. A scraping run routinely takes tens of seconds.
	AutomationAPIDuration *prometheus.HistogramVec

	// Sources skipped during aggregation, by failure category.
	SourceFailuresTotal *prometheus.CounterVec

	// Normalized records per source, kept or dropped (missing/non-positive price).
	FlightsNormalizedTotal *prometheus.CounterVec

	// Search outcomes: hit, miss, invalid, error.
	SearchesTotal *prometheus.CounterVec

	// Per-route searches (allow-list; others go to "other").
	SearchesByRouteTotal *prometheus.CounterVec

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// In-memory cache evictions by reason (expired, capacity).
	CacheEvictionsTotal *prometheus.CounterVec

	// Current number of in-memory cache entries.
	CacheEntries prometheus.Gauge

	// Cache backend errors. Watch for: memcached/redis connectivity.
	CacheErrorsTotal *prometheus.CounterVec

	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Concurrent misses for the same key. Coalescing should keep upstream calls at one.
	CacheStampedeDetectedTotal *prometheus.CounterVec
	CacheStampedeConcurrency   *prometheus.HistogramVec

	// Searches that joined an aggregation already in flight.
	RequestCoalescingHitsTotal   *prometheus.CounterVec
	RequestCoalescingWaitSeconds prometheus.Histogram

	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	CircuitBreakerTransitionsTotal *prometheus.CounterVec
	CircuitBreakerState            *prometheus.GaugeVec

	// Airport lookups by outcome (success, not_found, error).
	AirportLookupsTotal *prometheus.CounterVec

	// In-flight requests when shutdown began.
	ShutdownInFlightRequests prometheus.Gauge

	// trackedRoutes is built from config; used to bound route label cardinality.
	trackedRoutesMu sync.RWMutex
	trackedRoutes   map[string]struct{}
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: []float64{.005, .05, .25, 1, 5, 15, 60, 180, 600, 1200},
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	AutomationAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automationApiCallsTotal",
			Help: "Total number of automation API runs",
		},
		[]string{"source", "status"},
	)
	AutomationAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automationApiDurationSeconds",
			Help:    "Automation API run latency in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 500},
		},
		[]string{"source", "status"},
	)
	SourceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourceFailuresTotal",
			Help: "Sources that contributed zero records because of a failure",
		},
		[]string{"source", "category"},
	)
	FlightsNormalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightsNormalizedTotal",
			Help: "Raw flight records seen during normalization, kept or dropped",
		},
		[]string{"source", "outcome"},
	)
	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchesTotal",
			Help: "Flight searches by outcome",
		},
		[]string{"outcome"},
	)
	SearchesByRouteTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchesByRouteTotal",
			Help: "Flight searches by route (allow-list; others use route=other)",
		},
		[]string{"route"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of result cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of result cache misses, including expired entries",
		},
		[]string{"cacheType"},
	)
	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheEvictionsTotal",
			Help: "In-memory cache evictions by reason",
		},
		[]string{"reason"},
	)
	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cacheEntries",
			Help: "Number of entries held by the in-memory result cache",
		},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache get/set latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "status"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses that found another miss for the same key in progress",
		},
		[]string{"route"},
	)
	CacheStampedeConcurrency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Concurrent misses for the same key when a stampede is detected",
			Buckets: []float64{2, 3, 5, 10, 25},
		},
		[]string{"route"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Searches served by joining an aggregation already in flight",
		},
		[]string{"route"},
	)
	RequestCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestCoalescingWaitSeconds",
			Help:    "Time spent waiting on a coalesced aggregation",
			Buckets: []float64{.01, .1, 1, 10, 60, 300, 1000},
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming passes started",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming passes with at least one failed route",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Duration of cache warming passes",
			Buckets: []float64{1, 10, 60, 300, 900, 1800},
		},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions per source",
		},
		[]string{"source", "from", "to"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per source (0 closed, 1 open, 2 half-open)",
		},
		[]string{"source"},
	)
	AirportLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airportLookupsTotal",
			Help: "Airport code lookups by outcome",
		},
		[]string{"outcome"},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight requests when graceful shutdown began",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		AutomationAPICallsTotal, AutomationAPIDuration,
		SourceFailuresTotal, FlightsNormalizedTotal,
		SearchesTotal, SearchesByRouteTotal,
		CacheHitsTotal, CacheMissesTotal, CacheEvictionsTotal, CacheEntries,
		CacheErrorsTotal, CacheOperationDurationSeconds,
		CacheStampedeDetectedTotal, CacheStampedeConcurrency,
		RequestCoalescingHitsTotal, RequestCoalescingWaitSeconds,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		CircuitBreakerTransitionsTotal, CircuitBreakerState,
		AirportLookupsTotal, ShutdownInFlightRequests,
	)
}

// SetTrackedRoutes sets the allow-list for route metrics ("origin-destination").
// Non-tracked routes are labelled "other".
func SetTrackedRoutes(routes []string) {
	trackedRoutesMu.Lock()
	defer trackedRoutesMu.Unlock()
	trackedRoutes = make(map[string]struct{}, len(routes))
	for _, r := range routes {
		trackedRoutes[normalizeRoute(r)] = struct{}{}
	}
}

// MetricRouteLabel returns route when it is tracked, otherwise "other".
func MetricRouteLabel(route string) string {
	r := normalizeRoute(route)
	trackedRoutesMu.RLock()
	_, ok := trackedRoutes[r] // nil map read is safe in Go
	trackedRoutesMu.RUnlock()
	if ok {
		return r
	}
	return "other"
}

// RecordSearch records a search for the origin-destination route.
func RecordSearch(origin, destination string) {
	SearchesByRouteTotal.WithLabelValues(MetricRouteLabel(origin + "-" + destination)).Inc()
}

// RecordCircuitBreakerTransition counts a breaker transition and updates the state gauge.
func RecordCircuitBreakerTransition(source, from, to string, state int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(source, from, to).Inc()
	CircuitBreakerState.WithLabelValues(source).Set(float64(state))
}

// RecordShutdownInFlight records the number of in-flight requests at shutdown.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

func normalizeRoute(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
