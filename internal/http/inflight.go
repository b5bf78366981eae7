package http

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// InFlightTracker counts requests currently being served. Searches are counted
// separately because one can hold its connection for the whole request timeout,
// and shutdown reports how many it is still waiting on.
type InFlightTracker struct {
	total    atomic.Int64
	searches atomic.Int64
}

// Track marks r as in flight and returns the func that ends it. POST requests are searches.
func (t *InFlightTracker) Track(r *http.Request) (done func()) {
	search := r.Method == http.MethodPost
	t.total.Add(1)
	if search {
		t.searches.Add(1)
	}
	return func() {
		if search {
			t.searches.Add(-1)
		}
		t.total.Add(-1)
	}
}

// Count returns the number of requests in flight.
func (t *InFlightTracker) Count() int64 {
	return t.total.Load()
}

// Searches returns the number of searches in flight.
func (t *InFlightTracker) Searches() int64 {
	return t.searches.Load()
}

// WaitForZero blocks until no request is in flight or ctx is done,
// re-checking every checkInterval.
func (t *InFlightTracker) WaitForZero(ctx context.Context, checkInterval time.Duration) error {
	if checkInterval <= 0 {
		checkInterval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for t.Count() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// globalInFlightTracker is the process-wide counter maintained by MetricsMiddleware.
var globalInFlightTracker = &InFlightTracker{}

// InFlightCount returns the current number of in-flight requests.
func InFlightCount() int64 {
	return globalInFlightTracker.Count()
}

// SearchesInFlight returns the current number of in-flight searches.
func SearchesInFlight() int64 {
	return globalInFlightTracker.Searches()
}

// WaitForInFlight blocks until in-flight requests reach zero or ctx is done.
func WaitForInFlight(ctx context.Context, checkInterval time.Duration) error {
	return globalInFlightTracker.WaitForZero(ctx, checkInterval)
}
