package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/flycompare/internal/models"
	"github.com/kjstillabower/flycompare/internal/service"
)

// blockingSearcher answers once release is closed, after signalling started.
type blockingSearcher struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingSearcher) Search(ctx context.Context, q models.SearchQuery) (service.SearchResult, error) {
	close(b.started)
	<-b.release
	return service.SearchResult{Flights: sampleFlights()}, nil
}

func newDrainRouter(t *testing.T, searcher Searcher) *mux.Router {
	t.Helper()
	resetHealthState(t)
	h := NewHandler(searcher, nil, 0, nil, zap.NewNop())
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/api/search", h.Search).Methods(http.MethodPost)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	return router
}

// TestWaitForInFlight_BlocksUntilSearchAnswers verifies shutdown drain waits for a slow
// search to write its response, and that the count returns to zero afterwards.
func TestWaitForInFlight_BlocksUntilSearchAnswers(t *testing.T) {
	searcher := &blockingSearcher{started: make(chan struct{}), release: make(chan struct{})}
	router := newDrainRouter(t, searcher)

	w := httptest.NewRecorder()
	served := make(chan struct{})
	go func() {
		defer close(served)
		req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"origin":"BLR","destination":"ATQ","date":"2026-03-15"}`))
		router.ServeHTTP(w, req)
	}()

	select {
	case <-searcher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("search never started")
	}
	if got := SearchesInFlight(); got != 1 {
		t.Errorf("SearchesInFlight() = %d during search, want 1", got)
	}
	if got := InFlightCount(); got != 1 {
		t.Errorf("InFlightCount() = %d during search, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	drained := make(chan error, 1)
	var bodyAtDrain string
	go func() {
		err := WaitForInFlight(ctx, 5*time.Millisecond)
		bodyAtDrain = w.Body.String()
		drained <- err
	}()

	select {
	case err := <-drained:
		t.Fatalf("WaitForInFlight() returned %v while the search was still running", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(searcher.release)
	select {
	case err := <-drained:
		if err != nil {
			t.Fatalf("WaitForInFlight() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForInFlight() did not return after the search answered")
	}
	<-served

	if !strings.Contains(bodyAtDrain, `"airline":"IndiGo"`) {
		t.Errorf("body when drain finished = %q, want the search response", bodyAtDrain)
	}
	if w.Code != http.StatusOK {
		t.Errorf("search status = %d, want 200", w.Code)
	}
	if got := InFlightCount(); got != 0 {
		t.Errorf("InFlightCount() = %d after drain, want 0", got)
	}
	if got := SearchesInFlight(); got != 0 {
		t.Errorf("SearchesInFlight() = %d after drain, want 0", got)
	}
}

// TestInFlightTracker_GetIsNotASearch verifies only POST requests count as searches.
func TestInFlightTracker_GetIsNotASearch(t *testing.T) {
	tracker := &InFlightTracker{}

	done := tracker.Track(httptest.NewRequest(http.MethodGet, "/health", nil))
	if tracker.Count() != 1 || tracker.Searches() != 0 {
		t.Errorf("after GET: count %d, searches %d; want 1, 0", tracker.Count(), tracker.Searches())
	}
	doneSearch := tracker.Track(httptest.NewRequest(http.MethodPost, "/api/search", nil))
	if tracker.Count() != 2 || tracker.Searches() != 1 {
		t.Errorf("after POST: count %d, searches %d; want 2, 1", tracker.Count(), tracker.Searches())
	}
	doneSearch()
	done()
	if tracker.Count() != 0 || tracker.Searches() != 0 {
		t.Errorf("after both end: count %d, searches %d; want 0, 0", tracker.Count(), tracker.Searches())
	}
}

func TestInFlightTracker_WaitForZero_ContextCanceled(t *testing.T) {
	tracker := &InFlightTracker{}
	defer tracker.Track(httptest.NewRequest(http.MethodPost, "/api/search", nil))()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tracker.WaitForZero(ctx, 5*time.Millisecond); err == nil {
		t.Error("WaitForZero() error = nil with a search in flight and ctx canceled, want ctx error")
	}
}
