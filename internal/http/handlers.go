package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/flycompare/internal/client"
	"github.com/kjstillabower/flycompare/internal/lifecycle"
	"github.com/kjstillabower/flycompare/internal/models"
	"github.com/kjstillabower/flycompare/internal/observability"
	"github.com/kjstillabower/flycompare/internal/service"
	"github.com/kjstillabower/flycompare/internal/traffic"
	"github.com/kjstillabower/flycompare/internal/validation"
)

// maxBodyBytes caps the search request body.
const maxBodyBytes = 1 << 20

const (
	msgFieldsRequired = "Origin, destination, and date are required"
	msgSearchFailed   = "Flight search failed"
)

// Searcher runs a validated flight search.
type Searcher interface {
	Search(ctx context.Context, q models.SearchQuery) (service.SearchResult, error)
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	StartTime        time.Time
	Version          string
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached or redis.
	CachePing func(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	searcher         Searcher
	airports         client.AirportLookup
	maxFieldLength   int
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. airports may be nil when no lookup key is configured.
func NewHandler(
	searcher Searcher,
	airports client.AirportLookup,
	maxFieldLength int,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		searcher:       searcher,
		airports:       airports,
		maxFieldLength: maxFieldLength,
		healthConfig:   healthConfig,
		logger:         logger,
	}
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Search handles POST / and POST /api/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var q models.SearchQuery
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, msgFieldsRequired, "")
		return
	}

	q, err := validation.ValidateQuery(q, h.maxFieldLength)
	if err != nil {
		observability.SearchesTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, validationMessage(err, h.maxFieldLength), "")
		return
	}

	result, err := h.searcher.Search(r.Context(), q)
	if err != nil {
		traffic.RecordError()
		loggerFrom(r, h.logger).Error("search failed", zap.String("key", q.CacheKey()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgSearchFailed, err.Error())
		return
	}
	traffic.RecordSuccess()

	if result.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if len(result.FailedSources) > 0 {
		w.Header().Set("X-Sources-Failed", strings.Join(result.FailedSources, ","))
	}
	flights := result.Flights
	if flights == nil {
		flights = []models.FlightRecord{}
	}
	writeJSON(w, http.StatusOK, flights)
}

// validationMessage keeps the fixed message for missing fields and names the field for length errors.
func validationMessage(err error, maxLen int) string {
	if errors.Is(err, validation.ErrFieldRequired) {
		return msgFieldsRequired
	}
	var fe *validation.FieldError
	if errors.As(err, &fe) && errors.Is(fe.Err, validation.ErrFieldTooLong) {
		if maxLen <= 0 {
			maxLen = validation.DefaultMaxFieldLength
		}
		return fmt.Sprintf("%s must be at most %d characters", fe.Field, maxLen)
	}
	return err.Error()
}

// airportResponse is the body of a successful airport lookup.
type airportResponse struct {
	City     string `json:"city"`
	IATACode string `json:"iata_code"`
}

// GetAirport handles GET /api/airports/{city}.
func (h *Handler) GetAirport(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], h.maxFieldLength)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if h.airports == nil {
		observability.AirportLookupsTotal.WithLabelValues("disabled").Inc()
		writeError(w, http.StatusServiceUnavailable, "Airport lookup is not configured", "")
		return
	}

	code, err := h.airports.LookupIATA(r.Context(), city)
	switch {
	case err == nil:
		observability.AirportLookupsTotal.WithLabelValues("success").Inc()
		writeJSON(w, http.StatusOK, airportResponse{City: city, IATACode: code})
	case errors.Is(err, client.ErrAirportLookupDisabled):
		observability.AirportLookupsTotal.WithLabelValues("disabled").Inc()
		writeError(w, http.StatusServiceUnavailable, "Airport lookup is not configured", "")
	case errors.Is(err, client.ErrNoAirports), errors.Is(err, client.ErrNoIATACode):
		observability.AirportLookupsTotal.WithLabelValues("not_found").Inc()
		writeError(w, http.StatusNotFound, "No airport code found", err.Error())
	default:
		observability.AirportLookupsTotal.WithLabelValues("error").Inc()
		loggerFrom(r, h.logger).Warn("airport lookup failed", zap.String("city", city), zap.Error(err))
		writeError(w, http.StatusBadGateway, "Airport lookup failed", err.Error())
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"sources": "healthy"}
	if result.status == "degraded" {
		checks["sources"] = "unhealthy"
	}
	version := "dev"
	var uptime time.Duration
	if h.healthConfig != nil {
		if h.healthConfig.CachePing != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			if h.healthConfig.CachePing(ctx) == nil {
				checks["cache"] = "healthy"
			} else {
				checks["cache"] = "unhealthy"
			}
			cancel()
		}
		if h.healthConfig.Version != "" {
			version = h.healthConfig.Version
		}
		if !h.healthConfig.StartTime.IsZero() {
			uptime = time.Since(h.healthConfig.StartTime).Truncate(time.Second)
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "flycompare",
		"version":   version,
		"uptime":    uptime.String(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order: shutting-down > degraded > healthy.
// Degraded means the search error rate within the window reached the configured percentage.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(h.healthConfig.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// loggerFrom returns the request-scoped logger set by CorrelationIDMiddleware, or fallback.
func loggerFrom(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if l := observability.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return fallback
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": message} plus details when non-empty.
func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{Error: message, Details: details})
}
