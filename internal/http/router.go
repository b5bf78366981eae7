package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/flycompare/internal/observability"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// NewRouter mounts every route on a mux router wrapped for CORS.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	timeout := TimeoutMiddleware(cfg.RequestTimeout)
	router.Handle("/", timeout(http.HandlerFunc(h.Search))).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(timeout)
	api.HandleFunc("/search", h.Search).Methods(http.MethodPost)
	api.HandleFunc("/airports/{city}", h.GetAirport).Methods(http.MethodGet)

	return CORS(router, cfg.AllowedOrigins)
}
