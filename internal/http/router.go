package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wrightni/azure-buoy-tracking/internal/observability"
	"github.com/wrightni/azure-buoy-tracking/internal/traffic"
)

// RouterConfig wires middleware around the handlers.
type RouterConfig struct {
	RequestTimeout  time.Duration
	ForecastTimeout time.Duration
	// Limiter applies to /buoys routes. Nil disables rate limiting.
	Limiter  *rate.Limiter
	Tracker  *traffic.Tracker
	InFlight *InFlightTracker
}

// NewRouter builds the operational surface: /health, /metrics and the
// read-only /buoys endpoints.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	if cfg.InFlight != nil {
		router.Use(InFlightMiddleware(cfg.InFlight))
	}
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	buoys := router.PathPrefix("/buoys").Subrouter()
	buoys.Use(RateLimitMiddleware(cfg.Limiter, cfg.Tracker))
	buoys.HandleFunc("", h.ListBuoys).Methods("GET")

	tracks := buoys.NewRoute().Subrouter()
	tracks.Use(TimeoutMiddleware(cfg.RequestTimeout))
	tracks.HandleFunc("/{id}/track", h.GetTrack).Methods("GET")

	forecasts := buoys.NewRoute().Subrouter()
	forecasts.Use(TimeoutMiddleware(cfg.ForecastTimeout))
	forecasts.HandleFunc("/{id}/forecast", h.GetForecast).Methods("GET")
	return router
}
