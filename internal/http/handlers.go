package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/wrightni/azure-buoy-tracking/internal/circuitbreaker"
	"github.com/wrightni/azure-buoy-tracking/internal/models"
	"github.com/wrightni/azure-buoy-tracking/internal/observability"
	"github.com/wrightni/azure-buoy-tracking/internal/service"
	"github.com/wrightni/azure-buoy-tracking/internal/traffic"
	"github.com/wrightni/azure-buoy-tracking/internal/validation"
	"github.com/wrightni/azure-buoy-tracking/internal/vfcache"
)

// Engine is the subset of service.Engine the handlers use.
type Engine interface {
	Known(id string) bool
	SourceIDs() []string
	Track(ctx context.Context, id string, count int) (models.DriftTrack, error)
	Forecast(ctx context.Context, req service.ForecastRequest) (models.ForecastTrack, error)
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	// Window is the sliding window over which forecast outcomes are evaluated.
	Window           time.Duration
	DegradedErrorPct int
	Version          string
	// CachePing, when set, checks track cache reachability. Used when backend is memcached.
	CachePing func() error
	// VelocityStats, when set, reports the velocity field artifact last used.
	VelocityStats func() vfcache.Stats
}

// Limits bounds request parameters.
type Limits struct {
	DefaultCount int
	MaxCount     int
	DefaultLead  time.Duration
	MaxLead      time.Duration
	MaxIDLength  int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine  Engine
	health  *HealthConfig
	limits  Limits
	tracker *traffic.Tracker
	clock   clockwork.Clock
	logger  *zap.Logger

	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. tracker must be the one the engine records
// forecast outcomes to.
func NewHandler(engine Engine, health *HealthConfig, limits Limits, tracker *traffic.Tracker, clock clockwork.Clock, logger *zap.Logger) *Handler {
	if limits.DefaultCount <= 0 {
		limits.DefaultCount = 24
	}
	if limits.MaxCount <= 0 {
		limits.MaxCount = 5000
	}
	if limits.DefaultLead <= 0 {
		limits.DefaultLead = 24 * time.Hour
	}
	if limits.MaxLead <= 0 {
		limits.MaxLead = 10 * 24 * time.Hour
	}
	if limits.MaxIDLength <= 0 {
		limits.MaxIDLength = 64
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if tracker == nil {
		tracker = traffic.NewTracker(clock)
	}
	return &Handler{
		engine:  engine,
		health:  health,
		limits:  limits,
		tracker: tracker,
		clock:   clock,
		logger:  observability.OrNop(logger),
	}
}

// SetShuttingDown flips health to shutting-down so load balancers drain traffic.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

type trackResponse struct {
	ID     string            `json:"id"`
	Count  int               `json:"count"`
	Points models.DriftTrack `json:"points"`
}

type forecastResponse struct {
	ID       string                 `json:"id"`
	Method   models.ForecastMethod  `json:"method"`
	Lead     string                 `json:"lead"`
	Degraded bool                   `json:"degraded"`
	Warning  string                 `json:"warning,omitempty"`
	Points   []models.ForecastPoint `json:"points"`
}

// ListBuoys handles GET /buoys.
func (h *Handler) ListBuoys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"buoys": h.engine.SourceIDs()})
}

// GetTrack handles GET /buoys/{id}/track?n=.
func (h *Handler) GetTrack(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sourceID(w, r)
	if !ok {
		return
	}
	count, err := validation.ParseCount(r.URL.Query().Get("n"), h.limits.DefaultCount, h.limits.MaxCount)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COUNT", err.Error())
		return
	}

	track, err := h.engine.Track(r.Context(), id, count)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if track == nil {
		track = models.DriftTrack{}
	}
	writeJSON(w, http.StatusOK, trackResponse{ID: id, Count: len(track), Points: track})
}

// GetForecast handles GET /buoys/{id}/forecast?method=&lead=&full=.
// A degraded advanced forecast is still a 200 carrying the last known
// position, with degraded set and the domain error as warning.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sourceID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	method, err := validation.ParseMethod(q.Get("method"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_METHOD", err.Error())
		return
	}
	lead, err := validation.ParseLead(q.Get("lead"), h.limits.DefaultLead, h.limits.MaxLead)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LEAD", err.Error())
		return
	}
	full, err := validation.ParseBool(q.Get("full"), false)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_FULL", err.Error())
		return
	}

	result, err := h.engine.Forecast(r.Context(), service.ForecastRequest{
		SourceID: id,
		Method:   method,
		Lead:     lead,
		Full:     full,
	})
	resp := forecastResponse{
		ID:       id,
		Method:   method,
		Lead:     lead.String(),
		Degraded: result.Degraded,
		Points:   result.Points,
	}
	if err != nil {
		if !result.Degraded {
			writeServiceError(w, r, err)
			return
		}
		resp.Warning = err.Error()
	}
	if resp.Points == nil {
		resp.Points = []models.ForecastPoint{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) sourceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := validation.ValidateSourceID(mux.Vars(r)["id"], h.limits.MaxIDLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_SOURCE_ID", err.Error())
		return "", false
	}
	if !h.engine.Known(id) {
		writeError(w, r, http.StatusNotFound, "UNKNOWN_SOURCE", "no buoy with id "+id)
		return "", false
	}
	return id, true
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

	checks := map[string]string{"forecasts": "healthy"}
	if result.reason == "error_rate_breach" {
		checks["forecasts"] = "unhealthy"
	}
	if h.health != nil && h.health.CachePing != nil {
		if h.health.CachePing() == nil {
			checks["trackCache"] = "healthy"
		} else {
			checks["trackCache"] = "unhealthy"
		}
	}

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "buoy-forecast",
		"version":   h.version(),
		"checks":    checks,
		"outcomes":  h.outcomeCounts(),
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
	}
	if h.health != nil && h.health.VelocityStats != nil {
		if stats := h.health.VelocityStats(); !stats.At.IsZero() {
			resp["velocityField"] = map[string]interface{}{
				"start": stats.Start.UTC().Format(time.RFC3339),
				"end":   stats.End.UTC().Format(time.RFC3339),
				"fresh": stats.Fresh,
				"files": stats.Entries,
			}
		}
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates, in order: shutting down, degraded forecast
// error rate, healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.health == nil || h.health.Window <= 0 || h.health.DegradedErrorPct <= 0 {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	errs, total := h.tracker.ErrorRate(h.health.Window)
	if total > 0 {
		pct := float64(errs) * 100 / float64(total)
		if pct >= float64(h.health.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func (h *Handler) outcomeCounts() map[string]int {
	window := 5 * time.Minute
	if h.health != nil && h.health.Window > 0 {
		window = h.health.Window
	}
	counts := make(map[string]int, 4)
	for _, o := range []traffic.Outcome{traffic.OutcomeOK, traffic.OutcomeDegraded, traffic.OutcomeError, traffic.OutcomeDenied} {
		counts[string(o)] = h.tracker.Count(o, window)
	}
	return counts
}

func (h *Handler) version() string {
	if h.health == nil || h.health.Version == "" {
		return "dev"
	}
	return h.health.Version
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message and requestId (correlation ID) when available.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorWithStage(w, r, status, code, message, "")
}

func writeErrorWithStage(w http.ResponseWriter, r *http.Request, status int, code, message string, stage models.Stage) {
	body := map[string]string{
		"code":      code,
		"message":   message,
		"requestId": observability.CorrelationID(r.Context()),
	}
	if stage != "" {
		body["stage"] = string(stage)
	}
	writeJSON(w, status, map[string]interface{}{"error": body})
}

// writeServiceError maps engine errors to status codes. The failing pipeline
// stage is included when known.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	stage, _ := models.StageOf(err)
	writeErrorWithStage(w, r, status, code, message, stage)
	observability.LoggerFrom(r.Context(), nil).Debug("request failed", zap.Error(err), zap.String("code", code))
}

func classify(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "request timed out"
	case errors.Is(err, circuitbreaker.ErrOpen):
		return http.StatusServiceUnavailable, "CIRCUIT_OPEN", err.Error()
	case errors.Is(err, models.ErrForecastInput):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_DATA", err.Error()
	case errors.Is(err, models.ErrDomain):
		return http.StatusUnprocessableEntity, "OUTSIDE_DOMAIN", err.Error()
	case errors.Is(err, models.ErrCacheAcquisition):
		return http.StatusServiceUnavailable, "VELOCITY_FIELD_UNAVAILABLE", "Unable to acquire velocity field"
	case errors.Is(err, service.ErrAdvancedUnavailable):
		return http.StatusNotImplemented, "METHOD_UNAVAILABLE", err.Error()
	case errors.Is(err, models.ErrTransport):
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "Unable to fetch buoy telemetry"
	default:
		return http.StatusInternalServerError, "INTERNAL", "internal error"
	}
}
