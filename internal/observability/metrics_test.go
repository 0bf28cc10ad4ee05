package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wrightni/azure-buoy-tracking/internal/traffic"
)

// TestMetrics_Usable verifies that label dimensions match usage across the
// fetch, trackparse, forecast, vfcache and http packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/buoys/{id}/forecast", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/buoys/{id}/forecast").Observe(0.01)
	FetchTotal.WithLabelValues("ftp", "success").Inc()
	FetchDuration.WithLabelValues("ranged_http").Observe(0.2)
	FetchRetriesTotal.WithLabelValues("vendor_api").Inc()
	ParseSkippedLinesTotal.WithLabelValues("short_row").Inc()
	ParsedPointsTotal.Add(3)
	ForecastTotal.WithLabelValues("advanced", "degraded").Inc()
	VelocityCacheLookupsTotal.WithLabelValues("hit").Inc()
	VelocityCacheEvictionsTotal.Inc()
	VelocityAcquisitionDuration.WithLabelValues("success").Observe(42)
	VelocityAcquisitionsInFlight.Inc()
	VelocityAcquisitionsInFlight.Dec()
	TrackCacheHitsTotal.WithLabelValues("memory").Inc()
	CircuitBreakerState.WithLabelValues("vendor_api").Set(0)
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format including the outcome gauges.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	tracker := traffic.NewTracker(nil)
	tracker.Record(traffic.OutcomeDegraded)
	RegisterOutcomeGauges(tracker, time.Minute)

	FetchTotal.WithLabelValues("ftp", "success").Inc()

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "fetchTotal") {
		t.Error("MetricsHandler response should contain fetchTotal")
	}
	if !strings.Contains(body, `forecastOutcomesInWindow{outcome="degraded"} 1`) {
		t.Error("MetricsHandler response should contain the degraded outcome gauge")
	}
}
