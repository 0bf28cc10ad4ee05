package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wrightni/azure-buoy-tracking/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate on the operational surface.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency. Forecast requests can block on velocity-field acquisition.
	HTTPRequestDuration *prometheus.HistogramVec

	HTTPRequestsInFlight prometheus.Gauge

	// Telemetry fetches by protocol and status (success, error, empty). Watch for: error ratio per protocol.
	FetchTotal *prometheus.CounterVec

	FetchDuration *prometheus.HistogramVec

	// Fetch retries. Zero unless retry_attempts > 1.
	FetchRetriesTotal *prometheus.CounterVec

	// Lines dropped by the parser (short rows, bad timestamps, duplicates).
	ParseSkippedLinesTotal *prometheus.CounterVec

	ParsedPointsTotal prometheus.Counter

	// Forecasts by method and outcome (ok, degraded, error). Watch for: degraded share of advanced forecasts.
	ForecastTotal *prometheus.CounterVec

	// Velocity cache lookups (hit, miss, shared). shared = waited on another caller's acquisition.
	VelocityCacheLookupsTotal *prometheus.CounterVec

	VelocityCacheEvictionsTotal prometheus.Counter

	// Acquisition job latency. Watch for: jobs nearing the acquisition timeout.
	VelocityAcquisitionDuration *prometheus.HistogramVec

	VelocityAcquisitionsInFlight prometheus.Gauge

	// Parsed-track cache hits by backend (memory, memcached).
	TrackCacheHitsTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	RateLimitDeniedTotal prometheus.Counter

	outcomeGaugesOnce sync.Once
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
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 30, 120, 600},
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchTotal",
			Help: "Total number of telemetry fetches by protocol and status",
		},
		[]string{"protocol", "status"},
	)
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetchDurationSeconds",
			Help:    "Telemetry fetch latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"protocol"},
	)
	FetchRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchRetriesTotal",
			Help: "Total number of telemetry fetch retries",
		},
		[]string{"protocol"},
	)
	ParseSkippedLinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parseSkippedLinesTotal",
			Help: "Lines discarded while parsing telemetry, by reason",
		},
		[]string{"reason"},
	)
	ParsedPointsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parsedPointsTotal",
			Help: "Drift points accepted by the parser",
		},
	)
	ForecastTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastTotal",
			Help: "Forecasts by method and outcome",
		},
		[]string{"method", "outcome"},
	)
	VelocityCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velocityCacheLookupsTotal",
			Help: "Velocity field cache lookups by result",
		},
		[]string{"result"},
	)
	VelocityCacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "velocityCacheEvictionsTotal",
			Help: "Velocity field artifacts evicted",
		},
	)
	VelocityAcquisitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "velocityAcquisitionDurationSeconds",
			Help:    "Velocity field acquisition job duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
		[]string{"status"},
	)
	VelocityAcquisitionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "velocityAcquisitionsInFlight",
			Help: "Velocity field acquisition jobs currently running",
		},
	)
	TrackCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackCacheHitsTotal",
			Help: "Parsed drift track cache hits by backend",
		},
		[]string{"cacheType"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		FetchTotal, FetchDuration, FetchRetriesTotal,
		ParseSkippedLinesTotal, ParsedPointsTotal,
		ForecastTotal,
		VelocityCacheLookupsTotal, VelocityCacheEvictionsTotal,
		VelocityAcquisitionDuration, VelocityAcquisitionsInFlight,
		TrackCacheHitsTotal, CircuitBreakerState,
		RateLimitDeniedTotal,
	)
}

// RegisterOutcomeGauges registers sliding-window forecast outcome gauges fed
// by the traffic tracker. Call from main after config load.
func RegisterOutcomeGauges(tracker *traffic.Tracker, window time.Duration) {
	outcomeGaugesOnce.Do(func() {
		for _, o := range []traffic.Outcome{traffic.OutcomeOK, traffic.OutcomeDegraded, traffic.OutcomeError} {
			o := o
			registry.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name:        "forecastOutcomesInWindow",
					Help:        "Forecast outcomes in the sliding health window",
					ConstLabels: prometheus.Labels{"outcome": string(o)},
				},
				func() float64 { return float64(tracker.Count(o, window)) },
			))
		}
	})
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
