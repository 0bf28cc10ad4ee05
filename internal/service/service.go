// Package service is the engine facade: it resolves buoy ids against the
// catalog, fetches and parses telemetry behind the track cache, and
// dispatches forecasts to the simple or advanced forecaster.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wrightni/azure-buoy-tracking/internal/cache"
	"github.com/wrightni/azure-buoy-tracking/internal/config"
	"github.com/wrightni/azure-buoy-tracking/internal/forecast"
	"github.com/wrightni/azure-buoy-tracking/internal/models"
	"github.com/wrightni/azure-buoy-tracking/internal/observability"
	"github.com/wrightni/azure-buoy-tracking/internal/trackparse"
	"github.com/wrightni/azure-buoy-tracking/internal/traffic"
)

// ErrAdvancedUnavailable is returned when an advanced forecast is requested
// but no velocity field source is configured.
var ErrAdvancedUnavailable = errors.New("advanced forecasting not configured")

// Fetcher retrieves raw telemetry for a catalog entry.
type Fetcher interface {
	Fetch(ctx context.Context, desc models.SourceDescriptor, format models.ParserFormat, count int) (models.RawPayload, error)
}

// AdvancedForecaster advects a position through a velocity field.
type AdvancedForecaster interface {
	Forecast(ctx context.Context, pos models.DriftPoint, target time.Time, full bool) (models.ForecastTrack, error)
}

// Config holds engine tuning.
type Config struct {
	// TrackCount is the number of trailing records fetched for track and
	// forecast requests that do not name one.
	TrackCount int
	// ForecastPoints is how many of the latest observations feed the simple forecaster.
	ForecastPoints int
	// PollCount is the record count requested per buoy when polling.
	PollCount       int
	PollConcurrency int
	// TrackCacheTTL overrides the per-buoy update interval as cache lifetime.
	TrackCacheTTL   time.Duration
	CoalesceTimeout time.Duration
	// CacheType labels track cache hit metrics (memory, memcached).
	CacheType string
}

// ForecastRequest asks for a forecast Lead ahead of now.
type ForecastRequest struct {
	SourceID string
	Method   models.ForecastMethod
	Lead     time.Duration
	Full     bool
}

// PollResult is the latest report of one catalog buoy.
type PollResult struct {
	SourceID string
	Found    bool
	Last     models.DriftPoint
	Age      time.Duration
	Err      error
}

// Engine ties together the catalog, fetcher, parser, track cache and forecasters.
type Engine struct {
	cfg       Config
	catalog   *config.Catalog
	fetcher   Fetcher
	tracks    cache.Cache
	simple    *forecast.Simple
	advanced  AdvancedForecaster
	outcomes  *traffic.Tracker
	clock     clockwork.Clock
	logger    *zap.Logger
	coalescer *requestCoalescer
}

// Option customizes an Engine.
type Option func(*Engine)

// WithTrackCache caches parsed tracks.
func WithTrackCache(c cache.Cache) Option {
	return func(e *Engine) { e.tracks = c }
}

// WithSimple replaces the default simple forecaster.
func WithSimple(s *forecast.Simple) Option {
	return func(e *Engine) { e.simple = s }
}

// WithAdvanced enables the advanced forecast method.
func WithAdvanced(a AdvancedForecaster) Option {
	return func(e *Engine) { e.advanced = a }
}

// WithTracker records forecast outcomes for health reporting.
func WithTracker(t *traffic.Tracker) Option {
	return func(e *Engine) { e.outcomes = t }
}

// WithClock replaces the clock used for forecast targets and report ages.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New creates an Engine over catalog and fetcher.
func New(cfg Config, catalog *config.Catalog, fetcher Fetcher, logger *zap.Logger, opts ...Option) *Engine {
	if cfg.TrackCount <= 0 {
		cfg.TrackCount = 24
	}
	if cfg.ForecastPoints <= 0 {
		cfg.ForecastPoints = 8
	}
	if cfg.PollCount <= 0 {
		cfg.PollCount = 3
	}
	if cfg.PollConcurrency <= 0 {
		cfg.PollConcurrency = 4
	}
	if cfg.CoalesceTimeout <= 0 {
		cfg.CoalesceTimeout = time.Minute
	}
	if cfg.CacheType == "" {
		cfg.CacheType = "memory"
	}
	logger = observability.OrNop(logger)
	e := &Engine{
		cfg:       cfg,
		catalog:   catalog,
		fetcher:   fetcher,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
		coalescer: newRequestCoalescer(cfg.CoalesceTimeout),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.simple == nil {
		e.simple = forecast.NewSimple(forecast.SimpleConfig{}, logger)
	}
	if e.outcomes == nil {
		e.outcomes = traffic.NewTracker(e.clock)
	}
	return e
}

// Known reports whether id is in the buoy catalog.
func (e *Engine) Known(id string) bool {
	_, _, ok := e.catalog.Lookup(normalizeID(id))
	return ok
}

// SourceIDs lists catalog ids in catalog order.
func (e *Engine) SourceIDs() []string {
	if e.catalog == nil {
		return nil
	}
	return append([]string(nil), e.catalog.Order...)
}

// Track returns the latest count observations for id, oldest first. count <= 0
// returns the whole record. An id missing from the catalog yields an empty
// track, not an error.
func (e *Engine) Track(ctx context.Context, id string, count int) (models.DriftTrack, error) {
	id = normalizeID(id)
	logger := observability.LoggerFrom(ctx, e.logger).With(zap.String("source_id", id))

	desc, format, ok := e.catalog.Lookup(id)
	if !ok {
		logger.Debug("unknown source, returning empty track")
		return models.DriftTrack{}, nil
	}

	key := cache.Key(id, count)
	if e.tracks != nil {
		cached, hit, err := e.tracks.Get(ctx, key)
		if err != nil {
			logger.Warn("track cache get failed", zap.Error(err))
		} else if hit {
			observability.TrackCacheHitsTotal.WithLabelValues(e.cfg.CacheType).Inc()
			logger.Debug("track cache hit", zap.String("key", key))
			return cached, nil
		}
	}

	track, shared, err := e.coalescer.GetOrDo(ctx, key, func(ctx context.Context) (models.DriftTrack, error) {
		return e.load(ctx, desc, format, count, logger)
	})
	if err != nil {
		return nil, fmt.Errorf("track %s: %w", id, err)
	}
	if shared {
		return track, nil
	}

	if e.tracks != nil {
		if err := e.tracks.Set(ctx, key, track, e.trackTTL(desc)); err != nil {
			logger.Warn("track cache set failed", zap.Error(err))
		}
	}
	return track, nil
}

// History returns every observation the source holds for id.
func (e *Engine) History(ctx context.Context, id string) (models.DriftTrack, error) {
	return e.Track(ctx, id, 0)
}

func (e *Engine) load(ctx context.Context, desc models.SourceDescriptor, format models.ParserFormat, count int, logger *zap.Logger) (models.DriftTrack, error) {
	payload, err := e.fetcher.Fetch(ctx, desc, format, count)
	if errors.Is(err, models.ErrUnknownSource) {
		logger.Debug("source not resolvable, returning empty track", zap.Error(err))
		return models.DriftTrack{}, nil
	}
	if err != nil {
		return nil, err
	}

	track, stats := trackparse.ParseWithStats(payload, format)
	if skipped := stats.Lines - stats.Accepted; skipped > 0 {
		logger.Debug("telemetry lines skipped",
			zap.Int("lines", stats.Lines),
			zap.Int("accepted", stats.Accepted),
			zap.Any("reasons", stats.Skipped),
		)
	}
	return track, nil
}

func (e *Engine) trackTTL(desc models.SourceDescriptor) time.Duration {
	if e.cfg.TrackCacheTTL > 0 {
		return e.cfg.TrackCacheTTL
	}
	if desc.UpdateInterval > 0 {
		return desc.UpdateInterval
	}
	return time.Hour
}

// Forecast predicts the position of a buoy req.Lead from now. An advanced
// forecast that degraded to the last known position returns the degraded
// track together with an error of kind models.ErrDomain.
func (e *Engine) Forecast(ctx context.Context, req ForecastRequest) (models.ForecastTrack, error) {
	method := req.Method
	if method == "" {
		method = models.MethodSimple
	}
	logger := observability.LoggerFrom(ctx, e.logger).With(
		zap.String("source_id", normalizeID(req.SourceID)),
		zap.String("method", string(method)),
	)
	target := e.clock.Now().UTC().Add(req.Lead)

	var (
		result models.ForecastTrack
		err    error
	)
	switch method {
	case models.MethodSimple:
		result, err = e.forecastSimple(ctx, req, target)
	case models.MethodAdvanced:
		result, err = e.forecastAdvanced(ctx, req, target)
	default:
		err = fmt.Errorf("unknown forecast method %q", method)
	}
	if result.Method == "" {
		result.Method = method
	}

	outcome := traffic.OutcomeOK
	switch {
	case err == nil:
	case result.Degraded:
		outcome = traffic.OutcomeDegraded
		logger.Warn("forecast degraded", zap.Error(err))
	default:
		outcome = traffic.OutcomeError
		logger.Error("forecast failed", zap.Error(err))
	}
	observability.ForecastTotal.WithLabelValues(string(method), string(outcome)).Inc()
	e.outcomes.Record(outcome)
	return result, err
}

func (e *Engine) forecastSimple(ctx context.Context, req ForecastRequest, target time.Time) (models.ForecastTrack, error) {
	track, err := e.Track(ctx, req.SourceID, e.cfg.TrackCount)
	if err != nil {
		return models.ForecastTrack{Method: models.MethodSimple}, err
	}
	if len(track) > e.cfg.ForecastPoints {
		track = track[len(track)-e.cfg.ForecastPoints:]
	}
	return e.simple.Forecast(track, target, req.Full)
}

func (e *Engine) forecastAdvanced(ctx context.Context, req ForecastRequest, target time.Time) (models.ForecastTrack, error) {
	empty := models.ForecastTrack{Method: models.MethodAdvanced}
	if e.advanced == nil {
		return empty, ErrAdvancedUnavailable
	}
	track, err := e.Track(ctx, req.SourceID, e.cfg.TrackCount)
	if err != nil {
		return empty, err
	}
	last, ok := track.Last()
	if !ok {
		return empty, models.NewStageError(models.StageIntegrate, models.ErrForecastInput, "advanced", errors.New("no observations"))
	}
	return e.advanced.Forecast(ctx, last, target, req.Full)
}

// Poll fetches the latest report of every catalog buoy and its age. Per-buoy
// failures are reported in the results; the error is set only when ctx ends.
func (e *Engine) Poll(ctx context.Context) ([]PollResult, error) {
	ids := e.SourceIDs()
	results := make([]PollResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.PollConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			res := PollResult{SourceID: id}
			track, err := e.Track(gctx, id, e.cfg.PollCount)
			if err != nil {
				res.Err = err
			} else if last, ok := track.Last(); ok {
				res.Found = true
				res.Last = last
				res.Age = e.clock.Since(last.Time)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("poll: %w", err)
	}
	return results, nil
}

// normalizeID trims surrounding whitespace from a source id.
func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
