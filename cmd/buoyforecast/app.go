package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/wrightni/azure-buoy-tracking/internal/cache"
	"github.com/wrightni/azure-buoy-tracking/internal/circuitbreaker"
	"github.com/wrightni/azure-buoy-tracking/internal/config"
	"github.com/wrightni/azure-buoy-tracking/internal/fetch"
	"github.com/wrightni/azure-buoy-tracking/internal/forecast"
	"github.com/wrightni/azure-buoy-tracking/internal/geo"
	"github.com/wrightni/azure-buoy-tracking/internal/observability"
	"github.com/wrightni/azure-buoy-tracking/internal/service"
	"github.com/wrightni/azure-buoy-tracking/internal/traffic"
	"github.com/wrightni/azure-buoy-tracking/internal/vfcache"
)

// app holds the wired engine and the resources that outlive a single call.
type app struct {
	cfg      *config.Config
	engine   *service.Engine
	tracker  *traffic.Tracker
	velocity *vfcache.Cache
	memcache *cache.MemcachedCache
	clock    clockwork.Clock
	logger   *zap.Logger
}

// newBreaker returns nil when circuit breaking is disabled. State changes are
// mirrored to the circuitBreakerState gauge.
func newBreaker(cfg *config.Config, component string, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	if !cfg.CircuitBreakerEnabled {
		return nil
	}
	observability.CircuitBreakerState.WithLabelValues(component).Set(float64(circuitbreaker.StateClosed))
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold:    cfg.FailureThreshold,
		HalfOpenMaxRequests: cfg.HalfOpenMaxRequests,
		Timeout:             cfg.OpenTimeout,
		Component:           component,
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(component).Set(float64(to))
			logger.Warn("circuit breaker state change",
				zap.String("component", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	catalog, err := config.LoadCatalogs(cfg.BuoyCatalogPath, cfg.FormatCatalogPath)
	if err != nil {
		return nil, err
	}
	logger.Info("catalog loaded", zap.Int("buoys", len(catalog.Order)), zap.Int("formats", len(catalog.Formats)))

	clock := clockwork.NewRealClock()
	a := &app{cfg: cfg, tracker: traffic.NewTracker(clock), clock: clock, logger: logger}

	fetchOpts := []fetch.Option{}
	if cb := newBreaker(cfg, "vendor_api", logger); cb != nil {
		fetchOpts = append(fetchOpts, fetch.WithVendorBreaker(cb))
	}
	fetcher := fetch.New(fetch.Config{
		HTTPTimeout:    cfg.HTTPTimeout,
		FTPTimeout:     cfg.FTPTimeout,
		VendorTimeout:  cfg.VendorTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		RateLimitRPS:   cfg.FetchRateLimitRPS,
		RateLimitBurst: cfg.FetchRateLimitBurst,
	}, cfg.Credentials, logger, fetchOpts...)

	var tracks cache.Cache
	switch cfg.TrackCacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		a.memcache = mc
		tracks = mc
		logger.Info("track cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		tracks = cache.NewInMemoryCache(clock)
		logger.Info("track cache backend: in_memory")
	}

	opts := []service.Option{
		service.WithTrackCache(tracks),
		service.WithTracker(a.tracker),
		service.WithClock(clock),
		service.WithSimple(forecast.NewSimple(forecast.SimpleConfig{
			Step:         cfg.SimpleStep,
			SampleStride: cfg.SimpleSampleStride,
		}, logger)),
	}

	if len(cfg.AcquisitionCommand) > 0 {
		vfOpts := []vfcache.Option{vfcache.WithClock(clock)}
		if cb := newBreaker(cfg, "velocity_acquisition", logger); cb != nil {
			vfOpts = append(vfOpts, vfcache.WithBreaker(cb))
		}
		acquirer := vfcache.NewCommandAcquirer(cfg.AcquisitionCommand,
			cfg.Credentials.VelocityUsername, cfg.Credentials.VelocityPassword, logger)
		velocity, err := vfcache.Open(vfcache.Config{
			Dir:                cfg.VelocityCacheDir,
			NeedBuffer:         cfg.NeedBuffer,
			Padding:            cfg.AcquisitionPadding,
			AcquisitionTimeout: cfg.AcquisitionTimeout,
			DriftSpeedKmh:      cfg.DriftSpeedKmh,
			MinLatitude:        cfg.MinLatitude,
			MinHalfWidthDeg:    cfg.MinHalfWidthDeg,
		}, acquirer, logger, vfOpts...)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.velocity = velocity
		opts = append(opts, service.WithAdvanced(forecast.NewAdvanced(forecast.AdvancedConfig{
			Step:        cfg.RK4Step,
			BaseCells:   cfg.LocalGridBaseCells,
			CellsPerDay: cfg.LocalGridCellsPerDay,
			Projection:  geo.NSIDCNorth(),
		}, velocity, logger)))
	} else {
		logger.Warn("no velocity acquisition command configured; advanced forecasts disabled")
	}

	cacheType := "memory"
	if a.memcache != nil {
		cacheType = "memcached"
	}
	a.engine = service.New(service.Config{
		TrackCount:      cfg.DefaultTrackCount,
		PollConcurrency: cfg.WarmConcurrency,
		TrackCacheTTL:   cfg.TrackCacheTTL,
		CacheType:       cacheType,
	}, catalog, fetcher, logger, opts...)
	return a, nil
}

// warm primes the track cache once, then refreshes it every TrackCacheTTL
// until ctx is done.
func (a *app) warm(ctx context.Context) {
	warmer := cache.NewWarmer(a.engine, a.cfg.DefaultTrackCount, a.cfg.WarmConcurrency, a.clock, a.logger)
	ids := a.engine.SourceIDs()
	warmCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	if err := warmer.Warm(warmCtx, ids); err != nil {
		a.logger.Warn("track cache warming failed", zap.Error(err))
	}
	cancel()
	if a.cfg.TrackCacheTTL <= 0 {
		return
	}
	go func() {
		if err := warmer.WarmPeriodic(ctx, ids, a.cfg.TrackCacheTTL); err != nil && ctx.Err() == nil {
			a.logger.Error("periodic track cache warming stopped", zap.Error(err))
		}
	}()
}

func (a *app) Close() {
	if a.memcache != nil {
		if err := a.memcache.Close(); err != nil {
			a.logger.Error("memcached close", zap.Error(err))
		}
	}
}
