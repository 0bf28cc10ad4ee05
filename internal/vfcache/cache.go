// Package vfcache keeps downloaded velocity fields on disk and serves the one
// covering a forecast, acquiring a new field when none does.
//
// The in-memory registry is the source of truth. It is reconciled with the
// cache directory once at Open and then updated on every acquisition and
// eviction. Acquisitions whose windows overlap never run concurrently; later
// callers wait for the one in flight and reuse its result.
package vfcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/wrightni/azure-buoy-tracking/internal/circuitbreaker"
	"github.com/wrightni/azure-buoy-tracking/internal/models"
	"github.com/wrightni/azure-buoy-tracking/internal/observability"
)

// Config holds cache parameters.
type Config struct {
	Dir string
	// NeedBuffer extends the needed window past the forecast target.
	NeedBuffer time.Duration
	// Padding is added before and after the needed window on acquisition.
	Padding            time.Duration
	AcquisitionTimeout time.Duration

	// Region of interest sizing.
	DriftSpeedKmh   float64
	MinLatitude     float64
	MinHalfWidthDeg float64
}

// Stats describes the most recent Acquire.
type Stats struct {
	Start, End time.Time // covered window of the artifact used
	Fresh      bool      // acquired by that call
	Entries    int
	At         time.Time
}

type entry struct {
	start, end time.Time
	path       string

	mu     sync.Mutex
	window *models.VelocityFieldWindow
}

func (e *entry) covers(start, end time.Time) bool {
	return !e.start.After(start) && !e.end.Before(end)
}

// load reads the artifact on first use.
func (e *entry) load() (*models.VelocityFieldWindow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.window != nil {
		return e.window, nil
	}
	w, err := ReadArtifact(e.path)
	if err != nil {
		return nil, err
	}
	e.window = w
	return w, nil
}

type flight struct {
	start, end time.Time
	done       chan struct{}
	window     *models.VelocityFieldWindow
	err        error
}

func (f *flight) overlaps(start, end time.Time) bool {
	return !f.start.After(end) && !start.After(f.end)
}

// Cache is the velocity field cache. It is safe for concurrent use.
type Cache struct {
	cfg      Config
	acquirer Acquirer
	breaker  *circuitbreaker.CircuitBreaker
	clock    clockwork.Clock
	logger   *zap.Logger

	mu       sync.Mutex
	entries  map[string]*entry // keyed by artifact file name
	inflight []*flight
	stats    Stats
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the clock used for stats and timing.
func WithClock(c clockwork.Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// WithBreaker guards acquisitions with a circuit breaker.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(cache *Cache) { cache.breaker = cb }
}

// Open creates the cache directory if needed and registers the artifacts it
// already holds. Leftover temporary files are removed.
func Open(cfg Config, acquirer Acquirer, logger *zap.Logger, opts ...Option) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, errors.New("velocity cache dir is required")
	}
	if cfg.AcquisitionTimeout <= 0 {
		cfg.AcquisitionTimeout = 15 * time.Minute
	}
	if cfg.DriftSpeedKmh <= 0 {
		cfg.DriftSpeedKmh = 4
	}
	if cfg.MinHalfWidthDeg <= 0 {
		cfg.MinHalfWidthDeg = 0.5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		cfg:      cfg,
		acquirer: acquirer,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create velocity cache dir: %w", err)
	}
	dirEntries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("scan velocity cache dir: %w", err)
	}
	for _, de := range dirEntries {
		name := de.Name()
		path := filepath.Join(cfg.Dir, name)
		if de.IsDir() {
			continue
		}
		if strings.HasSuffix(name, tempSuffix) {
			if err := os.Remove(path); err != nil {
				logger.Warn("failed to remove partial artifact", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		start, end, ok := parseArtifactName(name)
		if !ok {
			continue
		}
		c.entries[name] = &entry{start: start, end: end, path: path}
	}
	logger.Info("velocity cache opened", zap.String("dir", cfg.Dir), zap.Int("artifacts", len(c.entries)))
	return c, nil
}

// NeedWindow returns the interval a forecast from pos to target requires.
func (c *Cache) NeedWindow(pos models.DriftPoint, target time.Time) (time.Time, time.Time) {
	return pos.Time, target.Add(c.cfg.NeedBuffer)
}

// Acquire returns a velocity field covering the forecast from pos to target.
// fresh reports whether the field was acquired during this call (including
// waiting on another caller's acquisition). With force set every cached
// artifact is discarded first. Artifacts that do not cover the request are
// always discarded.
func (c *Cache) Acquire(ctx context.Context, pos models.DriftPoint, target time.Time, force bool) (*models.VelocityFieldWindow, bool, error) {
	needStart, needEnd := c.NeedWindow(pos, target)
	logger := c.logger.With(zap.Time("need_start", needStart), zap.Time("need_end", needEnd))

	for {
		c.mu.Lock()
		c.evictLocked(needStart, needEnd, force, logger)
		force = false

		if e := c.coveringLocked(needStart, needEnd); e != nil {
			c.mu.Unlock()
			w, err := e.load()
			if err == nil && !w.Covers(needStart, needEnd) {
				err = fmt.Errorf("field covers %s to %s, name claims %s to %s",
					w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339),
					e.start.Format(time.RFC3339), e.end.Format(time.RFC3339))
			}
			if err != nil {
				logger.Warn("discarding unusable artifact", zap.String("path", e.path), zap.Error(err))
				c.mu.Lock()
				c.removeLocked(filepath.Base(e.path), logger)
				c.mu.Unlock()
				continue
			}
			observability.VelocityCacheLookupsTotal.WithLabelValues("hit").Inc()
			logger.Info("velocity cache hit", zap.String("artifact", filepath.Base(e.path)))
			c.recordStats(e.start, e.end, false)
			return w, false, nil
		}

		acqStart, acqEnd := c.acquisitionWindow(needStart, needEnd)
		f := c.overlappingLocked(acqStart, acqEnd)
		shared := f != nil
		if !shared {
			f = c.startLocked(ctx, pos, needStart, needEnd, acqStart, acqEnd, logger)
		}
		c.mu.Unlock()

		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, false, models.NewStageError(models.StageCache, models.ErrCacheAcquisition, "wait", ctx.Err())
		}
		if f.err != nil {
			return nil, false, f.err
		}
		if !f.window.Covers(needStart, needEnd) {
			// Another caller's acquisition did not reach far enough; rescan.
			continue
		}
		if shared {
			observability.VelocityCacheLookupsTotal.WithLabelValues("shared").Inc()
		} else {
			observability.VelocityCacheLookupsTotal.WithLabelValues("miss").Inc()
		}
		c.recordStats(f.start, f.end, true)
		return f.window, true, nil
	}
}

// Stats reports the most recent Acquire.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

func (c *Cache) recordStats(start, end time.Time, fresh bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{Start: start, End: end, Fresh: fresh, At: c.clock.Now()}
}

// evictLocked deletes every artifact not covering the need window, or all of
// them when force is set.
func (c *Cache) evictLocked(needStart, needEnd time.Time, force bool, logger *zap.Logger) {
	for name, e := range c.entries {
		if force || !e.covers(needStart, needEnd) {
			c.removeLocked(name, logger)
		}
	}
}

func (c *Cache) removeLocked(name string, logger *zap.Logger) {
	e, ok := c.entries[name]
	if !ok {
		return
	}
	delete(c.entries, name)
	observability.VelocityCacheEvictionsTotal.Inc()
	if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to delete evicted artifact", zap.String("path", e.path), zap.Error(err))
		return
	}
	logger.Info("velocity artifact evicted", zap.String("artifact", name))
}

// coveringLocked returns the covering entry with the latest end, if any.
func (c *Cache) coveringLocked(needStart, needEnd time.Time) *entry {
	var candidates []*entry
	for _, e := range c.entries {
		if e.covers(needStart, needEnd) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].end.After(candidates[j].end) })
	return candidates[0]
}

// acquisitionWindow pads the need window and aligns it to whole hours.
func (c *Cache) acquisitionWindow(needStart, needEnd time.Time) (time.Time, time.Time) {
	start := needStart.Add(-c.cfg.Padding).UTC().Truncate(time.Hour)
	end := ceilHour(needEnd.Add(c.cfg.Padding).UTC())
	return start, end
}

// overlappingLocked returns the flight whose acquisition window overlaps
// [start, end], if any.
func (c *Cache) overlappingLocked(start, end time.Time) *flight {
	for _, f := range c.inflight {
		if f.overlaps(start, end) {
			return f
		}
	}
	return nil
}

// startLocked registers a flight for the acquisition window [start, end] and
// runs it in the background. The job is detached from ctx cancellation so a
// departing caller does not abort an acquisition others may be waiting on.
func (c *Cache) startLocked(ctx context.Context, pos models.DriftPoint, needStart, needEnd, start, end time.Time, logger *zap.Logger) *flight {
	f := &flight{start: start, end: end, done: make(chan struct{})}
	c.inflight = append(c.inflight, f)

	hours := needEnd.Sub(needStart).Hours()
	region := RegionOfInterest(pos.Lat, pos.Lon, hours, c.cfg.DriftSpeedKmh, c.cfg.MinHalfWidthDeg, c.cfg.MinLatitude)
	jobCtx := context.WithoutCancel(ctx)

	go func() {
		w, err := c.runAcquisition(jobCtx, Request{Start: start, End: end, Region: region}, logger)

		c.mu.Lock()
		f.window, f.err = w, err
		for i, other := range c.inflight {
			if other == f {
				c.inflight = append(c.inflight[:i], c.inflight[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		close(f.done)
	}()
	return f
}

func (c *Cache) runAcquisition(ctx context.Context, req Request, logger *zap.Logger) (*models.VelocityFieldWindow, error) {
	observability.VelocityAcquisitionsInFlight.Inc()
	defer observability.VelocityAcquisitionsInFlight.Dec()
	began := c.clock.Now()

	scratch, err := os.MkdirTemp(c.cfg.Dir, "job-")
	if err != nil {
		return nil, models.NewStageError(models.StageCache, models.ErrCacheAcquisition, "scratch", err)
	}
	defer os.RemoveAll(scratch)
	req.ScratchDir = scratch

	logger.Info("velocity acquisition started",
		zap.Time("start", req.Start),
		zap.Time("end", req.End),
		zap.Float64("lat_min", req.Region.LatMin),
		zap.Float64("lat_max", req.Region.LatMax),
	)

	var w *models.VelocityFieldWindow
	err = c.breaker.Call(ctx, func(ctx context.Context) error {
		jobCtx, cancel := context.WithTimeout(ctx, c.cfg.AcquisitionTimeout)
		defer cancel()
		var err error
		w, err = c.acquirer.Acquire(jobCtx, req)
		return err
	})
	if err == nil {
		// The registry records the requested window, so the field must cover it.
		if !w.Covers(req.Start, req.End) {
			err = fmt.Errorf("field covers %s to %s, requested %s to %s",
				w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339),
				req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339))
		}
	}
	if err == nil {
		name := artifactName(req.Start, req.End)
		path := filepath.Join(c.cfg.Dir, name)
		if err = WriteArtifact(path, w); err == nil {
			c.mu.Lock()
			c.entries[name] = &entry{start: req.Start, end: req.End, path: path, window: w}
			c.mu.Unlock()
		}
	}

	elapsed := c.clock.Since(began)
	if err != nil {
		observability.VelocityAcquisitionDuration.WithLabelValues("error").Observe(elapsed.Seconds())
		logger.Error("velocity acquisition failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, models.NewStageError(models.StageCache, models.ErrCacheAcquisition, "acquire", err)
	}
	observability.VelocityAcquisitionDuration.WithLabelValues("success").Observe(elapsed.Seconds())
	logger.Info("velocity acquisition finished", zap.Duration("elapsed", elapsed))
	return w, nil
}

func ceilHour(t time.Time) time.Time {
	if tr := t.Truncate(time.Hour); !tr.Equal(t) {
		return tr.Add(time.Hour)
	}
	return t
}
