package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wrightni/azure-buoy-tracking/internal/models"
)

// TrackFetcher is implemented by the service layer to fetch and parse a
// buoy's recent track. Used by Warmer to avoid a circular dependency.
type TrackFetcher interface {
	Track(ctx context.Context, sourceID string, count int) (models.DriftTrack, error)
}

// Warmer prefetches recent tracks for catalog buoys.
type Warmer struct {
	fetcher     TrackFetcher
	count       int
	concurrency int
	clock       clockwork.Clock
	logger      *zap.Logger
}

// NewWarmer creates a Warmer fetching count points per buoy with at most
// concurrency fetches in flight.
func NewWarmer(fetcher TrackFetcher, count, concurrency int, clock clockwork.Clock, logger *zap.Logger) *Warmer {
	if concurrency <= 0 {
		concurrency = 4
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{fetcher: fetcher, count: count, concurrency: concurrency, clock: clock, logger: logger}
}

// Warm fetches every source concurrently. Individual failures do not stop the
// others; they are joined into the returned error.
func (w *Warmer) Warm(ctx context.Context, sourceIDs []string) error {
	start := w.clock.Now()
	w.logger.Info("warming track cache", zap.Int("buoys", len(sourceIDs)))

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, id := range sourceIDs {
		id := id
		g.Go(func() error {
			if _, err := w.fetcher.Track(gctx, id, w.count); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	w.logger.Info("track cache warming complete",
		zap.Int("buoys", len(sourceIDs)),
		zap.Int("errors", len(errs)),
		zap.Duration("duration", w.clock.Since(start)),
	)
	if len(errs) > 0 {
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, sourceIDs []string, interval time.Duration) error {
	if err := w.Warm(ctx, sourceIDs); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := w.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := w.Warm(ctx, sourceIDs); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
