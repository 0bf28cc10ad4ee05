package service

import (
	"context"
	"sync"
	"time"

	"github.com/wrightni/azure-buoy-tracking/internal/models"
)

// inFlightLoad is one fetch+parse that several callers may wait for.
type inFlightLoad struct {
	done  chan struct{}
	track models.DriftTrack
	err   error
}

// requestCoalescer collapses concurrent track loads for the same key into a
// single upstream fetch.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightLoad
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightLoad),
		timeout:  timeout,
	}
}

// GetOrDo joins the load in flight for key or starts fn. The load runs
// detached from ctx so a caller giving up does not fail the other waiters;
// each caller waits at most the coalescer timeout. shared reports whether
// the caller joined an existing load.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(ctx context.Context) (models.DriftTrack, error)) (track models.DriftTrack, shared bool, err error) {
	rc.mu.Lock()
	load, exists := rc.inFlight[key]
	if !exists {
		load = &inFlightLoad{done: make(chan struct{})}
		rc.inFlight[key] = load
		go rc.run(context.WithoutCancel(ctx), key, load, fn)
	}
	rc.mu.Unlock()

	waitCtx := ctx
	if rc.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, rc.timeout)
		defer cancel()
	}
	select {
	case <-load.done:
		return load.track, exists, load.err
	case <-waitCtx.Done():
		return nil, exists, waitCtx.Err()
	}
}

func (rc *requestCoalescer) run(ctx context.Context, key string, load *inFlightLoad, fn func(ctx context.Context) (models.DriftTrack, error)) {
	load.track, load.err = fn(ctx)

	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
	close(load.done)
}
