// Package fetch retrieves raw telemetry payloads from buoy data sources.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wrightni/azure-buoy-tracking/internal/circuitbreaker"
	"github.com/wrightni/azure-buoy-tracking/internal/models"
	"github.com/wrightni/azure-buoy-tracking/internal/observability"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("resource not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrMissingAPIKey   = errors.New("missing API key")
)

// KeyStore resolves vendor API keys by provider name.
type KeyStore interface {
	VendorKey(provider string) (string, bool)
}

// Config holds transport settings.
type Config struct {
	HTTPTimeout    time.Duration
	FTPTimeout     time.Duration
	VendorTimeout  time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// RateLimitRPS bounds outbound requests per host. Zero disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
	// DefaultUpdateInterval is used for vendor windows when a descriptor has none.
	DefaultUpdateInterval time.Duration
}

// Fetcher dispatches a SourceDescriptor to the matching transport.
type Fetcher struct {
	cfg           Config
	keys          KeyStore
	client        *http.Client
	clock         clockwork.Clock
	vendorBreaker *circuitbreaker.CircuitBreaker
	logger        *zap.Logger

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client used for ranged and vendor sources.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithClock replaces the clock used to derive vendor start dates.
func WithClock(c clockwork.Clock) Option {
	return func(f *Fetcher) { f.clock = c }
}

// WithVendorBreaker guards vendor API calls with a circuit breaker.
func WithVendorBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(f *Fetcher) { f.vendorBreaker = cb }
}

// New creates a Fetcher. keys may be nil when no vendor sources are configured.
func New(cfg Config, keys KeyStore, logger *zap.Logger, opts ...Option) *Fetcher {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.FTPTimeout <= 0 {
		cfg.FTPTimeout = 30 * time.Second
	}
	if cfg.VendorTimeout <= 0 {
		cfg.VendorTimeout = 10 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 2 * time.Second
	}
	if cfg.DefaultUpdateInterval <= 0 {
		cfg.DefaultUpdateInterval = time.Hour
	}
	f := &Fetcher{
		cfg:      cfg,
		keys:     keys,
		client:   &http.Client{},
		clock:    clockwork.NewRealClock(),
		logger:   observability.OrNop(logger),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the raw payload for desc. count is the number of trailing
// records wanted; count <= 0 fetches the whole record. Transport failures are
// returned as *models.StageError of kind models.ErrTransport.
func (f *Fetcher) Fetch(ctx context.Context, desc models.SourceDescriptor, format models.ParserFormat, count int) (models.RawPayload, error) {
	protocol := models.ProtocolName(desc.Source)
	logger := observability.LoggerFrom(ctx, f.logger).With(
		zap.String("source_id", desc.ID),
		zap.String("protocol", protocol),
	)

	var call func(ctx context.Context) (models.RawPayload, error)
	switch src := desc.Source.(type) {
	case models.RangedHTTPSource:
		call = func(ctx context.Context) (models.RawPayload, error) {
			return f.fetchRangedHTTP(ctx, src, format.BytesPerLine, count)
		}
	case models.FTPSource:
		call = func(ctx context.Context) (models.RawPayload, error) {
			return f.fetchFTP(ctx, src, count)
		}
	case models.VendorAPISource:
		call = func(ctx context.Context) (models.RawPayload, error) {
			return f.fetchVendor(ctx, src, desc.UpdateInterval, count)
		}
	default:
		return models.RawPayload{}, models.NewStageError(models.StageFetch, models.ErrUnknownSource,
			"dispatch", fmt.Errorf("source %q has no transport", desc.ID))
	}

	start := f.clock.Now()
	logger.Debug("fetch started", zap.Int("count", count))

	payload, err := f.withRetry(ctx, protocol, call)

	observability.FetchDuration.WithLabelValues(protocol).Observe(f.clock.Since(start).Seconds())
	if err != nil {
		observability.FetchTotal.WithLabelValues(protocol, "error").Inc()
		logger.Warn("fetch failed",
			zap.String("category", string(CategorizeError(err))),
			zap.Error(err))
		return models.RawPayload{}, models.NewStageError(models.StageFetch, models.ErrTransport, protocol, err)
	}
	status := "success"
	if payload.Empty() {
		status = "empty"
	}
	observability.FetchTotal.WithLabelValues(protocol, status).Inc()
	logger.Debug("fetch finished", zap.Int("bytes", len(payload.Data)))
	return payload, nil
}

func (f *Fetcher) withRetry(ctx context.Context, protocol string, call func(ctx context.Context) (models.RawPayload, error)) (models.RawPayload, error) {
	var lastErr error
	for attempt := 0; attempt < f.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			observability.FetchRetriesTotal.WithLabelValues(protocol).Inc()
			select {
			case <-ctx.Done():
				return models.RawPayload{}, ctx.Err()
			case <-f.clock.After(f.calculateBackoff(attempt)):
			}
		}

		payload, err := call(ctx)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !isRetryable(ctx, err) {
			return models.RawPayload{}, err
		}
	}
	if f.cfg.RetryAttempts > 1 {
		return models.RawPayload{}, fmt.Errorf("exhausted retries: %w", lastErr)
	}
	return models.RawPayload{}, lastErr
}

func (f *Fetcher) calculateBackoff(attempt int) time.Duration {
	delay := float64(f.cfg.RetryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(f.cfg.RetryMaxDelay) {
		delay = float64(f.cfg.RetryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// wait blocks on the per-host outbound limiter.
func (f *Fetcher) wait(ctx context.Context, host string) error {
	if f.cfg.RateLimitRPS <= 0 {
		return nil
	}
	f.limitersMu.Lock()
	lim, ok := f.limiters[host]
	if !ok {
		burst := f.cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(f.cfg.RateLimitRPS), burst)
		f.limiters[host] = lim
	}
	f.limitersMu.Unlock()
	return lim.Wait(ctx)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.ToLower(u.Host)
}
