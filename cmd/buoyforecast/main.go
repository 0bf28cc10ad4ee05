// Command buoyforecast reads drifting buoy telemetry and forecasts buoy
// positions.
//
// Usage:
//
//	buoyforecast serve
//	buoyforecast track -id 300234063991680 -n 24
//	buoyforecast forecast -id 2019T67 -method advanced -lead 48h -full
//	buoyforecast poll
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wrightni/azure-buoy-tracking/internal/config"
	httphandler "github.com/wrightni/azure-buoy-tracking/internal/http"
	"github.com/wrightni/azure-buoy-tracking/internal/observability"
	"github.com/wrightni/azure-buoy-tracking/internal/vfcache"
)

var version = "dev"

var errUsage = errors.New("usage: buoyforecast <serve|track|forecast|poll> [flags]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	resolve := cmd.flags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	opts, err := resolve()
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	logger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = observability.FlushTelemetry(context.Background(), logger) }()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return cmd.run(ctx, a, opts, stdout)
}

func serve(ctx context.Context, a *app, _ any, _ io.Writer) error {
	cfg, logger := a.cfg, a.logger

	health := &httphandler.HealthConfig{
		Window:           cfg.HealthWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		Version:          version,
	}
	if a.memcache != nil {
		health.CachePing = a.memcache.Ping
	}
	if a.velocity != nil {
		velocity := a.velocity
		health.VelocityStats = func() vfcache.Stats { return velocity.Stats() }
	}
	observability.RegisterOutcomeGauges(a.tracker, cfg.HealthWindow)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	inFlight := &httphandler.InFlightTracker{}
	handler := httphandler.NewHandler(a.engine, health, httphandler.Limits{
		DefaultCount: cfg.DefaultTrackCount,
		DefaultLead:  cfg.DefaultLead,
	}, a.tracker, a.clock, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout:  cfg.RequestTimeout,
		ForecastTimeout: cfg.ForecastTimeout,
		Limiter:         limiter,
		Tracker:         a.tracker,
		InFlight:        inFlight,
	}, logger)

	warmCtx, stopWarm := context.WithCancel(ctx)
	defer stopWarm()
	a.warm(warmCtx)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.ForecastTimeout + 10*time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	stopWarm()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if n := inFlight.Count(); n > 0 {
		logger.Info("waiting for in-flight requests", zap.Int64("count", n))
		if err := inFlight.WaitForZero(shutdownCtx, 100*time.Millisecond); err != nil {
			logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
		}
	}
	logger.Info("shutdown complete")
	return nil
}
