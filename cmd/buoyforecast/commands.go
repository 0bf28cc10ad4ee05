package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/wrightni/azure-buoy-tracking/internal/models"
	"github.com/wrightni/azure-buoy-tracking/internal/service"
	"github.com/wrightni/azure-buoy-tracking/internal/validation"
)

const maxIDLength = 64

var errIDRequired = errors.New("-id is required")

// command binds a flag set to an action. flags registers flags on fs and
// returns a resolver that validates them after parsing.
type command struct {
	flags func(fs *flag.FlagSet) func() (any, error)
	run   func(ctx context.Context, a *app, opts any, stdout io.Writer) error
}

var commands = map[string]command{
	"serve":    {flags: noFlags, run: serve},
	"track":    {flags: trackFlags, run: runTrack},
	"forecast": {flags: forecastFlags, run: runForecast},
	"poll":     {flags: noFlags, run: runPoll},
}

func noFlags(*flag.FlagSet) func() (any, error) {
	return func() (any, error) { return nil, nil }
}

type trackOptions struct {
	id    string
	count int
}

func trackFlags(fs *flag.FlagSet) func() (any, error) {
	id := fs.String("id", "", "buoy source id")
	n := fs.String("n", "24", `trailing records to read, or "all"`)
	return func() (any, error) {
		if *id == "" {
			return nil, errIDRequired
		}
		sourceID, err := validation.ValidateSourceID(*id, maxIDLength)
		if err != nil {
			return nil, err
		}
		count, err := validation.ParseCount(*n, 24, 0)
		if err != nil {
			return nil, err
		}
		return trackOptions{id: sourceID, count: count}, nil
	}
}

func forecastFlags(fs *flag.FlagSet) func() (any, error) {
	id := fs.String("id", "", "buoy source id")
	method := fs.String("method", "simple", "simple or advanced")
	lead := fs.String("lead", "24h", "forecast lead as a duration or hours")
	full := fs.Bool("full", false, "emit the whole forecast track")
	return func() (any, error) {
		if *id == "" {
			return nil, errIDRequired
		}
		sourceID, err := validation.ValidateSourceID(*id, maxIDLength)
		if err != nil {
			return nil, err
		}
		m, err := validation.ParseMethod(*method)
		if err != nil {
			return nil, err
		}
		d, err := validation.ParseLead(*lead, 24*time.Hour, 0)
		if err != nil {
			return nil, err
		}
		return service.ForecastRequest{SourceID: sourceID, Method: m, Lead: d, Full: *full}, nil
	}
}

func runTrack(ctx context.Context, a *app, opts any, stdout io.Writer) error {
	o := opts.(trackOptions)
	if !a.engine.Known(o.id) {
		return fmt.Errorf("unknown buoy %q", o.id)
	}
	track, err := a.engine.Track(ctx, o.id, o.count)
	if err != nil {
		return err
	}
	if track == nil {
		track = models.DriftTrack{}
	}
	return writeJSON(stdout, track)
}

func runForecast(ctx context.Context, a *app, opts any, stdout io.Writer) error {
	req := opts.(service.ForecastRequest)
	if !a.engine.Known(req.SourceID) {
		return fmt.Errorf("unknown buoy %q", req.SourceID)
	}
	result, err := a.engine.Forecast(ctx, req)
	if err != nil && !result.Degraded {
		return err
	}
	if err != nil {
		a.logger.Warn("forecast degraded", zap.String("source_id", req.SourceID), zap.Error(err))
	}
	return writeJSON(stdout, result)
}

func runPoll(ctx context.Context, a *app, _ any, stdout io.Writer) error {
	results, err := a.engine.Poll(ctx)
	if err != nil {
		return err
	}
	return printPoll(stdout, results)
}

// printPoll renders one row per buoy: id, last report time, position, age.
func printPoll(w io.Writer, results []service.PollResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLAST REPORT\tLAT\tLON\tAGE")
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(tw, "%s\terror: %v\t\t\t\n", r.SourceID, r.Err)
		case !r.Found:
			fmt.Fprintf(tw, "%s\tno data\t\t\t\n", r.SourceID)
		default:
			fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%s\n", r.SourceID,
				r.Last.Time.UTC().Format(time.RFC3339), r.Last.Lat, r.Last.Lon, r.Age.Round(time.Minute))
		}
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
