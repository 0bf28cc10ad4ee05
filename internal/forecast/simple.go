// Package forecast projects a buoy's future track, either by kinematic
// extrapolation of its recent motion (Simple) or by advection through a
// gridded velocity field (Advanced).
package forecast

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/wrightni/azure-buoy-tracking/internal/geo"
	"github.com/wrightni/azure-buoy-tracking/internal/models"
)

// MinTrackPoints is the shortest track either forecaster accepts.
const MinTrackPoints = 3

// SimpleConfig configures dead-reckoning extrapolation.
type SimpleConfig struct {
	Step time.Duration
	// SampleStride records one point every SampleStride steps in a full forecast.
	SampleStride int
}

// Simple extrapolates a track using its mean speed and mean rate of turn.
type Simple struct {
	step   time.Duration
	stride int
	logger *zap.Logger
}

// NewSimple creates a Simple forecaster. Zero config values default to a
// 15 minute step sampled hourly.
func NewSimple(cfg SimpleConfig, logger *zap.Logger) *Simple {
	if cfg.Step <= 0 {
		cfg.Step = 15 * time.Minute
	}
	if cfg.SampleStride <= 0 {
		cfg.SampleStride = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simple{step: cfg.Step, stride: cfg.SampleStride, logger: logger}
}

// Forecast dead-reckons from the last point of track to target.
//
// Each step turns the heading by the mean angular velocity and then moves the
// mean speed along it. The horizon is truncated to whole steps. With full set,
// one point is recorded every stride steps; otherwise only the final position
// is returned. A stationary track forecasts the last position repeatedly.
func (s *Simple) Forecast(track models.DriftTrack, target time.Time, full bool) (models.ForecastTrack, error) {
	if len(track) < MinTrackPoints {
		return models.ForecastTrack{}, models.NewStageError(models.StageIntegrate, models.ErrForecastInput, "simple",
			fmt.Errorf("need at least %d points, got %d", MinTrackPoints, len(track)))
	}

	speeds := make([]float64, 0, len(track)-2)   // km/s
	turnRates := make([]float64, 0, len(track)-2) // deg/s
	for i := 1; i < len(track)-1; i++ {
		prev, cur, next := track[i-1], track[i], track[i+1]
		segSecs := next.Time.Sub(cur.Time).Seconds()
		spanSecs := next.Time.Sub(prev.Time).Seconds()
		if segSecs <= 0 || spanSecs <= 0 {
			continue
		}
		dist := geo.DistanceKm(cur.Lat, cur.Lon, next.Lat, next.Lon)
		bCur := geo.Bearing(cur.Lat, cur.Lon, next.Lat, next.Lon)
		bPrev := geo.Bearing(prev.Lat, prev.Lon, cur.Lat, cur.Lon)
		speeds = append(speeds, dist/segSecs)
		turnRates = append(turnRates, geo.BearingDiff(bCur, bPrev)/spanSecs)
	}

	var speed, turnRate float64
	if len(speeds) > 0 {
		speed = stat.Mean(speeds, nil)
		turnRate = stat.Mean(turnRates, nil)
	}

	n := len(track)
	last := track[n-1]
	bearing := geo.Bearing(track[n-2].Lat, track[n-2].Lon, last.Lat, last.Lon)

	stepSecs := s.step.Seconds()
	steps := int(target.Sub(last.Time) / s.step)
	if steps < 0 {
		steps = 0
	}
	distPerStep := speed * stepSecs
	turnPerStep := turnRate * stepSecs

	lat, lon := last.Lat, last.Lon
	ts := last.Time
	var points []models.ForecastPoint
	for i := 0; i < steps; i++ {
		bearing += turnPerStep
		lat, lon = geo.Destination(lat, lon, bearing, distPerStep)
		ts = ts.Add(s.step)
		if full && i%s.stride == s.stride-1 {
			points = append(points, models.ForecastPoint{Time: ts, Lat: lat, Lon: lon})
		}
	}
	if !full || len(points) == 0 {
		points = []models.ForecastPoint{{Time: ts, Lat: lat, Lon: lon}}
	}

	s.logger.Debug("simple forecast computed",
		zap.Int("samples", len(speeds)),
		zap.Float64("speed_kmh", speed*3600),
		zap.Float64("turn_deg_per_hour", turnRate*3600),
		zap.Int("steps", steps),
	)
	return models.ForecastTrack{Method: models.MethodSimple, Points: points}, nil
}
