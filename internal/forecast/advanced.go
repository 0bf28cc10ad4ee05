package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/wrightni/azure-buoy-tracking/internal/geo"
	"github.com/wrightni/azure-buoy-tracking/internal/models"
)

var (
	errMaskedCell = errors.New("velocity masked at buoy position")
	errEmptyField = errors.New("velocity field has no data")
)

// FieldProvider supplies a velocity field covering a forecast. fresh reports
// whether the window was acquired by this call rather than served from cache.
type FieldProvider interface {
	Acquire(ctx context.Context, pos models.DriftPoint, target time.Time, force bool) (w *models.VelocityFieldWindow, fresh bool, err error)
}

// AdvancedConfig configures advection forecasting.
type AdvancedConfig struct {
	// Step is the RK4 integration step.
	Step time.Duration
	// The local sub-window extends BaseCells + CellsPerDay*leadDays grid cells
	// from the buoy in each direction.
	BaseCells   int
	CellsPerDay float64
	Projection  *geo.PolarStereographic
}

// Advanced forecasts by integrating the buoy position through a gridded
// velocity field.
type Advanced struct {
	cfg    AdvancedConfig
	fields FieldProvider
	logger *zap.Logger
}

// NewAdvanced creates an Advanced forecaster backed by fields.
func NewAdvanced(cfg AdvancedConfig, fields FieldProvider, logger *zap.Logger) *Advanced {
	if cfg.Step <= 0 {
		cfg.Step = 30 * time.Minute
	}
	if cfg.BaseCells <= 0 {
		cfg.BaseCells = 2
	}
	if cfg.CellsPerDay < 0 {
		cfg.CellsPerDay = 0
	}
	if cfg.Projection == nil {
		cfg.Projection = geo.NSIDCNorth()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Advanced{cfg: cfg, fields: fields, logger: logger}
}

// Forecast advects pos to target.
//
// When the buoy falls on a masked cell or the trajectory leaves the local
// grid, the field is re-acquired once (unless it was just acquired). If that
// also fails, the last known position is returned as a degraded track along
// with an ErrDomain error. Acquisition failures are returned as is.
func (a *Advanced) Forecast(ctx context.Context, pos models.DriftPoint, target time.Time, full bool) (models.ForecastTrack, error) {
	logger := a.logger.With(zap.Time("buoy_time", pos.Time), zap.Time("target", target))

	w, fresh, err := a.fields.Acquire(ctx, pos, target, false)
	if err != nil {
		return models.ForecastTrack{}, err
	}
	points, err := a.integrate(w, pos, target, full)
	if err != nil && !fresh {
		logger.Warn("advection failed on cached field, forcing refresh", zap.Error(err))
		w, _, err = a.fields.Acquire(ctx, pos, target, true)
		if err != nil {
			return models.ForecastTrack{}, err
		}
		points, err = a.integrate(w, pos, target, full)
	}
	if err != nil {
		logger.Error("advanced forecast degraded to last known position",
			zap.Float64("lat", pos.Lat),
			zap.Float64("lon", pos.Lon),
			zap.Error(err),
		)
		degraded := models.ForecastTrack{
			Method:   models.MethodAdvanced,
			Degraded: true,
			Points:   []models.ForecastPoint{{Time: pos.Time, Lat: pos.Lat, Lon: pos.Lon}},
		}
		return degraded, models.NewStageError(models.StageIntegrate, models.ErrDomain, "advect", err)
	}
	return models.ForecastTrack{Method: models.MethodAdvanced, Points: points}, nil
}

// integrate runs the advection on w. Every error it returns is a domain error.
func (a *Advanced) integrate(w *models.VelocityFieldWindow, pos models.DriftPoint, target time.Time, full bool) ([]models.ForecastPoint, error) {
	nt, rows, cols := w.Shape()
	if nt == 0 || rows == 0 || cols == 0 {
		return nil, errEmptyField
	}

	origin := models.HoursSinceEpoch(pos.Time)
	rel := make([]float64, nt)
	dist := make([]float64, nt)
	for k, h := range w.Time {
		rel[k] = h - origin
		dist[k] = math.Abs(rel[k])
	}
	t0 := floats.MinIdx(dist)
	ci, cj := nearestCell(w, pos.Lat, pos.Lon)
	if w.Masked(t0, ci, cj) {
		return nil, fmt.Errorf("%w: cell (%d, %d) at t=%d", errMaskedCell, ci, cj, t0)
	}

	lead := target.Sub(pos.Time)
	leadHours := lead.Hours()
	h := a.cfg.Step.Hours()
	steps := int(math.Round(leadHours / h))
	if steps <= 0 {
		return []models.ForecastPoint{{Time: pos.Time, Lat: pos.Lat, Lon: pos.Lon}}, nil
	}

	half := a.cfg.BaseCells + int(math.Round(a.cfg.CellsPerDay*math.Round(leadHours/24)))
	r0, r1 := clip(ci-half, ci+half+1, rows)
	c0, c1 := clip(cj-half, cj+half+1, cols)
	k0, k1 := timeSpan(rel, float64(steps)*h)

	proj := a.cfg.Projection
	gridX := make([]float64, c1-c0)
	gridY := make([]float64, r1-r0)
	colX := make([][]float64, c1-c0)
	for i := r0; i < r1; i++ {
		rowY := make([]float64, c1-c0)
		for j := c0; j < c1; j++ {
			x, y := proj.Forward(w.Lat[i][j], w.Lon[i][j])
			colX[j-c0] = append(colX[j-c0], x)
			rowY[j-c0] = y
		}
		gridY[i-r0] = stat.Mean(rowY, nil)
	}
	for j := range colX {
		gridX[j] = stat.Mean(colX[j], nil)
	}

	u, v := localVelocities(w, k0, k1, r0, r1, c0, c1)
	times := rel[k0:k1]
	uInterp, err := newTrilinear(times, gridY, gridX, u)
	if err != nil {
		return nil, fmt.Errorf("build u interpolant: %w", err)
	}
	vInterp, err := newTrilinear(times, gridY, gridX, v)
	if err != nil {
		return nil, fmt.Errorf("build v interpolant: %w", err)
	}

	velocity := func(t, x, y float64) (float64, float64, error) {
		uu, err := uInterp.at(t, y, x)
		if err != nil {
			return 0, 0, err
		}
		vv, err := vInterp.at(t, y, x)
		if err != nil {
			return 0, 0, err
		}
		return uu, vv, nil
	}

	x0, y0 := proj.Forward(pos.Lat, pos.Lon)
	samples, err := rk4(velocity, x0, y0, h, steps, full)
	if err != nil {
		return nil, fmt.Errorf("integrate: %w", err)
	}

	points := make([]models.ForecastPoint, len(samples))
	for n, s := range samples {
		lat, lon := proj.Inverse(s.X, s.Y)
		points[n] = models.ForecastPoint{
			Time: pos.Time.Add(time.Duration(s.T * float64(time.Hour))).Round(time.Second),
			Lat:  lat,
			Lon:  lon,
		}
	}
	return points, nil
}

// nearestCell returns the grid index minimizing |Δlat| + |Δlon|.
func nearestCell(w *models.VelocityFieldWindow, lat, lon float64) (int, int) {
	_, rows, cols := w.Shape()
	d := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dLon := math.Abs(w.Lon[i][j] - lon)
			if dLon > 180 {
				dLon = 360 - dLon
			}
			d = append(d, math.Abs(w.Lat[i][j]-lat)+dLon)
		}
	}
	idx := floats.MinIdx(d)
	return idx / cols, idx % cols
}

// clip bounds the half-open range [lo, hi) to [0, n).
func clip(lo, hi, n int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	return lo, hi
}

// timeSpan returns the half-open index range of rel bracketing [0, end].
func timeSpan(rel []float64, end float64) (int, int) {
	k0 := 0
	for k := range rel {
		if rel[k] <= 0 {
			k0 = k
		}
	}
	k1 := len(rel)
	for k := range rel {
		if rel[k] >= end {
			k1 = k + 1
			break
		}
	}
	if k1 <= k0 {
		k1 = k0 + 1
	}
	return k0, k1
}

// localVelocities slices u and v to the sub-window and converts m/s to m/h.
// Masked cells contribute zero velocity.
func localVelocities(w *models.VelocityFieldWindow, k0, k1, r0, r1, c0, c1 int) (u, v [][][]float64) {
	u = make([][][]float64, k1-k0)
	v = make([][][]float64, k1-k0)
	for k := k0; k < k1; k++ {
		u[k-k0] = make([][]float64, r1-r0)
		v[k-k0] = make([][]float64, r1-r0)
		for i := r0; i < r1; i++ {
			ur := make([]float64, c1-c0)
			vr := make([]float64, c1-c0)
			for j := c0; j < c1; j++ {
				if w.Masked(k, i, j) {
					continue
				}
				ur[j-c0] = w.U[k][i][j] * 3600
				vr[j-c0] = w.V[k][i][j] * 3600
			}
			u[k-k0][i-r0] = ur
			v[k-k0][i-r0] = vr
		}
	}
	return u, v
}
