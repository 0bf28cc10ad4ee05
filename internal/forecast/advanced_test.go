package forecast

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wrightni/azure-buoy-tracking/internal/geo"
	"github.com/wrightni/azure-buoy-tracking/internal/models"
	"github.com/wrightni/azure-buoy-tracking/internal/testhelpers"
)

type acquireCall struct {
	force bool
}

// fakeFields serves windows in order, repeating the last one.
type fakeFields struct {
	windows []*models.VelocityFieldWindow
	fresh   []bool
	err     error
	calls   []acquireCall
}

func (f *fakeFields) Acquire(_ context.Context, _ models.DriftPoint, _ time.Time, force bool) (*models.VelocityFieldWindow, bool, error) {
	i := len(f.calls)
	f.calls = append(f.calls, acquireCall{force: force})
	if f.err != nil {
		return nil, false, f.err
	}
	if i >= len(f.windows) {
		i = len(f.windows) - 1
	}
	return f.windows[i], f.fresh[i], nil
}

var buoy = models.DriftPoint{Time: time.Date(2024, 4, 2, 6, 0, 0, 0, time.UTC), Lat: 82, Lon: -30}

func field(u, v float64, masked bool) *models.VelocityFieldWindow {
	return testhelpers.UniformField(testhelpers.FieldSpec{
		Lat:     buoy.Lat,
		Lon:     buoy.Lon,
		Start:   buoy.Time.Add(-24 * time.Hour),
		Hours:   72,
		Cells:   21,
		Spacing: 12500,
		U:       u,
		V:       v,
		Masked:  masked,
	})
}

// TestAdvanced_Forecast_UniformField verifies advection through a constant
// field moves the buoy u*t along projected x.
func TestAdvanced_Forecast_UniformField(t *testing.T) {
	fields := &fakeFields{windows: []*models.VelocityFieldWindow{field(0.1, -0.05, false)}, fresh: []bool{false}}
	a := NewAdvanced(AdvancedConfig{}, fields, nil)

	target := buoy.Time.Add(24 * time.Hour)
	got, err := a.Forecast(context.Background(), buoy, target, true)
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	if got.Degraded || got.Method != models.MethodAdvanced {
		t.Errorf("Degraded = %v, Method = %q; want false, advanced", got.Degraded, got.Method)
	}
	if len(got.Points) != 48 {
		t.Fatalf("len(Points) = %d, want 48 half-hour steps", len(got.Points))
	}
	final, _ := got.Final()
	if !final.Time.Equal(target) {
		t.Errorf("final Time = %v, want %v", final.Time, target)
	}

	proj := geo.NSIDCNorth()
	x0, y0 := proj.Forward(buoy.Lat, buoy.Lon)
	x1, y1 := proj.Forward(final.Lat, final.Lon)
	if dx := x1 - x0; math.Abs(dx-8640) > 1 {
		t.Errorf("x displacement = %.2f m, want 8640", dx)
	}
	if dy := y1 - y0; math.Abs(dy+4320) > 1 {
		t.Errorf("y displacement = %.2f m, want -4320", dy)
	}
	if len(fields.calls) != 1 {
		t.Errorf("acquisitions = %d, want 1", len(fields.calls))
	}
}

// TestAdvanced_Forecast_FinalOnly verifies want_full=false returns one point.
func TestAdvanced_Forecast_FinalOnly(t *testing.T) {
	fields := &fakeFields{windows: []*models.VelocityFieldWindow{field(0, 0, false)}, fresh: []bool{true}}
	got, err := NewAdvanced(AdvancedConfig{}, fields, nil).Forecast(context.Background(), buoy, buoy.Time.Add(6*time.Hour), false)
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	if len(got.Points) != 1 {
		t.Fatalf("len(Points) = %d, want 1", len(got.Points))
	}
	if d := geo.DistanceKm(got.Points[0].Lat, got.Points[0].Lon, buoy.Lat, buoy.Lon); d > 1e-3 {
		t.Errorf("still-water drift = %.4f km, want 0", d)
	}
}

// TestAdvanced_Forecast_MaskedFreshWindowDegrades checks that a masked cell on
// a freshly acquired window degrades immediately without a second acquisition.
func TestAdvanced_Forecast_MaskedFreshWindowDegrades(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fields := &fakeFields{windows: []*models.VelocityFieldWindow{field(0.1, 0, true)}, fresh: []bool{true}}
	a := NewAdvanced(AdvancedConfig{}, fields, zap.New(core))

	got, err := a.Forecast(context.Background(), buoy, buoy.Time.Add(24*time.Hour), true)
	if !errors.Is(err, models.ErrDomain) {
		t.Fatalf("Forecast() error = %v, want ErrDomain", err)
	}
	if stage, _ := models.StageOf(err); stage != models.StageIntegrate {
		t.Errorf("stage = %q, want integrate", stage)
	}
	if !got.Degraded || len(got.Points) != 1 {
		t.Fatalf("got %+v, want one degraded point", got)
	}
	if p := got.Points[0]; p.Lat != buoy.Lat || p.Lon != buoy.Lon || !p.Time.Equal(buoy.Time) {
		t.Errorf("degraded point = %+v, want last known position", p)
	}
	if len(fields.calls) != 1 {
		t.Errorf("acquisitions = %d, want 1", len(fields.calls))
	}
	if logs.FilterMessage("advanced forecast degraded to last known position").Len() != 1 {
		t.Error("expected degraded forecast to be logged")
	}
}

// TestAdvanced_Forecast_MaskedCachedWindowRetries verifies a stale masked
// window triggers exactly one forced refresh.
func TestAdvanced_Forecast_MaskedCachedWindowRetries(t *testing.T) {
	tests := []struct {
		name         string
		second       *models.VelocityFieldWindow
		wantDegraded bool
	}{
		{"refresh fixes it", field(0.1, 0, false), false},
		{"still masked", field(0.1, 0, true), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fields := &fakeFields{
				windows: []*models.VelocityFieldWindow{field(0.1, 0, true), tc.second},
				fresh:   []bool{false, true},
			}
			got, err := NewAdvanced(AdvancedConfig{}, fields, nil).Forecast(context.Background(), buoy, buoy.Time.Add(12*time.Hour), false)
			if tc.wantDegraded != errors.Is(err, models.ErrDomain) {
				t.Errorf("Forecast() error = %v, want ErrDomain = %v", err, tc.wantDegraded)
			}
			if got.Degraded != tc.wantDegraded {
				t.Errorf("Degraded = %v, want %v", got.Degraded, tc.wantDegraded)
			}
			if len(fields.calls) != 2 || fields.calls[0].force || !fields.calls[1].force {
				t.Errorf("calls = %+v, want [no force, force]", fields.calls)
			}
		})
	}
}

// TestAdvanced_Forecast_OutsideTimeExtentDegrades verifies that running off
// the end of the field is treated like masking.
func TestAdvanced_Forecast_OutsideTimeExtentDegrades(t *testing.T) {
	short := testhelpers.UniformField(testhelpers.FieldSpec{
		Lat:     buoy.Lat,
		Lon:     buoy.Lon,
		Start:   buoy.Time.Add(-time.Hour),
		Hours:   6,
		Cells:   11,
		Spacing: 12500,
		U:       0.1,
	})
	fields := &fakeFields{windows: []*models.VelocityFieldWindow{short}, fresh: []bool{true}}
	got, err := NewAdvanced(AdvancedConfig{}, fields, nil).Forecast(context.Background(), buoy, buoy.Time.Add(24*time.Hour), false)
	if !errors.Is(err, models.ErrDomain) || !got.Degraded {
		t.Errorf("Forecast() = %+v, %v; want degraded with ErrDomain", got, err)
	}
}

// TestAdvanced_Forecast_LeavesLocalGridDegrades verifies that a fast drift
// escaping the lead-sized sub-window is a domain error.
func TestAdvanced_Forecast_LeavesLocalGridDegrades(t *testing.T) {
	// 2 m/s for 24 h is 172 km; the local window is 3 cells (37.5 km) wide.
	fields := &fakeFields{windows: []*models.VelocityFieldWindow{field(2, 0, false)}, fresh: []bool{true}}
	_, err := NewAdvanced(AdvancedConfig{}, fields, nil).Forecast(context.Background(), buoy, buoy.Time.Add(24*time.Hour), false)
	if !errors.Is(err, models.ErrDomain) || !errors.Is(err, errOutOfExtent) {
		t.Errorf("Forecast() error = %v, want ErrDomain wrapping errOutOfExtent", err)
	}
}

// TestAdvanced_Forecast_AcquisitionError verifies cache failures surface unchanged.
func TestAdvanced_Forecast_AcquisitionError(t *testing.T) {
	acqErr := models.NewStageError(models.StageCache, models.ErrCacheAcquisition, "acquire", errors.New("exit status 1"))
	fields := &fakeFields{err: acqErr}
	got, err := NewAdvanced(AdvancedConfig{}, fields, nil).Forecast(context.Background(), buoy, buoy.Time.Add(24*time.Hour), false)
	if !errors.Is(err, models.ErrCacheAcquisition) {
		t.Fatalf("Forecast() error = %v, want ErrCacheAcquisition", err)
	}
	if len(got.Points) != 0 {
		t.Errorf("Points = %v, want none", got.Points)
	}
	if len(fields.calls) != 1 {
		t.Errorf("acquisitions = %d, want 1", len(fields.calls))
	}
}

func TestNearestCell(t *testing.T) {
	w := field(0, 0, false)
	i, j := nearestCell(w, buoy.Lat, buoy.Lon)
	if i != 10 || j != 10 {
		t.Errorf("nearestCell() = (%d, %d), want (10, 10)", i, j)
	}
}
