package forecast

import (
	"errors"
	"testing"
	"time"

	"github.com/wrightni/azure-buoy-tracking/internal/geo"
	"github.com/wrightni/azure-buoy-tracking/internal/models"
	"github.com/wrightni/azure-buoy-tracking/internal/testhelpers"
)

var start = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

// TestSimple_Forecast_ConstantDrift checks the straight-line scenario: 8
// points 3 hours apart at 45° and 0.5 km/h land within 0.5 km of the
// dead-reckoned point 12 km out after 24 hours.
func TestSimple_Forecast_ConstantDrift(t *testing.T) {
	track := testhelpers.StraightTrack(start, 75, -150, 45, 0.5, 3*time.Hour, 8)
	last, _ := track.Last()
	target := last.Time.Add(24 * time.Hour)

	got, err := NewSimple(SimpleConfig{}, nil).Forecast(track, target, false)
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	if len(got.Points) != 1 {
		t.Fatalf("len(Points) = %d, want 1", len(got.Points))
	}
	final := got.Points[0]
	wantLat, wantLon := geo.Destination(last.Lat, last.Lon, 45, 12)
	if d := geo.DistanceKm(final.Lat, final.Lon, wantLat, wantLon); d > 0.5 {
		t.Errorf("final position %.3f km from expected, want <= 0.5", d)
	}
	if !final.Time.Equal(target) {
		t.Errorf("final Time = %v, want %v", final.Time, target)
	}
	if got.Method != models.MethodSimple {
		t.Errorf("Method = %q, want simple", got.Method)
	}
}

// TestSimple_Forecast_FullIsHourly verifies full forecasts sample every hour.
func TestSimple_Forecast_FullIsHourly(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		n        int
		lead     time.Duration
		want     int
	}{
		{"hourly track", time.Hour, 5, 10 * time.Hour, 10},
		{"irregular lead", 20 * time.Minute, 3, 6*time.Hour + 50*time.Minute, 6},
		{"day", 6 * time.Hour, 4, 24 * time.Hour, 24},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			track := testhelpers.StraightTrack(start, 78, 20, 300, 1.2, tc.interval, tc.n)
			last, _ := track.Last()
			got, err := NewSimple(SimpleConfig{}, nil).Forecast(track, last.Time.Add(tc.lead), true)
			if err != nil {
				t.Fatalf("Forecast() error = %v", err)
			}
			if len(got.Points) != tc.want {
				t.Fatalf("len(Points) = %d, want %d", len(got.Points), tc.want)
			}
			prev := last.Time
			for i, p := range got.Points {
				if d := p.Time.Sub(prev); d != time.Hour {
					t.Errorf("point %d spacing = %v, want 1h", i, d)
				}
				prev = p.Time
			}
		})
	}
}

// TestSimple_Forecast_TruncatesToWholeSteps verifies the horizon rounds down.
func TestSimple_Forecast_TruncatesToWholeSteps(t *testing.T) {
	track := testhelpers.StraightTrack(start, 78, 20, 90, 1, time.Hour, 4)
	last, _ := track.Last()
	got, err := NewSimple(SimpleConfig{}, nil).Forecast(track, last.Time.Add(50*time.Minute), false)
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	if want := last.Time.Add(45 * time.Minute); !got.Points[0].Time.Equal(want) {
		t.Errorf("Time = %v, want %v", got.Points[0].Time, want)
	}
}

// TestSimple_Forecast_StationaryTrack verifies identical points forecast the
// last known position.
func TestSimple_Forecast_StationaryTrack(t *testing.T) {
	track := models.DriftTrack{
		{Time: start, Lat: 80, Lon: 10},
		{Time: start.Add(time.Hour), Lat: 80, Lon: 10},
		{Time: start.Add(2 * time.Hour), Lat: 80, Lon: 10},
	}
	got, err := NewSimple(SimpleConfig{}, nil).Forecast(track, start.Add(8*time.Hour), true)
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	for _, p := range got.Points {
		if p.Lat != 80 || p.Lon != 10 {
			t.Fatalf("point = (%v, %v), want (80, 10)", p.Lat, p.Lon)
		}
	}
}

// TestSimple_Forecast_TurningTrack verifies the heading keeps rotating at the
// observed rate.
func TestSimple_Forecast_TurningTrack(t *testing.T) {
	// Bearing changes 10° between hourly segments, i.e. 5°/h over each
	// two-hour span.
	track := models.DriftTrack{{Time: start, Lat: 76, Lon: -140}}
	bearing := 0.0
	for i := 1; i < 6; i++ {
		p := track[i-1]
		lat, lon := geo.Destination(p.Lat, p.Lon, bearing, 1)
		track = append(track, models.DriftPoint{Time: p.Time.Add(time.Hour), Lat: lat, Lon: lon})
		bearing += 10
	}
	last, _ := track.Last()
	got, err := NewSimple(SimpleConfig{}, nil).Forecast(track, last.Time.Add(3*time.Hour), true)
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	if len(got.Points) != 3 {
		t.Fatalf("len(Points) = %d, want 3", len(got.Points))
	}
	path := append([]models.ForecastPoint{{Time: last.Time, Lat: last.Lat, Lon: last.Lon}}, got.Points...)
	var chords []float64
	for i := 1; i < len(path); i++ {
		chords = append(chords, geo.Bearing(path[i-1].Lat, path[i-1].Lon, path[i].Lat, path[i].Lon))
	}
	for i := 1; i < len(chords); i++ {
		if diff := geo.BearingDiff(chords[i], chords[i-1]); diff < 4.5 || diff > 5.5 {
			t.Errorf("hourly heading change = %.2f°, want about 5°", diff)
		}
	}
}

func TestSimple_Forecast_ShortTrack(t *testing.T) {
	track := testhelpers.StraightTrack(start, 78, 20, 90, 1, time.Hour, 2)
	_, err := NewSimple(SimpleConfig{}, nil).Forecast(track, start.Add(24*time.Hour), false)
	if !errors.Is(err, models.ErrForecastInput) {
		t.Errorf("Forecast() error = %v, want ErrForecastInput", err)
	}
}
