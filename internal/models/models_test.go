package models

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func track() DriftTrack {
	return DriftTrack{
		{Time: t0, Lat: 80, Lon: -150},
		{Time: t0.Add(time.Hour), Lat: 80.1, Lon: -149},
		{Time: t0.Add(3 * time.Hour), Lat: 80.5, Lon: -147},
	}
}

func TestDriftTrack_PositionAt(t *testing.T) {
	tests := []struct {
		name             string
		at               time.Time
		wantLat, wantLon float64
		wantOK           bool
	}{
		{"exact first", t0, 80, -150, true},
		{"exact middle", t0.Add(time.Hour), 80.1, -149, true},
		{"midpoint", t0.Add(2 * time.Hour), 80.3, -148, true},
		{"quarter", t0.Add(15 * time.Minute), 80.025, -149.75, true},
		{"before track", t0.Add(-time.Minute), 0, 0, false},
		{"after track", t0.Add(4 * time.Hour), 0, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lat, lon, ok := track().PositionAt(tc.at)
			if ok != tc.wantOK {
				t.Fatalf("PositionAt() ok = %v, want %v", ok, tc.wantOK)
			}
			if math.Abs(lat-tc.wantLat) > 1e-9 || math.Abs(lon-tc.wantLon) > 1e-9 {
				t.Errorf("PositionAt() = (%v, %v), want (%v, %v)", lat, lon, tc.wantLat, tc.wantLon)
			}
		})
	}
}

func TestDriftTrack_Ascending(t *testing.T) {
	if !track().Ascending() {
		t.Error("Ascending() = false, want true")
	}
	dup := append(track(), DriftPoint{Time: t0.Add(3 * time.Hour)})
	if dup.Ascending() {
		t.Error("Ascending() = true for duplicate timestamp, want false")
	}
	if _, ok := (DriftTrack{}).Last(); ok {
		t.Error("Last() on empty track ok = true")
	}
}

func TestVelocityFieldWindow_Covers(t *testing.T) {
	w := &VelocityFieldWindow{Start: t0, End: t0.Add(48 * time.Hour)}
	tests := []struct {
		start, end time.Time
		want       bool
	}{
		{t0, t0.Add(48 * time.Hour), true},
		{t0.Add(time.Hour), t0.Add(24 * time.Hour), true},
		{t0.Add(-time.Second), t0.Add(time.Hour), false},
		{t0, t0.Add(49 * time.Hour), false},
	}
	for _, tc := range tests {
		if got := w.Covers(tc.start, tc.end); got != tc.want {
			t.Errorf("Covers(%v, %v) = %v, want %v", tc.start, tc.end, got, tc.want)
		}
	}
}

func TestHoursSinceEpoch(t *testing.T) {
	if got := HoursSinceEpoch(time.Date(1950, 1, 2, 6, 0, 0, 0, time.UTC)); got != 30 {
		t.Errorf("HoursSinceEpoch() = %v, want 30", got)
	}
}

func TestStageError(t *testing.T) {
	cause := errors.New("cell masked")
	err := fmt.Errorf("forecast: %w", NewStageError(StageIntegrate, ErrDomain, "locate", cause))

	if !errors.Is(err, ErrDomain) {
		t.Error("errors.Is(err, ErrDomain) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if errors.Is(err, ErrTransport) {
		t.Error("errors.Is(err, ErrTransport) = true")
	}
	stage, ok := StageOf(err)
	if !ok || stage != StageIntegrate {
		t.Errorf("StageOf() = %q, %v; want integrate, true", stage, ok)
	}
	if got, want := err.Error(), "forecast: integrate: locate: cell masked"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := NewStageError(StageCache, ErrCacheAcquisition, "", nil)
	if got, want := bare.Error(), "cache: velocity field acquisition failed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if _, ok := StageOf(errors.New("plain")); ok {
		t.Error("StageOf(plain) ok = true")
	}
}

func TestSourceNames(t *testing.T) {
	tests := []struct {
		src  Source
		want string
	}{
		{RangedHTTPSource{}, "ranged_http"},
		{FTPSource{}, "ftp"},
		{VendorAPISource{}, "vendor_api"},
		{nil, "unknown"},
	}
	for _, tc := range tests {
		if got := ProtocolName(tc.src); got != tc.want {
			t.Errorf("ProtocolName(%T) = %q, want %q", tc.src, got, tc.want)
		}
	}
	if got := EncodingName(DecimalDayOfYear{}); got != "decimal_doy" {
		t.Errorf("EncodingName() = %q, want decimal_doy", got)
	}
}
