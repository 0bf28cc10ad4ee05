package geo

import (
	"math"
	"testing"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestDistanceKm_SamePointIsZero(t *testing.T) {
	points := [][2]float64{{0, 0}, {75.5, -140.2}, {-33.9, 151.2}, {89.99, 10}, {12, 179.9}}
	for _, p := range points {
		if d := DistanceKm(p[0], p[1], p[0], p[1]); d != 0 {
			t.Errorf("DistanceKm(%v, %v) = %v, want 0", p, p, d)
		}
	}
}

func TestDistanceKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{"one degree of latitude", 0, 0, 1, 0, 111.195},
		{"quarter meridian", 0, 0, 90, 0, 10007.543},
		{"across antimeridian", 0, 179.5, 0, -179.5, 111.195},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := DistanceKm(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
			if !near(got, tc.want, 0.01) {
				t.Errorf("DistanceKm() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDestination_ZeroDistanceReturnsOrigin(t *testing.T) {
	for _, bearing := range []float64{0, 45, 180, 271.5} {
		lat, lon := Destination(72.3, -150.1, bearing, 0)
		if lat != 72.3 || lon != -150.1 {
			t.Errorf("Destination(bearing=%v, 0) = (%v, %v), want (72.3, -150.1)", bearing, lat, lon)
		}
	}
}

func TestDestination_RoundTripsWithDistanceAndBearing(t *testing.T) {
	lat, lon := Destination(70, -150, 45, 12)
	if d := DistanceKm(70, -150, lat, lon); !near(d, 12, 1e-6) {
		t.Errorf("DistanceKm(origin, Destination(12km)) = %v, want 12", d)
	}
	if b := Bearing(70, -150, lat, lon); !near(b, 45, 1e-6) {
		t.Errorf("Bearing(origin, Destination(bearing=45)) = %v, want 45", b)
	}
}

func TestBearing_Cardinal(t *testing.T) {
	tests := []struct {
		name       string
		lat2, lon2 float64
		want       float64
	}{
		{"north", 1, 0, 0},
		{"east", 0, 1, 90},
		{"south", -1, 0, 180},
		{"west", 0, -1, 270},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Bearing(0, 0, tc.lat2, tc.lon2)
			if !near(got, tc.want, 1e-9) {
				t.Errorf("Bearing() = %v, want %v", got, tc.want)
			}
			if got < 0 || got >= 360 {
				t.Errorf("Bearing() = %v, want range [0, 360)", got)
			}
		})
	}
}

func TestBearingDiff_Range(t *testing.T) {
	for b1 := -720.0; b1 <= 720; b1 += 7.5 {
		for b2 := -360.0; b2 <= 360; b2 += 15 {
			r := BearingDiff(b1, b2)
			if r <= -180 || r > 180 {
				t.Fatalf("BearingDiff(%v, %v) = %v, want range (-180, 180]", b1, b2, r)
			}
		}
	}
}

func TestBearingDiff_Cases(t *testing.T) {
	tests := []struct {
		b1, b2, want float64
	}{
		{10, 10, 0},
		{350, 10, -20},
		{10, 350, 20},
		{190, 10, 180},
		{10, 190, 180},
		{90, 270, 180},
		{0, 90, -90},
	}
	for _, tc := range tests {
		if got := BearingDiff(tc.b1, tc.b2); !near(got, tc.want, 1e-9) {
			t.Errorf("BearingDiff(%v, %v) = %v, want %v", tc.b1, tc.b2, got, tc.want)
		}
	}
}

func TestPolarStereographic_KnownPoint(t *testing.T) {
	p := NSIDCNorth()
	// On the central meridian the point projects onto the negative y axis.
	x, y := p.Forward(70, -45)
	if !near(x, 0, 1e-6) {
		t.Errorf("Forward(70, -45) x = %v, want 0", x)
	}
	if y >= 0 {
		t.Errorf("Forward(70, -45) y = %v, want negative", y)
	}
	// Scale is true at 70N.
	x1, y1 := p.Forward(70, -44.5)
	x2, y2 := p.Forward(70, -45.5)
	got := math.Hypot(x1-x2, y1-y2)
	// Chord of the WGS84 parallel at 70N subtending 1 degree.
	e2 := p.Eccentricity * p.Eccentricity
	s := math.Sin(radians(70))
	r := p.SemiMajor * math.Cos(radians(70)) / math.Sqrt(1-e2*s*s)
	want := 2 * r * math.Sin(radians(0.5))
	if !near(got, want, 1e-3) {
		t.Errorf("arc at true-scale latitude = %v m, want %v m", got, want)
	}
}

func TestPolarStereographic_RoundTrip(t *testing.T) {
	p := NSIDCNorth()
	for _, ll := range [][2]float64{{70, -45}, {75.2, -150.3}, {82.5, 10}, {60.1, 120}, {89.5, -170}} {
		x, y := p.Forward(ll[0], ll[1])
		lat, lon := p.Inverse(x, y)
		if !near(lat, ll[0], 1e-7) || !near(lon, ll[1], 1e-7) {
			t.Errorf("Inverse(Forward(%v)) = (%v, %v)", ll, lat, lon)
		}
	}
}

func TestPolarStereographic_Pole(t *testing.T) {
	p := NSIDCNorth()
	x, y := p.Forward(90, 0)
	if !near(x, 0, 1e-6) || !near(y, 0, 1e-6) {
		t.Errorf("Forward(90, 0) = (%v, %v), want origin", x, y)
	}
	lat, _ := p.Inverse(0, 0)
	if lat != 90 {
		t.Errorf("Inverse(0, 0) lat = %v, want 90", lat)
	}
}
