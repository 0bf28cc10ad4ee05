// Package testhelpers builds synthetic drift tracks and velocity fields for tests.
package testhelpers

import (
	"fmt"
	"strings"
	"time"

	"github.com/wrightni/azure-buoy-tracking/internal/geo"
	"github.com/wrightni/azure-buoy-tracking/internal/models"
)

// StraightTrack returns n points starting at (lat, lon) moving along bearing
// at speedKmh, one every interval.
func StraightTrack(start time.Time, lat, lon, bearing, speedKmh float64, interval time.Duration, n int) models.DriftTrack {
	track := make(models.DriftTrack, n)
	step := speedKmh * interval.Hours()
	for i := 0; i < n; i++ {
		track[i] = models.DriftPoint{Time: start.Add(time.Duration(i) * interval), Lat: lat, Lon: lon}
		lat, lon = geo.Destination(lat, lon, bearing, step)
	}
	return track
}

// ISOFormat is a comma separated time,lat,lon format with ISO 8601 timestamps.
var ISOFormat = models.ParserFormat{
	ID:           "iso_csv",
	Delimiter:    ",",
	TimeColumn:   0,
	LatColumn:    1,
	LonColumn:    2,
	Encoding:     models.ISO8601{},
	BytesPerLine: 40,
}

// CSV renders track in ISOFormat behind a header line, oldest first.
func CSV(track models.DriftTrack) []byte {
	var b strings.Builder
	b.WriteString("time,lat,lon\n")
	for _, p := range track {
		fmt.Fprintf(&b, "%s,%.6f,%.6f\n", p.Time.UTC().Format(time.RFC3339), p.Lat, p.Lon)
	}
	return []byte(b.String())
}

// FieldSpec describes a synthetic uniform velocity field on a regular polar
// stereographic grid centred on (Lat, Lon).
type FieldSpec struct {
	Lat, Lon float64
	Start    time.Time
	Hours    int     // hourly time steps after Start
	Cells    int     // grid is Cells x Cells
	Spacing  float64 // meters
	U, V     float64 // m/s
	Masked   bool    // mask every cell
}

// UniformField builds the velocity window described by spec. Rows run along
// projected y and columns along projected x.
func UniformField(spec FieldSpec) *models.VelocityFieldWindow {
	proj := geo.NSIDCNorth()
	cx, cy := proj.Forward(spec.Lat, spec.Lon)
	n := spec.Cells
	nt := spec.Hours + 1

	w := &models.VelocityFieldWindow{
		Start: spec.Start,
		End:   spec.Start.Add(time.Duration(spec.Hours) * time.Hour),
		Time:  make([]float64, nt),
		Lat:   make([][]float64, n),
		Lon:   make([][]float64, n),
		U:     make([][][]float64, nt),
		V:     make([][][]float64, nt),
	}
	origin := models.HoursSinceEpoch(spec.Start)
	for k := 0; k < nt; k++ {
		w.Time[k] = origin + float64(k)
	}
	for i := 0; i < n; i++ {
		w.Lat[i] = make([]float64, n)
		w.Lon[i] = make([]float64, n)
		y := cy + float64(i-n/2)*spec.Spacing
		for j := 0; j < n; j++ {
			x := cx + float64(j-n/2)*spec.Spacing
			w.Lat[i][j], w.Lon[i][j] = proj.Inverse(x, y)
		}
	}
	if spec.Masked {
		w.Mask = make([][][]bool, nt)
	}
	for k := 0; k < nt; k++ {
		w.U[k] = make([][]float64, n)
		w.V[k] = make([][]float64, n)
		if spec.Masked {
			w.Mask[k] = make([][]bool, n)
		}
		for i := 0; i < n; i++ {
			w.U[k][i] = make([]float64, n)
			w.V[k][i] = make([]float64, n)
			for j := 0; j < n; j++ {
				w.U[k][i][j] = spec.U
				w.V[k][i][j] = spec.V
			}
			if spec.Masked {
				w.Mask[k][i] = make([]bool, n)
				for j := range w.Mask[k][i] {
					w.Mask[k][i][j] = true
				}
			}
		}
	}
	return w
}
