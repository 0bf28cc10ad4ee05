package models

import "time"

// ForecastMethod tags which forecaster produced a track.
type ForecastMethod string

const (
	MethodSimple   ForecastMethod = "simple"
	MethodAdvanced ForecastMethod = "advanced"
)

// ForecastPoint is one forecast position.
type ForecastPoint struct {
	Time time.Time `json:"timestamp"`
	Lat  float64   `json:"latitude"`
	Lon  float64   `json:"longitude"`
}

// ForecastTrack is the output of a forecaster. Degraded is set when the
// advanced forecaster fell back to the last known position.
type ForecastTrack struct {
	Method   ForecastMethod  `json:"method"`
	Degraded bool            `json:"degraded,omitempty"`
	Points   []ForecastPoint `json:"points"`
}

// Final returns the last forecast position. ok is false for an empty track.
func (f ForecastTrack) Final() (ForecastPoint, bool) {
	if len(f.Points) == 0 {
		return ForecastPoint{}, false
	}
	return f.Points[len(f.Points)-1], true
}
