package models

import "time"

// VelocityEpoch is the origin of the velocity-field time axis.
var VelocityEpoch = time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)

// HoursSinceEpoch converts t to the velocity-field time axis unit.
func HoursSinceEpoch(t time.Time) float64 {
	return t.Sub(VelocityEpoch).Hours()
}

// VelocityFieldWindow is a gridded, time-varying velocity field valid for
// [Start, End]. Arrays are indexed [time][row][col]; U and V are in m/s.
// A window is immutable once loaded.
type VelocityFieldWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Time []float64     `json:"time"` // hours since VelocityEpoch
	Lat  [][]float64   `json:"latitude"`
	Lon  [][]float64   `json:"longitude"`
	U    [][][]float64 `json:"u"`
	V    [][][]float64 `json:"v"`
	// Mask marks land or out-of-domain cells. Nil means nothing is masked.
	Mask [][][]bool `json:"mask,omitempty"`
}

// Covers reports whether the window is usable for [needStart, needEnd].
func (w *VelocityFieldWindow) Covers(needStart, needEnd time.Time) bool {
	return !w.Start.After(needStart) && !w.End.Before(needEnd)
}

// Masked reports whether cell (t, i, j) carries no valid velocity.
func (w *VelocityFieldWindow) Masked(t, i, j int) bool {
	if w.Mask == nil {
		return false
	}
	return w.Mask[t][i][j]
}

// Shape returns the (time, rows, cols) dimensions of the velocity arrays.
func (w *VelocityFieldWindow) Shape() (nt, rows, cols int) {
	nt = len(w.Time)
	rows = len(w.Lat)
	if rows > 0 {
		cols = len(w.Lat[0])
	}
	return nt, rows, cols
}
