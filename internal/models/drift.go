package models

import (
	"sort"
	"time"
)

// DriftPoint is a single observed buoy position.
type DriftPoint struct {
	Time time.Time `json:"timestamp"`
	Lat  float64   `json:"latitude"`
	Lon  float64   `json:"longitude"`
}

// DriftTrack is a chronologically ordered list of observations for one buoy.
// Timestamps are strictly increasing; tracks are never mutated after creation.
type DriftTrack []DriftPoint

// Last returns the most recent observation. ok is false for an empty track.
func (t DriftTrack) Last() (DriftPoint, bool) {
	if len(t) == 0 {
		return DriftPoint{}, false
	}
	return t[len(t)-1], true
}

// Ascending reports whether every timestamp is strictly after the previous one.
func (t DriftTrack) Ascending() bool {
	for i := 1; i < len(t); i++ {
		if !t[i].Time.After(t[i-1].Time) {
			return false
		}
	}
	return true
}

// PositionAt linearly interpolates the buoy position at ts from the observations
// immediately before and after it. ok is false when ts lies outside the track.
func (t DriftTrack) PositionAt(ts time.Time) (lat, lon float64, ok bool) {
	if len(t) == 0 || ts.Before(t[0].Time) || ts.After(t[len(t)-1].Time) {
		return 0, 0, false
	}
	i := sort.Search(len(t), func(i int) bool { return !t[i].Time.Before(ts) })
	if t[i].Time.Equal(ts) {
		return t[i].Lat, t[i].Lon, true
	}
	before, after := t[i-1], t[i]
	span := after.Time.Sub(before.Time).Seconds()
	w := ts.Sub(before.Time).Seconds() / span
	return before.Lat + (after.Lat-before.Lat)*w, before.Lon + (after.Lon-before.Lon)*w, true
}

// PayloadOrder describes the row order a source delivers.
type PayloadOrder int

const (
	OldestFirst PayloadOrder = iota
	NewestFirst
)

// RawPayload is the undecoded text returned by a source.
type RawPayload struct {
	Data  []byte
	Order PayloadOrder
}

// Empty reports whether the payload carries no data (e.g. a retired sensor).
func (p RawPayload) Empty() bool {
	return len(p.Data) == 0
}
