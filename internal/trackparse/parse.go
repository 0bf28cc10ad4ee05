// Package trackparse decodes raw telemetry text into normalized drift tracks.
// Malformed lines are skipped and counted; parsing never fails.
package trackparse

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/wrightni/azure-buoy-tracking/internal/models"
	"github.com/wrightni/azure-buoy-tracking/internal/observability"
)

// Skip reasons, used as metric labels.
const (
	ReasonShortRow      = "short_row"
	ReasonBadTimestamp  = "bad_timestamp"
	ReasonBadCoordinate = "bad_coordinate"
	ReasonDuplicate     = "duplicate"
	ReasonOutOfOrder    = "out_of_order"
)

var spreadsheetEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// maxSerialDays bounds day-count timestamps well inside time.Duration range.
const maxSerialDays = 1e6

// ISO layouts tried in order. Values without a zone are UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02:15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Stats summarizes one parse.
type Stats struct {
	Lines    int
	Accepted int
	Skipped  map[string]int
}

// Parse decodes payload according to format. See ParseWithStats.
func Parse(payload models.RawPayload, format models.ParserFormat) models.DriftTrack {
	track, _ := ParseWithStats(payload, format)
	return track
}

// ParseWithStats decodes payload and reports how many lines were skipped and why.
//
// The first line is always discarded since a ranged read usually starts mid-line.
// Rows repeating the previous accepted timestamp are dropped. Newest-first
// payloads are reversed, and any row that would break strict ordering is dropped.
func ParseWithStats(payload models.RawPayload, format models.ParserFormat) (models.DriftTrack, Stats) {
	stats := Stats{Skipped: make(map[string]int)}
	if payload.Empty() {
		return models.DriftTrack{}, stats
	}

	lines := strings.Split(strings.ReplaceAll(string(payload.Data), "\r\n", "\n"), "\n")
	lines = lines[1:]

	points := make(models.DriftTrack, 0, len(lines))
	var prev time.Time
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		stats.Lines++
		p, reason := decodeLine(line, format)
		if reason != "" {
			stats.Skipped[reason]++
			continue
		}
		if len(points) > 0 && p.Time.Equal(prev) {
			stats.Skipped[ReasonDuplicate]++
			continue
		}
		points = append(points, p)
		prev = p.Time
	}

	if payload.Order == models.NewestFirst {
		for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
			points[i], points[j] = points[j], points[i]
		}
	}

	track := points[:0]
	for _, p := range points {
		if len(track) > 0 && !p.Time.After(track[len(track)-1].Time) {
			stats.Skipped[ReasonOutOfOrder]++
			continue
		}
		track = append(track, p)
	}
	stats.Accepted = len(track)

	for reason, n := range stats.Skipped {
		observability.ParseSkippedLinesTotal.WithLabelValues(reason).Add(float64(n))
	}
	observability.ParsedPointsTotal.Add(float64(stats.Accepted))
	return track, stats
}

func decodeLine(line string, format models.ParserFormat) (models.DriftPoint, string) {
	fields := splitFields(line, format.Delimiter)
	if len(fields) < 3 {
		return models.DriftPoint{}, ReasonShortRow
	}
	if !inRange(fields, format.TimeColumn, format.LatColumn, format.LonColumn) {
		return models.DriftPoint{}, ReasonShortRow
	}

	ts, err := decodeTime(fields, format)
	if err != nil {
		return models.DriftPoint{}, ReasonBadTimestamp
	}
	lat, err1 := strconv.ParseFloat(fields[format.LatColumn], 64)
	lon, err2 := strconv.ParseFloat(fields[format.LonColumn], 64)
	if err1 != nil || err2 != nil || math.IsNaN(lat) || math.IsNaN(lon) ||
		math.Abs(lat) > 90 || lon < -180 || lon > 360 {
		return models.DriftPoint{}, ReasonBadCoordinate
	}
	return models.DriftPoint{Time: ts, Lat: lat, Lon: lon}, ""
}

func splitFields(line, delimiter string) []string {
	var fields []string
	if delimiter == "" {
		fields = strings.Fields(line)
	} else {
		fields = strings.Split(line, delimiter)
	}
	for i, f := range fields {
		fields[i] = strings.Trim(strings.TrimSpace(f), `"`)
	}
	return fields
}

func inRange(fields []string, cols ...int) bool {
	for _, c := range cols {
		if c < 0 || c >= len(fields) {
			return false
		}
	}
	return true
}

func decodeTime(fields []string, format models.ParserFormat) (time.Time, error) {
	raw := fields[format.TimeColumn]
	switch enc := format.Encoding.(type) {
	case models.SpreadsheetSerial:
		days, err := parseDays(raw)
		if err != nil {
			return time.Time{}, err
		}
		return spreadsheetEpoch.Add(fractionalDays(days)).Add(enc.UTCOffset), nil
	case models.DecimalDayOfYear:
		if !inRange(fields, enc.YearColumn) {
			return time.Time{}, fmt.Errorf("year column %d out of range", enc.YearColumn)
		}
		days, err := parseDays(raw)
		if err != nil {
			return time.Time{}, err
		}
		year, err := strconv.Atoi(fields[enc.YearColumn])
		if err != nil {
			return time.Time{}, err
		}
		base := time.Date(year-1, 12, 31, 0, 0, 0, 0, time.UTC)
		return base.Add(fractionalDays(days)), nil
	case models.ISO8601:
		return parseISO(raw)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp encoding %q", models.EncodingName(format.Encoding))
	}
}

// parseDays reads a finite day count no larger than maxSerialDays.
func parseDays(raw string) (float64, error) {
	days, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(days) || math.Abs(days) > maxSerialDays {
		return 0, fmt.Errorf("day count %q out of range", raw)
	}
	return days, nil
}

// fractionalDays converts a day count to a duration rounded to the microsecond.
func fractionalDays(days float64) time.Duration {
	return time.Duration(math.Round(days*86400e6)) * time.Microsecond
}

func parseISO(raw string) (time.Time, error) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized ISO 8601 timestamp %q", raw)
}
