package trackparse

import (
	"strings"
	"testing"
	"time"

	"github.com/wrightni/azure-buoy-tracking/internal/models"
)

func payload(order models.PayloadOrder, lines ...string) models.RawPayload {
	return models.RawPayload{Data: []byte(strings.Join(lines, "\n")), Order: order}
}

var csvISO = models.ParserFormat{ID: "iso", Delimiter: ",", TimeColumn: 0, LatColumn: 1, LonColumn: 2, Encoding: models.ISO8601{}}

// TestParse_SkipsFirstLine verifies the leading (possibly partial) line is
// always discarded, even when it is well formed.
func TestParse_SkipsFirstLine(t *testing.T) {
	got := Parse(payload(models.OldestFirst,
		"2024-01-01T00:00:00,80.0,-150.0",
		"2024-01-01T01:00:00,80.1,-150.1",
	), csvISO)
	if len(got) != 1 {
		t.Fatalf("len(track) = %d, want 1", len(got))
	}
	if got[0].Lat != 80.1 {
		t.Errorf("Lat = %v, want 80.1", got[0].Lat)
	}
}

// TestParse_DuplicateTimestampKeepsFirst verifies that repeated timestamps
// keep the first occurrence.
func TestParse_DuplicateTimestampKeepsFirst(t *testing.T) {
	got, stats := ParseWithStats(payload(models.OldestFirst,
		"header",
		"2024-01-01T00:00:00,80.0,-150.0",
		"2024-01-01T00:00:00,81.0,-151.0",
		"2024-01-01T01:00:00,80.2,-150.2",
	), csvISO)
	if len(got) != 2 {
		t.Fatalf("len(track) = %d, want 2", len(got))
	}
	if got[0].Lat != 80.0 {
		t.Errorf("kept Lat = %v, want first occurrence 80.0", got[0].Lat)
	}
	if stats.Skipped[ReasonDuplicate] != 1 {
		t.Errorf("duplicates = %d, want 1", stats.Skipped[ReasonDuplicate])
	}
}

// TestParse_NewestFirstIsReversed verifies vendor-ordered payloads come out ascending.
func TestParse_NewestFirstIsReversed(t *testing.T) {
	format := models.ParserFormat{Delimiter: ",", TimeColumn: 0, LatColumn: 1, LonColumn: 2, Encoding: models.ISO8601{}}
	got := Parse(payload(models.NewestFirst,
		"DeviceDateTime,Latitude,Longitude",
		"2024-03-10:12:00:00,75.3,-140.3",
		"2024-03-10:11:00:00,75.2,-140.2",
		"2024-03-10:10:00:00,75.1,-140.1",
	), format)
	if len(got) != 3 {
		t.Fatalf("len(track) = %d, want 3", len(got))
	}
	if !got.Ascending() {
		t.Errorf("track not ascending: %v", got)
	}
	if want := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC); !got[0].Time.Equal(want) {
		t.Errorf("first time = %v, want %v", got[0].Time, want)
	}
}

// TestParse_MalformedLinesSkipped verifies that bad rows never fail the parse.
func TestParse_MalformedLinesSkipped(t *testing.T) {
	got, stats := ParseWithStats(payload(models.OldestFirst,
		"partial",
		"2024-01-01T00:00:00,80.0",
		"not-a-time,80.0,-150.0",
		"2024-01-01T01:00:00,north,-150.0",
		"",
		"2024-01-01T02:00:00,80.2,-150.2",
	), csvISO)
	if len(got) != 1 {
		t.Fatalf("len(track) = %d, want 1", len(got))
	}
	want := map[string]int{ReasonShortRow: 1, ReasonBadTimestamp: 1, ReasonBadCoordinate: 1}
	for reason, n := range want {
		if stats.Skipped[reason] != n {
			t.Errorf("Skipped[%s] = %d, want %d", reason, stats.Skipped[reason], n)
		}
	}
}

// TestParse_UnparsablePayloadIsEmpty verifies garbage yields an empty track.
func TestParse_UnparsablePayloadIsEmpty(t *testing.T) {
	got := Parse(payload(models.OldestFirst, "<html>", "<body>503</body>", "</html>"), csvISO)
	if len(got) != 0 {
		t.Errorf("len(track) = %d, want 0", len(got))
	}
	if got := Parse(models.RawPayload{}, csvISO); got == nil || len(got) != 0 {
		t.Errorf("Parse(empty) = %v, want empty non-nil track", got)
	}
}

func TestParse_Encodings(t *testing.T) {
	tests := []struct {
		name   string
		format models.ParserFormat
		line   string
		want   time.Time
	}{
		{
			name:   "spreadsheet serial with offset",
			format: models.ParserFormat{Delimiter: ",", TimeColumn: 0, LatColumn: 1, LonColumn: 2, Encoding: models.SpreadsheetSerial{UTCOffset: 5 * time.Hour}},
			line:   "43831.5,80,-150",
			want:   time.Date(2020, 1, 1, 17, 0, 0, 0, time.UTC),
		},
		{
			name:   "spreadsheet serial fractional minutes",
			format: models.ParserFormat{Delimiter: ",", TimeColumn: 0, LatColumn: 1, LonColumn: 2, Encoding: models.SpreadsheetSerial{}},
			line:   "43831.0104166667,80,-150",
			want:   time.Date(2020, 1, 1, 0, 15, 0, 0, time.UTC),
		},
		{
			name:   "decimal day of year",
			format: models.ParserFormat{TimeColumn: 1, LatColumn: 2, LonColumn: 3, Encoding: models.DecimalDayOfYear{YearColumn: 0}},
			line:   "2019   32.25   78.5   -120.25",
			want:   time.Date(2019, 2, 1, 6, 0, 0, 0, time.UTC),
		},
		{
			name:   "iso with zone",
			format: csvISO,
			line:   "2024-01-01T02:00:00+02:00,80,-150",
			want:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "iso with space",
			format: csvISO,
			line:   `"2024-01-01 06:30:00",80,-150`,
			want:   time.Date(2024, 1, 1, 6, 30, 0, 0, time.UTC),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(payload(models.OldestFirst, "skip", tc.line), tc.format)
			if len(got) != 1 {
				t.Fatalf("len(track) = %d, want 1", len(got))
			}
			if diff := got[0].Time.Sub(tc.want); diff < -time.Millisecond || diff > time.Millisecond {
				t.Errorf("Time = %v, want %v", got[0].Time, tc.want)
			}
		})
	}
}

// TestParse_DecimalDayOfYearMissingYear verifies the year column is bounds-checked.
func TestParse_DecimalDayOfYearMissingYear(t *testing.T) {
	format := models.ParserFormat{TimeColumn: 0, LatColumn: 1, LonColumn: 2, Encoding: models.DecimalDayOfYear{YearColumn: 5}}
	_, stats := ParseWithStats(payload(models.OldestFirst, "skip", "32.25 78.5 -120.25"), format)
	if stats.Skipped[ReasonBadTimestamp] != 1 {
		t.Errorf("Skipped[bad_timestamp] = %d, want 1", stats.Skipped[ReasonBadTimestamp])
	}
}

// TestParse_OutOfRangeValuesSkipped verifies non-finite or absurd day counts
// and coordinates are skipped rather than decoded.
func TestParse_OutOfRangeValuesSkipped(t *testing.T) {
	serial := models.ParserFormat{Delimiter: ",", TimeColumn: 0, LatColumn: 1, LonColumn: 2, Encoding: models.SpreadsheetSerial{}}
	dayOfYear := models.ParserFormat{Delimiter: ",", TimeColumn: 1, LatColumn: 2, LonColumn: 3, Encoding: models.DecimalDayOfYear{YearColumn: 0}}
	tests := []struct {
		name   string
		format models.ParserFormat
		bad    string
		good   []string
		reason string
	}{
		{"serial infinity", serial, "Inf,80.1,-150", []string{"45000.5,80,-150", "45001.5,80.3,-150"}, ReasonBadTimestamp},
		{"serial negative infinity", serial, "-Inf,80.1,-150", []string{"45000.5,80,-150", "45001.5,80.3,-150"}, ReasonBadTimestamp},
		{"serial NaN", serial, "NaN,80.1,-150", []string{"45000.5,80,-150", "45001.5,80.3,-150"}, ReasonBadTimestamp},
		{"serial huge", serial, "1e300,80.1,-150", []string{"45000.5,80,-150", "45001.5,80.3,-150"}, ReasonBadTimestamp},
		{"day of year infinity", dayOfYear, "2019,Inf,78.5,-120", []string{"2019,32.25,78.5,-120", "2019,33.25,78.6,-120"}, ReasonBadTimestamp},
		{"day of year huge", dayOfYear, "2019,1e300,78.5,-120", []string{"2019,32.25,78.5,-120", "2019,33.25,78.6,-120"}, ReasonBadTimestamp},
		{"longitude infinity", csvISO, "2024-01-01T00:30:00,80.1,Inf", []string{"2024-01-01T00:00:00,80,-150", "2024-01-01T01:00:00,80.3,-150"}, ReasonBadCoordinate},
		{"longitude out of range", csvISO, "2024-01-01T00:30:00,80.1,-500", []string{"2024-01-01T00:00:00,80,-150", "2024-01-01T01:00:00,80.3,-150"}, ReasonBadCoordinate},
		{"latitude infinity", csvISO, "2024-01-01T00:30:00,-Inf,-150", []string{"2024-01-01T00:00:00,80,-150", "2024-01-01T01:00:00,80.3,-150"}, ReasonBadCoordinate},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, stats := ParseWithStats(payload(models.OldestFirst, "partial", tc.bad, tc.good[0], tc.good[1]), tc.format)
			if len(got) != 2 {
				t.Fatalf("len(track) = %d, want 2: %v", len(got), got)
			}
			if stats.Skipped[tc.reason] != 1 {
				t.Errorf("Skipped[%s] = %d, want 1", tc.reason, stats.Skipped[tc.reason])
			}
			if got[0].Time.Year() < 2000 {
				t.Errorf("first time = %v, want a decoded row", got[0].Time)
			}
		})
	}
}

// TestParse_OutOfOrderRowsDropped verifies the result is strictly ascending.
func TestParse_OutOfOrderRowsDropped(t *testing.T) {
	got, stats := ParseWithStats(payload(models.OldestFirst,
		"skip",
		"2024-01-01T00:00:00,80.0,-150.0",
		"2024-01-01T02:00:00,80.2,-150.2",
		"2024-01-01T01:00:00,80.1,-150.1",
		"2024-01-01T03:00:00,80.3,-150.3",
	), csvISO)
	if len(got) != 3 || !got.Ascending() {
		t.Errorf("track = %v, want 3 ascending points", got)
	}
	if stats.Skipped[ReasonOutOfOrder] != 1 {
		t.Errorf("Skipped[out_of_order] = %d, want 1", stats.Skipped[ReasonOutOfOrder])
	}
}

func TestParse_CRLF(t *testing.T) {
	got := Parse(models.RawPayload{Data: []byte("x\r\n2024-01-01T00:00:00,80,-150\r\n2024-01-01T01:00:00,80,-150\r\n")}, csvISO)
	if len(got) != 2 {
		t.Errorf("len(track) = %d, want 2", len(got))
	}
}
