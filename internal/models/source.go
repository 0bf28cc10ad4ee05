package models

import "time"

// Source is the closed set of telemetry transports. Implementations are
// RangedHTTPSource, FTPSource and VendorAPISource; callers dispatch with a
// type switch.
type Source interface {
	protocol() string
}

// RangedHTTPSource is a plain text file served over HTTP(S) that supports
// byte-range requests.
type RangedHTTPSource struct {
	URL string
}

// FTPSource is a text file on an anonymous FTP server.
type FTPSource struct {
	Host string // host[:port]
	Path string
}

// VendorAPISource is a vendor REST endpoint keyed by device id. Provider
// names the credential used to authenticate.
type VendorAPISource struct {
	URL      string
	DeviceID string
	Provider string
}

func (RangedHTTPSource) protocol() string { return "ranged_http" }
func (FTPSource) protocol() string        { return "ftp" }
func (VendorAPISource) protocol() string  { return "vendor_api" }

// ProtocolName returns the stable label for a source, used in logs and metrics.
func ProtocolName(s Source) string {
	if s == nil {
		return "unknown"
	}
	return s.protocol()
}

// SourceDescriptor describes where and how to read one buoy.
type SourceDescriptor struct {
	ID             string
	Source         Source
	FormatID       string
	UpdateInterval time.Duration // zero when unknown
}

// TimestampEncoding is the closed set of time column encodings:
// SpreadsheetSerial, DecimalDayOfYear and ISO8601.
type TimestampEncoding interface {
	encoding() string
}

// SpreadsheetSerial is days since 1899-12-30 with fractional days as time of
// day. UTCOffset is added to convert the logger's local clock to UTC.
type SpreadsheetSerial struct {
	UTCOffset time.Duration
}

// DecimalDayOfYear is a fractional day offset from December 31 of the
// previous year, with the year read from YearColumn.
type DecimalDayOfYear struct {
	YearColumn int
}

// ISO8601 is a literal date-time string.
type ISO8601 struct{}

func (SpreadsheetSerial) encoding() string { return "spreadsheet_serial" }
func (DecimalDayOfYear) encoding() string  { return "decimal_doy" }
func (ISO8601) encoding() string           { return "iso8601" }

// EncodingName returns the stable label for an encoding.
func EncodingName(e TimestampEncoding) string {
	if e == nil {
		return "unknown"
	}
	return e.encoding()
}

// ParserFormat describes the column layout of a telemetry text format.
// An empty Delimiter splits on runs of whitespace.
type ParserFormat struct {
	ID           string
	Delimiter    string
	TimeColumn   int
	LatColumn    int
	LonColumn    int
	Encoding     TimestampEncoding
	BytesPerLine int
}
