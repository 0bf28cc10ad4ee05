package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wrightni/azure-buoy-tracking/internal/models"
)

var catalogValidate = validator.New()

// BuoyEntry is one row of config/buoys.yaml.
type BuoyEntry struct {
	ID             string `yaml:"id" validate:"required"`
	Protocol       string `yaml:"protocol" validate:"required,oneof=ranged_http ftp vendor_api"`
	URL            string `yaml:"url" validate:"required,url"`
	DeviceID       string `yaml:"device_id" validate:"required_if=Protocol vendor_api"`
	Provider       string `yaml:"provider" validate:"required_if=Protocol vendor_api"`
	Format         string `yaml:"format" validate:"required"`
	UpdateInterval string `yaml:"update_interval"`
}

// FormatEntry is one row of config/formats.yaml.
type FormatEntry struct {
	ID           string `yaml:"id" validate:"required"`
	Delimiter    string `yaml:"delimiter"`
	TimeColumn   int    `yaml:"time_column" validate:"min=0"`
	LatColumn    int    `yaml:"lat_column" validate:"min=0"`
	LonColumn    int    `yaml:"lon_column" validate:"min=0"`
	YearColumn   *int   `yaml:"year_column" validate:"required_if=Encoding decimal_doy,omitempty,min=0"`
	Encoding     string `yaml:"encoding" validate:"required,oneof=spreadsheet_serial decimal_doy iso8601"`
	UTCOffset    string `yaml:"utc_offset"`
	BytesPerLine int    `yaml:"bytes_per_line" validate:"min=0"`
}

type buoyCatalogFile struct {
	Buoys []BuoyEntry `yaml:"buoys"`
}

type formatCatalogFile struct {
	Formats []FormatEntry `yaml:"formats"`
}

// Catalog is the read-only mapping from source id to descriptor and from
// format id to parser format.
type Catalog struct {
	Buoys   map[string]models.SourceDescriptor
	Formats map[string]models.ParserFormat
	// Order lists buoy ids in catalog order.
	Order []string
}

// Lookup returns the descriptor for id and its parser format. ok is false
// when either is missing.
func (c *Catalog) Lookup(id string) (models.SourceDescriptor, models.ParserFormat, bool) {
	if c == nil {
		return models.SourceDescriptor{}, models.ParserFormat{}, false
	}
	desc, ok := c.Buoys[id]
	if !ok {
		return models.SourceDescriptor{}, models.ParserFormat{}, false
	}
	format, ok := c.Formats[desc.FormatID]
	return desc, format, ok
}

// LoadCatalogs reads and validates the buoy and format catalogs.
func LoadCatalogs(buoysPath, formatsPath string) (*Catalog, error) {
	var fb formatCatalogFile
	if err := readYAML(formatsPath, &fb); err != nil {
		return nil, fmt.Errorf("format catalog: %w", err)
	}
	var bb buoyCatalogFile
	if err := readYAML(buoysPath, &bb); err != nil {
		return nil, fmt.Errorf("buoy catalog: %w", err)
	}
	return BuildCatalog(bb.Buoys, fb.Formats)
}

// BuildCatalog validates catalog entries and converts them to model values.
func BuildCatalog(buoys []BuoyEntry, formats []FormatEntry) (*Catalog, error) {
	cat := &Catalog{
		Buoys:   make(map[string]models.SourceDescriptor, len(buoys)),
		Formats: make(map[string]models.ParserFormat, len(formats)),
	}
	for i, fe := range formats {
		pf, err := fe.toModel()
		if err != nil {
			return nil, fmt.Errorf("formats[%d]: %w", i, err)
		}
		if _, dup := cat.Formats[pf.ID]; dup {
			return nil, fmt.Errorf("formats[%d]: duplicate id %q", i, pf.ID)
		}
		cat.Formats[pf.ID] = pf
	}
	for i, be := range buoys {
		desc, err := be.toModel()
		if err != nil {
			return nil, fmt.Errorf("buoys[%d]: %w", i, err)
		}
		if _, dup := cat.Buoys[desc.ID]; dup {
			return nil, fmt.Errorf("buoys[%d]: duplicate id %q", i, desc.ID)
		}
		if _, ok := cat.Formats[desc.FormatID]; !ok {
			return nil, fmt.Errorf("buoys[%d]: unknown format %q", i, desc.FormatID)
		}
		cat.Buoys[desc.ID] = desc
		cat.Order = append(cat.Order, desc.ID)
	}
	return cat, nil
}

func (e BuoyEntry) toModel() (models.SourceDescriptor, error) {
	if err := catalogValidate.Struct(e); err != nil {
		return models.SourceDescriptor{}, err
	}
	desc := models.SourceDescriptor{
		ID:       strings.TrimSpace(e.ID),
		FormatID: e.Format,
	}
	if e.UpdateInterval != "" {
		d, err := time.ParseDuration(e.UpdateInterval)
		if err != nil || d <= 0 {
			return desc, fmt.Errorf("update_interval %q must be a positive duration", e.UpdateInterval)
		}
		desc.UpdateInterval = d
	}
	switch e.Protocol {
	case "ranged_http":
		desc.Source = models.RangedHTTPSource{URL: e.URL}
	case "ftp":
		u, err := url.Parse(e.URL)
		if err != nil || u.Scheme != "ftp" || u.Host == "" {
			return desc, fmt.Errorf("ftp source url %q must be ftp://host/path", e.URL)
		}
		desc.Source = models.FTPSource{Host: u.Host, Path: u.Path}
	case "vendor_api":
		desc.Source = models.VendorAPISource{URL: e.URL, DeviceID: e.DeviceID, Provider: e.Provider}
	}
	return desc, nil
}

func (e FormatEntry) toModel() (models.ParserFormat, error) {
	if err := catalogValidate.Struct(e); err != nil {
		return models.ParserFormat{}, err
	}
	pf := models.ParserFormat{
		ID:           e.ID,
		Delimiter:    e.Delimiter,
		TimeColumn:   e.TimeColumn,
		LatColumn:    e.LatColumn,
		LonColumn:    e.LonColumn,
		BytesPerLine: e.BytesPerLine,
	}
	switch e.Encoding {
	case "spreadsheet_serial":
		var offset time.Duration
		if e.UTCOffset != "" {
			d, err := time.ParseDuration(e.UTCOffset)
			if err != nil {
				return pf, fmt.Errorf("utc_offset %q: %w", e.UTCOffset, err)
			}
			offset = d
		}
		pf.Encoding = models.SpreadsheetSerial{UTCOffset: offset}
	case "decimal_doy":
		pf.Encoding = models.DecimalDayOfYear{YearColumn: *e.YearColumn}
	case "iso8601":
		pf.Encoding = models.ISO8601{}
	}
	return pf, nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
