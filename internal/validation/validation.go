// Package validation checks request inputs for the track and forecast endpoints.
package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/wrightni/azure-buoy-tracking/internal/models"
)

var validate = validator.New()

var (
	// ErrSourceIDEmpty is returned when the id is empty or whitespace-only after trim.
	ErrSourceIDEmpty = errors.New("source id is required")

	ErrSourceIDTooLong = errors.New("source id too long")

	ErrSourceIDInvalidChars = errors.New("source id contains invalid characters")

	ErrCountInvalid = errors.New("count must be a non-negative integer or \"all\"")

	ErrLeadInvalid = errors.New("lead must be a positive duration or number of hours")

	// ErrLeadOutOfRange is returned when lead exceeds the configured maximum horizon.
	ErrLeadOutOfRange = errors.New("lead exceeds the maximum forecast horizon")

	ErrMethodInvalid = errors.New("method must be simple or advanced")

	ErrBoolInvalid = errors.New("flag must be true or false")
)

// ValidateSourceID trims the input and restricts it to letters, digits,
// hyphen, underscore and dot, at most maxLen characters.
func ValidateSourceID(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrSourceIDEmpty
	}
	if maxLen > 0 {
		if err := validate.Var(s, "max="+strconv.Itoa(maxLen)); err != nil {
			return "", ErrSourceIDTooLong
		}
	}
	for _, c := range s {
		if !isAllowedIDRune(c) {
			return "", ErrSourceIDInvalidChars
		}
	}
	return s, nil
}

func isAllowedIDRune(r rune) bool {
	if r > unicode.MaxASCII {
		return false
	}
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '-', '_', '.':
		return true
	}
	return false
}

// ParseCount reads the n query parameter. Empty returns def; "all" or "0"
// returns 0 (whole record); values above max are capped.
func ParseCount(raw string, def, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "":
		return def, nil
	case "all", "0":
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, ErrCountInvalid
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

// ParseLead reads the lead query parameter as a Go duration ("36h", "90m")
// or a bare number of hours ("24", "1.5"). Empty returns def.
func ParseLead(raw string, def, max time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	lead, err := time.ParseDuration(raw)
	if err != nil {
		hours, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return 0, fmt.Errorf("%w: %q", ErrLeadInvalid, raw)
		}
		lead = time.Duration(hours * float64(time.Hour))
	}
	if lead <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrLeadInvalid, raw)
	}
	if max > 0 && lead > max {
		return 0, fmt.Errorf("%w (%s)", ErrLeadOutOfRange, max)
	}
	return lead, nil
}

// ParseMethod accepts simple/advanced and their one-letter forms. Empty means simple.
func ParseMethod(raw string) (models.ForecastMethod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "s", "simple":
		return models.MethodSimple, nil
	case "a", "advanced":
		return models.MethodAdvanced, nil
	}
	return "", ErrMethodInvalid
}

// ParseBool reads an optional boolean flag. Empty returns def.
func ParseBool(raw string, def bool) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, ErrBoolInvalid
	}
	return b, nil
}
