package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/wrightni/azure-buoy-tracking/internal/models"
	"github.com/wrightni/azure-buoy-tracking/internal/observability"
)

const (
	vendorDateFormat  = "yyyy-MM-dd:HH:mm:ss"
	vendorStartLayout = "01-02-2006 15:04"
	minVendorWindow   = 2 * time.Hour
)

var vendorFields = []string{"DeviceDateTime", "Latitude", "Longitude"}

// fetchRangedHTTP reads the tail of a text file. With count > 0 it probes the
// size with HEAD and requests the last bytesPerLine*count bytes.
func (f *Fetcher) fetchRangedHTTP(ctx context.Context, src models.RangedHTTPSource, bytesPerLine, count int) (models.RawPayload, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.HTTPTimeout)
	defer cancel()

	if err := f.wait(reqCtx, hostOf(src.URL)); err != nil {
		return models.RawPayload{}, err
	}

	rangeHeader := ""
	if count > 0 && bytesPerLine > 0 {
		size, err := f.contentLength(reqCtx, src.URL)
		if err != nil {
			return models.RawPayload{}, err
		}
		if size == 0 {
			return models.RawPayload{Order: models.OldestFirst}, nil
		}
		if size > 0 {
			offset := size - int64(bytesPerLine)*int64(count)
			if offset < 0 {
				offset = 0
			}
			rangeHeader = fmt.Sprintf("bytes=%d-", offset)
		}
	}

	req, err := f.newRequest(reqCtx, http.MethodGet, src.URL)
	if err != nil {
		return models.RawPayload{}, err
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	body, err := f.do(req, http.StatusOK, http.StatusPartialContent)
	if err != nil {
		return models.RawPayload{}, err
	}
	return models.RawPayload{Data: body, Order: models.OldestFirst}, nil
}

// contentLength returns the resource size, or -1 when the server does not report it.
func (f *Fetcher) contentLength(ctx context.Context, rawURL string) (int64, error) {
	req, err := f.newRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		return 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, wrapRequestErr(err)
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return 0, err
	}
	return resp.ContentLength, nil
}

// fetchVendor queries the vendor REST endpoint. With count > 0 the query is
// bounded by a start date count update intervals back, at least two hours.
func (f *Fetcher) fetchVendor(ctx context.Context, src models.VendorAPISource, updateInterval time.Duration, count int) (models.RawPayload, error) {
	if f.keys == nil {
		return models.RawPayload{}, fmt.Errorf("%w for provider %q", ErrMissingAPIKey, src.Provider)
	}
	key, ok := f.keys.VendorKey(src.Provider)
	if !ok {
		return models.RawPayload{}, fmt.Errorf("%w for provider %q", ErrMissingAPIKey, src.Provider)
	}

	base, err := url.Parse(src.URL)
	if err != nil {
		return models.RawPayload{}, fmt.Errorf("invalid vendor URL: %w", err)
	}
	params := url.Values{}
	params.Set("apiKey", key)
	params.Set("commIDs", src.DeviceID)
	for _, field := range vendorFields {
		params.Add("fieldList", field)
	}
	params.Set("dateFormat", vendorDateFormat)
	if count > 0 {
		params.Set("startDate", f.vendorStart(updateInterval, count).Format(vendorStartLayout))
	}
	base.RawQuery = params.Encode()

	var body []byte
	err = f.vendorBreaker.Call(ctx, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, f.cfg.VendorTimeout)
		defer cancel()
		if err := f.wait(reqCtx, base.Host); err != nil {
			return err
		}
		req, err := f.newRequest(reqCtx, http.MethodGet, base.String())
		if err != nil {
			return err
		}
		body, err = f.do(req, http.StatusOK)
		return err
	})
	if err != nil {
		return models.RawPayload{}, err
	}
	return models.RawPayload{Data: body, Order: models.NewestFirst}, nil
}

func (f *Fetcher) vendorStart(updateInterval time.Duration, count int) time.Time {
	if updateInterval <= 0 {
		updateInterval = f.cfg.DefaultUpdateInterval
	}
	perHour := 60 / updateInterval.Minutes()
	hours := time.Duration(float64(count)/perHour) * time.Hour
	if hours < minVendorWindow {
		hours = minVendorWindow
	}
	return f.clock.Now().UTC().Add(-hours)
}

func (f *Fetcher) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func (f *Fetcher) do(req *http.Request, accept ...int) ([]byte, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, wrapRequestErr(err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, err
	}
	ok := false
	for _, code := range accept {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: unexpected HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func wrapRequestErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("request timeout: %w", err)
	}
	return fmt.Errorf("http request failed: %w", err)
}

func statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}
