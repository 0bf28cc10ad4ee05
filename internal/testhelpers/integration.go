//go:build integration
// +build integration

package testhelpers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wrightni/azure-buoy-tracking/internal/models"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
	// LiveBuoyID names a catalog buoy to fetch from its real upstream.
	LiveBuoyID string
}

// GetIntegrationConfig loads integration test configuration from environment.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
		LiveBuoyID:    os.Getenv("INTEGRATION_LIVE_BUOY"),
	}
}

// RequireLive skips the test unless a live buoy id is configured.
func RequireLive(t *testing.T, cfg IntegrationTestConfig) {
	t.Helper()
	if cfg.LiveBuoyID == "" {
		t.Skip("INTEGRATION_LIVE_BUOY not set, skipping live upstream test")
	}
}

// TelemetryServer serves one CSV file per buoy at /<id>.csv with HEAD and
// byte-range support, counting GET requests per path.
type TelemetryServer struct {
	*httptest.Server

	mu     sync.Mutex
	files  map[string][]byte
	gets   map[string]int
	modded time.Time
}

// NewTelemetryServer starts a server publishing tracks rendered with CSV.
// The server is closed when the test ends.
func NewTelemetryServer(t *testing.T, tracks map[string]models.DriftTrack) *TelemetryServer {
	t.Helper()
	ts := &TelemetryServer{
		files:  make(map[string][]byte, len(tracks)),
		gets:   make(map[string]int),
		modded: time.Now(),
	}
	for id, track := range tracks {
		ts.files[id] = CSV(track)
	}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.serve))
	t.Cleanup(ts.Close)
	return ts
}

// FileURL returns the file URL for id.
func (ts *TelemetryServer) FileURL(id string) string {
	return ts.Server.URL + "/" + id + ".csv"
}

// Gets returns how many GET requests reached id's file.
func (ts *TelemetryServer) Gets(id string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.gets[id]
}

func (ts *TelemetryServer) serve(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".csv")
	ts.mu.Lock()
	data, ok := ts.files[id]
	if ok && r.Method == http.MethodGet {
		ts.gets[id]++
	}
	ts.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, id+".csv", ts.modded, bytes.NewReader(data))
}
