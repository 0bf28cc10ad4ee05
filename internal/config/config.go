package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds engine configuration loaded from YAML and env.
type Config struct {
	Env string

	BuoyCatalogPath   string
	FormatCatalogPath string

	// Fetch
	HTTPTimeout         time.Duration
	FTPTimeout          time.Duration
	VendorTimeout       time.Duration
	RetryAttempts       int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	FetchRateLimitRPS   float64
	FetchRateLimitBurst int
	DefaultTrackCount   int

	// Forecast
	SimpleStep           time.Duration
	SimpleSampleStride   int
	RK4Step              time.Duration
	LocalGridBaseCells   int
	LocalGridCellsPerDay float64
	DefaultLead          time.Duration

	// Velocity cache
	VelocityCacheDir   string
	NeedBuffer         time.Duration
	AcquisitionPadding time.Duration
	AcquisitionTimeout time.Duration
	AcquisitionCommand []string
	DriftSpeedKmh      float64
	MinLatitude        float64
	MinHalfWidthDeg    float64

	// Track cache
	TrackCacheBackend     string // "in_memory" or "memcached"
	TrackCacheTTL         time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	WarmConcurrency       int

	// Server
	ServerPort       string
	RequestTimeout   time.Duration
	ForecastTimeout  time.Duration
	RateLimitRPS     int
	RateLimitBurst   int
	ShutdownTimeout  time.Duration
	HealthWindow     time.Duration
	DegradedErrorPct int

	// Circuit breaker
	CircuitBreakerEnabled bool
	FailureThreshold      int
	OpenTimeout           time.Duration
	HalfOpenMaxRequests   int

	Credentials Credentials
}

type fileConfig struct {
	Catalogs struct {
		Buoys   string `yaml:"buoys"`
		Formats string `yaml:"formats"`
	} `yaml:"catalogs"`

	Fetch struct {
		HTTPTimeout      string  `yaml:"http_timeout"`
		FTPTimeout       string  `yaml:"ftp_timeout"`
		VendorTimeout    string  `yaml:"vendor_timeout"`
		RetryMaxAttempts int     `yaml:"retry_max_attempts"`
		RetryBaseDelay   string  `yaml:"retry_base_delay"`
		RetryMaxDelay    string  `yaml:"retry_max_delay"`
		RateLimitRPS     float64 `yaml:"rate_limit_rps"`
		RateLimitBurst   int     `yaml:"rate_limit_burst"`
		DefaultCount     int     `yaml:"default_count"`
	} `yaml:"fetch"`

	Forecast struct {
		SimpleStep           string  `yaml:"simple_step"`
		SimpleSampleStride   int     `yaml:"simple_sample_stride"`
		RK4Step              string  `yaml:"rk4_step"`
		LocalGridBaseCells   int     `yaml:"local_grid_base_cells"`
		LocalGridCellsPerDay float64 `yaml:"local_grid_cells_per_day"`
		DefaultLead          string  `yaml:"default_lead"`
	} `yaml:"forecast"`

	VelocityCache struct {
		Dir                string   `yaml:"dir"`
		NeedBuffer         string   `yaml:"need_buffer"`
		AcquisitionPadding string   `yaml:"acquisition_padding"`
		AcquisitionTimeout string   `yaml:"acquisition_timeout"`
		Command            []string `yaml:"command"`
		DriftSpeedKmh      float64  `yaml:"drift_speed_kmh"`
		MinLatitude        *float64 `yaml:"min_latitude"`
		MinHalfWidthDeg    float64  `yaml:"min_half_width_deg"`
	} `yaml:"velocity_cache"`

	TrackCache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		WarmConcurrency int `yaml:"warm_concurrency"`
	} `yaml:"track_cache"`

	Server struct {
		Port             string `yaml:"port"`
		RequestTimeout   string `yaml:"request_timeout"`
		ForecastTimeout  string `yaml:"forecast_timeout"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		ShutdownTimeout  string `yaml:"shutdown_timeout"`
		HealthWindow     string `yaml:"health_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"server"`

	CircuitBreaker struct {
		Enabled             *bool  `yaml:"enabled"`
		FailureThreshold    int    `yaml:"failure_threshold"`
		OpenTimeout         string `yaml:"open_timeout"`
		HalfOpenMaxRequests int    `yaml:"half_open_max_requests"`
	} `yaml:"circuit_breaker"`
}

// Load reads configuration relative to the working directory. Call from
// project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom reads .env (optional), config/{ENV_NAME}.yaml (default dev) and
// credentials from env or config/secrets.yaml under root.
func LoadFrom(root string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(root, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{Env: env}

	cfg.BuoyCatalogPath = resolvePath(root, fc.Catalogs.Buoys, filepath.Join("config", "buoys.yaml"))
	cfg.FormatCatalogPath = resolvePath(root, fc.Catalogs.Formats, filepath.Join("config", "formats.yaml"))

	cfg.HTTPTimeout = parseDuration(fc.Fetch.HTTPTimeout, 10*time.Second)
	cfg.FTPTimeout = parseDuration(fc.Fetch.FTPTimeout, 30*time.Second)
	cfg.VendorTimeout = parseDuration(fc.Fetch.VendorTimeout, 10*time.Second)
	cfg.RetryAttempts = fc.Fetch.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Fetch.RetryBaseDelay, 200*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Fetch.RetryMaxDelay, 2*time.Second)
	cfg.FetchRateLimitRPS = fc.Fetch.RateLimitRPS
	if cfg.FetchRateLimitRPS <= 0 {
		cfg.FetchRateLimitRPS = 5
	}
	cfg.FetchRateLimitBurst = fc.Fetch.RateLimitBurst
	if cfg.FetchRateLimitBurst <= 0 {
		cfg.FetchRateLimitBurst = 10
	}
	cfg.DefaultTrackCount = fc.Fetch.DefaultCount
	if cfg.DefaultTrackCount <= 0 {
		cfg.DefaultTrackCount = 24
	}

	cfg.SimpleStep = parseDuration(fc.Forecast.SimpleStep, 15*time.Minute)
	cfg.SimpleSampleStride = fc.Forecast.SimpleSampleStride
	if cfg.SimpleSampleStride <= 0 {
		cfg.SimpleSampleStride = 4
	}
	cfg.RK4Step = parseDuration(fc.Forecast.RK4Step, 30*time.Minute)
	cfg.LocalGridBaseCells = fc.Forecast.LocalGridBaseCells
	if cfg.LocalGridBaseCells <= 0 {
		cfg.LocalGridBaseCells = 2
	}
	cfg.LocalGridCellsPerDay = fc.Forecast.LocalGridCellsPerDay
	if cfg.LocalGridCellsPerDay <= 0 {
		cfg.LocalGridCellsPerDay = 1
	}
	cfg.DefaultLead = parseDuration(fc.Forecast.DefaultLead, 24*time.Hour)

	cfg.VelocityCacheDir = resolvePath(root, fc.VelocityCache.Dir, "velocity_cache")
	cfg.NeedBuffer = parseDurationOrZero(fc.VelocityCache.NeedBuffer, 4*time.Hour)
	cfg.AcquisitionPadding = parseDurationOrZero(fc.VelocityCache.AcquisitionPadding, 24*time.Hour)
	cfg.AcquisitionTimeout = parseDuration(fc.VelocityCache.AcquisitionTimeout, 15*time.Minute)
	cfg.AcquisitionCommand = fc.VelocityCache.Command
	cfg.DriftSpeedKmh = fc.VelocityCache.DriftSpeedKmh
	if cfg.DriftSpeedKmh <= 0 {
		cfg.DriftSpeedKmh = 4
	}
	cfg.MinLatitude = 70
	if fc.VelocityCache.MinLatitude != nil {
		cfg.MinLatitude = *fc.VelocityCache.MinLatitude
	}
	cfg.MinHalfWidthDeg = fc.VelocityCache.MinHalfWidthDeg
	if cfg.MinHalfWidthDeg <= 0 {
		cfg.MinHalfWidthDeg = 0.5
	}

	cfg.TrackCacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.TrackCacheBackend == "" {
		cfg.TrackCacheBackend = strings.TrimSpace(strings.ToLower(fc.TrackCache.Backend))
	}
	if cfg.TrackCacheBackend == "" {
		cfg.TrackCacheBackend = "in_memory"
	}
	cfg.TrackCacheTTL = parseDuration(fc.TrackCache.TTL, 10*time.Minute)
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.TrackCache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.TrackCache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.TrackCache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.WarmConcurrency = fc.TrackCache.WarmConcurrency
	if cfg.WarmConcurrency <= 0 {
		cfg.WarmConcurrency = 4
	}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 30*time.Second)
	cfg.ForecastTimeout = parseDuration(fc.Server.ForecastTimeout, 20*time.Minute)
	cfg.RateLimitRPS = fc.Server.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Server.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	cfg.ShutdownTimeout = parseDuration(fc.Server.ShutdownTimeout, 30*time.Second)
	cfg.HealthWindow = parseDuration(fc.Server.HealthWindow, 5*time.Minute)
	cfg.DegradedErrorPct = fc.Server.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.CircuitBreakerEnabled = true
	if fc.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.CircuitBreaker.Enabled
	}
	cfg.FailureThreshold = fc.CircuitBreaker.FailureThreshold
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	cfg.OpenTimeout = parseDuration(fc.CircuitBreaker.OpenTimeout, 60*time.Second)
	cfg.HalfOpenMaxRequests = fc.CircuitBreaker.HalfOpenMaxRequests
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}

	creds, err := loadCredentials(root)
	if err != nil {
		return nil, err
	}
	cfg.Credentials = creds

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolvePath(root, p, def string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		p = def
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero is returned as-is so a window can be explicitly disabled.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	switch cfg.TrackCacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("track_cache.backend must be in_memory or memcached, got %q", cfg.TrackCacheBackend)
	}
	if cfg.NeedBuffer < 0 || cfg.AcquisitionPadding < 0 {
		return fmt.Errorf("velocity_cache: need_buffer and acquisition_padding must not be negative")
	}
	if cfg.RK4Step > 24*time.Hour {
		return fmt.Errorf("forecast.rk4_step must be at most 24h, got %s", cfg.RK4Step)
	}
	if cfg.RequestTimeout <= cfg.HTTPTimeout {
		cfg.RequestTimeout = cfg.HTTPTimeout + time.Second
	}
	if cfg.ForecastTimeout < cfg.AcquisitionTimeout {
		cfg.ForecastTimeout = cfg.AcquisitionTimeout + time.Minute
	}
	return nil
}
