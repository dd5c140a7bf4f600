package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultIndexURL  = "https://www.gestiondefiscalias.gob.ec/siaf/informacion/web/noticiasdelito/index.php"
	DefaultSearchURL = "https://www.gestiondefiscalias.gob.ec/siaf/comunes/noticiasdelito/info_mod.php"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Browser     BrowserConfig
	Search      SearchConfig
	Diagnostics DiagnosticsConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Cache       CacheConfig
	Log         LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the shared Chrome process.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// Proxy is an optional upstream proxy for all browser traffic.
	Proxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// BlockedResourceTypes lists resource types the hijack router fails.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string
}

// SearchConfig controls the retry policy, the circuit breaker and the
// navigation flow against the target.
type SearchConfig struct {
	IndexURL  string
	SearchURL string

	// MaxAttempts bounds navigator calls per search.
	MaxAttempts int // default: 3

	// BaseDelay and MaxDelay shape the exponential backoff.
	BaseDelay time.Duration // default: 1s
	MaxDelay  time.Duration // default: 30s

	// CircuitFailureThreshold is the consecutive-failure count that opens the circuit.
	CircuitFailureThreshold int // default: 5

	// CircuitCooldown is how long the circuit stays open before a probe.
	CircuitCooldown time.Duration // default: 60s

	// OverallTimeout bounds one search, retries and waits included.
	OverallTimeout time.Duration // default: 120s

	// PollInterval and ReadyTimeout drive result-page readiness detection.
	PollInterval time.Duration // default: 500ms
	ReadyTimeout time.Duration // default: 30s

	// NavigationTimeout bounds a single page load.
	NavigationTimeout time.Duration // default: 20s

	// Human pauses: after the index page loads, and before reloading a blocked page.
	IndexPauseMin time.Duration // default: 2s
	IndexPauseMax time.Duration // default: 5s
	BlockPauseMin time.Duration // default: 5s
	BlockPauseMax time.Duration // default: 10s
}

// DiagnosticsConfig controls HTML/PNG snapshot capture.
type DiagnosticsConfig struct {
	CaptureEnabled bool   // default: false
	Dir            string // default: "diagnostics"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 1

	// Burst is the maximum burst size per API key.
	Burst int // default: 3
}

// CacheConfig controls the search result cache.
type CacheConfig struct {
	Enabled    bool          // default: true
	MaxEntries int           // default: 1000
	TTL        time.Duration // default: 30m
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("CASEFINDER_HOST", "0.0.0.0"),
			Port: envIntOr("CASEFINDER_PORT", 8080),
			Mode: envOr("CASEFINDER_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:   envBoolOr("CASEFINDER_HEADLESS", true),
			Proxy:      os.Getenv("CASEFINDER_PROXY"),
			NoSandbox:  envBoolOr("CASEFINDER_NO_SANDBOX", false),
			BrowserBin: os.Getenv("CASEFINDER_BROWSER_BIN"),
			BlockedResourceTypes: envSliceOr("CASEFINDER_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
		},
		Search: SearchConfig{
			IndexURL:                envOr("CASEFINDER_INDEX_URL", DefaultIndexURL),
			SearchURL:               envOr("CASEFINDER_SEARCH_URL", DefaultSearchURL),
			MaxAttempts:             envIntOr("CASEFINDER_MAX_ATTEMPTS", 3),
			BaseDelay:               envMillisOr("CASEFINDER_BASE_DELAY_MS", time.Second),
			MaxDelay:                envMillisOr("CASEFINDER_MAX_DELAY_MS", 30*time.Second),
			CircuitFailureThreshold: envIntOr("CASEFINDER_CIRCUIT_FAILURE_THRESHOLD", 5),
			CircuitCooldown:         envMillisOr("CASEFINDER_CIRCUIT_COOLDOWN_MS", 60*time.Second),
			OverallTimeout:          envMillisOr("CASEFINDER_OVERALL_TIMEOUT_MS", 120*time.Second),
			PollInterval:            envMillisOr("CASEFINDER_POLL_INTERVAL_MS", 500*time.Millisecond),
			ReadyTimeout:            envMillisOr("CASEFINDER_READY_TIMEOUT_MS", 30*time.Second),
			NavigationTimeout:       envDurationOr("CASEFINDER_NAV_TIMEOUT", 20*time.Second),
			IndexPauseMin:           envDurationOr("CASEFINDER_INDEX_PAUSE_MIN", 2*time.Second),
			IndexPauseMax:           envDurationOr("CASEFINDER_INDEX_PAUSE_MAX", 5*time.Second),
			BlockPauseMin:           envDurationOr("CASEFINDER_BLOCK_PAUSE_MIN", 5*time.Second),
			BlockPauseMax:           envDurationOr("CASEFINDER_BLOCK_PAUSE_MAX", 10*time.Second),
		},
		Diagnostics: DiagnosticsConfig{
			CaptureEnabled: envBoolOr("CASEFINDER_DIAGNOSTIC_CAPTURE_ENABLED", false),
			Dir:            envOr("CASEFINDER_DIAGNOSTICS_DIR", "diagnostics"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("CASEFINDER_AUTH_ENABLED", true),
			APIKeys: envSliceOr("CASEFINDER_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("CASEFINDER_RATE_RPS", 1.0),
			Burst:             envIntOr("CASEFINDER_RATE_BURST", 3),
		},
		Cache: CacheConfig{
			Enabled:    envBoolOr("CASEFINDER_CACHE_ENABLED", true),
			MaxEntries: envIntOr("CASEFINDER_CACHE_MAX_ENTRIES", 1000),
			TTL:        envDurationOr("CASEFINDER_CACHE_TTL", 30*time.Minute),
		},
		Log: LogConfig{
			Level:  envOr("CASEFINDER_LOG_LEVEL", "info"),
			Format: envOr("CASEFINDER_LOG_FORMAT", "json"),
		},
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	s := c.Search

	if s.IndexURL == "" || s.SearchURL == "" {
		errs = append(errs, errors.New("search: index and search URLs are required"))
	}
	if s.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("search: max attempts must be >= 1, got %d", s.MaxAttempts))
	}
	if s.BaseDelay < 0 || s.MaxDelay < s.BaseDelay {
		errs = append(errs, fmt.Errorf("search: need 0 <= base delay (%s) <= max delay (%s)", s.BaseDelay, s.MaxDelay))
	}
	if s.CircuitFailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("search: circuit failure threshold must be >= 1, got %d", s.CircuitFailureThreshold))
	}
	if s.CircuitCooldown <= 0 {
		errs = append(errs, errors.New("search: circuit cooldown must be positive"))
	}
	if s.OverallTimeout <= 0 || s.ReadyTimeout <= 0 || s.PollInterval <= 0 {
		errs = append(errs, errors.New("search: timeouts and poll interval must be positive"))
	}
	if s.PollInterval >= s.ReadyTimeout {
		errs = append(errs, fmt.Errorf("search: poll interval (%s) must be shorter than ready timeout (%s)", s.PollInterval, s.ReadyTimeout))
	}
	if s.IndexPauseMax < s.IndexPauseMin || s.BlockPauseMax < s.BlockPauseMin {
		errs = append(errs, errors.New("search: pause max must not be below pause min"))
	}
	if c.Diagnostics.CaptureEnabled && c.Diagnostics.Dir == "" {
		errs = append(errs, errors.New("diagnostics: capture enabled without a directory"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server: invalid port %d", c.Server.Port))
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("rate limit: rps must be positive and burst >= 1"))
	}
	if c.Cache.Enabled && (c.Cache.MaxEntries < 1 || c.Cache.TTL <= 0) {
		errs = append(errs, errors.New("cache: max entries and ttl must be positive when enabled"))
	}
	return errors.Join(errs...)
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envMillisOr reads an integer millisecond count.
func envMillisOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
