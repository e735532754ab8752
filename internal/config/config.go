package config

import (
	"os"
	"strings"
	"time"

	"github.com/anmar534/desktop-management-system/internal/utils"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	HTTPAddr string
	// Engine defaults applied at process start
	Optimization Optimization
	// Persistence backing the error log and health snapshots
	StorageDriver   string // memory or postgres
	DatabaseURL     string
	StorageCacheMB  int64
	StorageCacheTTL time.Duration
	// Storage circuit breaker
	StorageBreakerFailures int
	StorageBreakerTimeout  time.Duration
	// Security settings
	RateLimitGlobal      float64 // requests per second globally
	RateLimitGlobalBurst int     // burst size for global rate limit
	RateLimitPerIP       float64 // requests per second per IP
	RateLimitPerIPBurst  int     // burst size for per-IP rate limit
	EnableRateLimit      bool
	// Observability settings
	LogLevel          string  // log level: debug, info, warn, error
	OTELEnabled       bool    // enable OpenTelemetry tracing
	OTELEndpoint      string  // OpenTelemetry collector endpoint
	OTELSampleRate    float64 // trace sampling rate (0.0 to 1.0)
	SentryDSN         string
	SentryEnvironment string
	SentryRelease     string
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached != nil {
		return cached
	}
	defaults := DefaultOptimization()
	cached = &Config{
		HTTPAddr: utils.GetEnvAsString("HTTP_ADDR", ":8000"),
		Optimization: Optimization{
			CacheEnabled:       utils.GetEnvAsBool("CACHE_ENABLED", defaults.CacheEnabled),
			CacheTTL:           utils.GetEnvAsMillis("CACHE_TTL_MS", defaults.CacheTTL),
			MaxCacheSize:       utils.GetEnvAsInt("MAX_CACHE_SIZE", defaults.MaxCacheSize),
			EnableMetrics:      utils.GetEnvAsBool("ENABLE_METRICS", defaults.EnableMetrics),
			MonitoringInterval: utils.GetEnvAsMillis("MONITORING_INTERVAL_MS", defaults.MonitoringInterval),
			CoalesceInFlight:   utils.GetEnvAsBool("COALESCE_INFLIGHT", defaults.CoalesceInFlight),
		},
		StorageDriver:          strings.ToLower(utils.GetEnvAsString("STORAGE_DRIVER", "memory")),
		DatabaseURL:            strings.TrimSpace(os.Getenv("DATABASE_URL")),
		StorageCacheMB:         int64(utils.GetEnvAsInt("STORAGE_CACHE_MB", 16)),
		StorageCacheTTL:        utils.GetEnvAsMillis("STORAGE_CACHE_TTL_MS", 30*time.Second),
		StorageBreakerFailures: utils.GetEnvAsInt("STORAGE_BREAKER_FAILURES", 5),
		StorageBreakerTimeout:  utils.GetEnvAsMillis("STORAGE_BREAKER_TIMEOUT_MS", 30*time.Second),
		RateLimitGlobal:        utils.GetEnvAsFloat("RATE_LIMIT_GLOBAL", 100.0),
		RateLimitGlobalBurst:   utils.GetEnvAsInt("RATE_LIMIT_GLOBAL_BURST", 200),
		RateLimitPerIP:         utils.GetEnvAsFloat("RATE_LIMIT_PER_IP", 10.0),
		RateLimitPerIPBurst:    utils.GetEnvAsInt("RATE_LIMIT_PER_IP_BURST", 20),
		EnableRateLimit:        utils.GetEnvAsBool("ENABLE_RATE_LIMIT", true),
		LogLevel:               strings.ToLower(utils.GetEnvAsString("LOG_LEVEL", "info")),
		OTELEnabled:            utils.GetEnvAsBool("OTEL_ENABLED", false),
		OTELEndpoint:           strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTELSampleRate:         utils.GetEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		SentryDSN:              strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		SentryEnvironment:      strings.TrimSpace(os.Getenv("SENTRY_ENVIRONMENT")),
		SentryRelease:          strings.TrimSpace(os.Getenv("SENTRY_RELEASE")),
	}
	if cached.SentryEnvironment == "" {
		if env := os.Getenv("ENV"); env != "" {
			cached.SentryEnvironment = env
		} else {
			cached.SentryEnvironment = "development"
		}
	}
	// Bad env values fall back to defaults rather than failing startup.
	if err := cached.Optimization.Validate(); err != nil {
		cached.Optimization = defaults
	}

	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() { cached = nil }
