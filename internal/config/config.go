// Package config provides configuration management for the reporting jobs.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/client"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/fetch"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/logging"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "MONTANDON_"

// Config holds the complete configuration loaded from environment variables.
type Config struct {
	// BaseURL is the STAC API root.
	BaseURL   string `env:"BASE_URL" envDefault:"https://montandon-eoapi-stage.ifrc.org/stac"`
	UserAgent string `env:"USER_AGENT" envDefault:"montandon-reports/1.0"`

	// Workers bounds concurrent tasks and sizes the connection pool.
	Workers int `env:"WORKERS" envDefault:"10"`

	// Retry
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF" envDefault:"1s"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF" envDefault:"30s"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"90s"`
	ListTimeout    time.Duration `env:"LIST_TIMEOUT" envDefault:"30s"`

	// Manual counting fallback of events-per-collection
	ManualCount bool          `env:"MANUAL_COUNT" envDefault:"true"`
	ManualPace  time.Duration `env:"MANUAL_PACE" envDefault:"200ms"`

	OutputDir string `env:"OUTPUT_DIR" envDefault:"."`

	// Caching; a zero TTL disables the cache, an empty Redis address keeps it in memory.
	CacheTTL  time.Duration `env:"CACHE_TTL" envDefault:"0s"`
	CacheSize int           `env:"CACHE_SIZE" envDefault:"1024"`
	RedisAddr string        `env:"REDIS_ADDR"`

	// MetricsFile, when set, receives a Prometheus textfile at the end of a run.
	MetricsFile string `env:"METRICS_FILE"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"true"`
}

// Load parses configuration from environment variables.
// It returns an error if a field is malformed or invalid.
func Load() (*Config, error) {
	cfg := &Config{}

	opts := env.Options{
		Prefix: EnvPrefix,
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base URL must be an absolute http(s) URL, got %q", c.BaseURL)
	}

	if strings.TrimSpace(c.UserAgent) == "" {
		return fmt.Errorf("user agent is required")
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}

	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial backoff must be positive, got %s", c.InitialBackoff)
	}

	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max backoff (%s) must not be less than initial backoff (%s)", c.MaxBackoff, c.InitialBackoff)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}

	if c.ListTimeout <= 0 {
		return fmt.Errorf("list timeout must be positive, got %s", c.ListTimeout)
	}

	if c.ManualPace < 0 {
		return fmt.Errorf("manual pace must not be negative, got %s", c.ManualPace)
	}

	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}

	if c.CacheTTL < 0 {
		return fmt.Errorf("cache TTL must not be negative, got %s", c.CacheTTL)
	}

	if c.CacheTTL > 0 && c.CacheSize < 1 {
		return fmt.Errorf("cache size must be at least 1 when caching is enabled, got %d", c.CacheSize)
	}

	if c.RedisAddr != "" && c.CacheTTL == 0 {
		return fmt.Errorf("redis address set but cache TTL is 0")
	}

	switch logging.LogLevel(strings.ToLower(c.LogLevel)) {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("log level must be debug, info, warn or error, got %q", c.LogLevel)
	}

	return nil
}

// OutputPath joins name onto the output directory.
func (c *Config) OutputPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.OutputDir, name)
}

// Client returns the STAC client configuration (without cache).
func (c *Config) Client() client.Config {
	cfg := client.DefaultConfig(c.BaseURL)
	cfg.UserAgent = c.UserAgent
	cfg.Timeout = c.RequestTimeout
	cfg.MaxConcurrency = c.Workers
	cfg.Retry.MaxAttempts = c.MaxAttempts
	cfg.Retry.InitialBackoff = c.InitialBackoff
	cfg.Retry.MaxBackoff = c.MaxBackoff
	return cfg
}

// Fetch returns the fetcher options.
func (c *Config) Fetch() fetch.Options {
	opts := fetch.DefaultOptions()
	opts.ListTimeout = c.ListTimeout
	opts.ManualCount = c.ManualCount
	opts.ManualPace = c.ManualPace
	return opts
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(strings.ToLower(c.LogLevel))
	cfg.Pretty = c.LogPretty
	return cfg
}
