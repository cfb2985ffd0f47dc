// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"regexp"

	"github.com/caarlos0/env/v11"
)

var clickhouseDatabaseRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Config holds all gateway configuration, loaded from environment variables.
type Config struct {
	ConvexSiteURL        string `env:"CONVEX_SITE_URL,required"`
	CaptureSharedSecret  string `env:"CAPTURE_SHARED_SECRET,required"`

	RedisHost     string `env:"REDIS_HOST" envDefault:"127.0.0.1"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6380"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	Port int `env:"PORT" envDefault:"3001"`

	// SentryDSN is accepted for operator compatibility with the original
	// deployment but is never wired to an exception tracker in this build.
	SentryDSN string `env:"SENTRY_DSN"`

	// RawDebug mirrors the original's env::var("RECEIVER_DEBUG").is_ok_and(|v|
	// !v.is_empty()): any non-empty value enables debug logging, not just
	// "true"/"1" — so this is read as a string, never parsed as a bool.
	RawDebug string `env:"RECEIVER_DEBUG"`
	Debug    bool   `env:"-"`

	FlushWorkers    int `env:"FLUSH_WORKERS" envDefault:"4"`
	BatchMaxSize    int `env:"BATCH_MAX_SIZE" envDefault:"50"`
	FlushIntervalMs int `env:"FLUSH_INTERVAL_MS" envDefault:"100"`

	EndpointCacheTTLSecs int64 `env:"ENDPOINT_CACHE_TTL_SECS" envDefault:"300"`
	QuotaCacheTTLSecs    int64 `env:"QUOTA_CACHE_TTL_SECS" envDefault:"300"`

	ClickHouseHost     string `env:"CLICKHOUSE_HOST"`
	ClickHousePort     int    `env:"CLICKHOUSE_PORT" envDefault:"8123"`
	ClickHouseScheme   string `env:"CLICKHOUSE_SCHEME" envDefault:"http"`
	ClickHouseUser     string `env:"CLICKHOUSE_USER" envDefault:"default"`
	ClickHousePassword string `env:"CLICKHOUSE_PASSWORD"`
	ClickHouseDatabase string `env:"CLICKHOUSE_DATABASE" envDefault:"webhooks"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	cfg.Debug = cfg.RawDebug != ""

	if cfg.FlushWorkers <= 0 {
		return nil, fmt.Errorf("FLUSH_WORKERS must be > 0, got %d", cfg.FlushWorkers)
	}
	if cfg.BatchMaxSize <= 0 {
		return nil, fmt.Errorf("BATCH_MAX_SIZE must be > 0, got %d", cfg.BatchMaxSize)
	}
	if !clickhouseDatabaseRe.MatchString(cfg.ClickHouseDatabase) {
		return nil, fmt.Errorf("CLICKHOUSE_DATABASE must contain only alphanumeric characters and underscores, got %q", cfg.ClickHouseDatabase)
	}

	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.Port)
}

// RedisAddr returns the host:port go-redis expects.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// ClickHouseEnabled reports whether the CS sink is configured.
func (c *Config) ClickHouseEnabled() bool {
	return c.ClickHouseHost != ""
}

// ClickHouseBaseURL builds the base URL for the CS client from host/port/scheme.
func (c *Config) ClickHouseBaseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.ClickHouseScheme, c.ClickHouseHost, c.ClickHousePort)
}
