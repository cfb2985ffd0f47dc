package config

import (
	"os"
	"testing"
)

func withRequiredEnv(t *testing.T, extra map[string]string) {
	t.Helper()
	t.Setenv("CONVEX_SITE_URL", "https://cp.example.test")
	t.Setenv("CAPTURE_SHARED_SECRET", "s3cret")
	for k, v := range extra {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	withRequiredEnv(t, nil)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{"default redis host", func(c *Config) bool { return c.RedisHost == "127.0.0.1" }, "127.0.0.1"},
		{"default redis port", func(c *Config) bool { return c.RedisPort == 6380 }, "6380"},
		{"default port", func(c *Config) bool { return c.Port == 3001 }, "3001"},
		{"default flush workers", func(c *Config) bool { return c.FlushWorkers == 4 }, "4"},
		{"default batch max size", func(c *Config) bool { return c.BatchMaxSize == 50 }, "50"},
		{"default flush interval ms", func(c *Config) bool { return c.FlushIntervalMs == 100 }, "100"},
		{"default endpoint cache ttl", func(c *Config) bool { return c.EndpointCacheTTLSecs == 300 }, "300"},
		{"default quota cache ttl", func(c *Config) bool { return c.QuotaCacheTTLSecs == 300 }, "300"},
		{"default clickhouse database", func(c *Config) bool { return c.ClickHouseDatabase == "webhooks" }, "webhooks"},
		{"clickhouse disabled by default", func(c *Config) bool { return !c.ClickHouseEnabled() }, "false"},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:3001" }, "0.0.0.0:3001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestLoadMissingRequired(t *testing.T) {
	os.Unsetenv("CONVEX_SITE_URL")
	os.Unsetenv("CAPTURE_SHARED_SECRET")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when CONVEX_SITE_URL/CAPTURE_SHARED_SECRET are unset")
	}
}

func TestLoadRejectsInvalidClickHouseDatabase(t *testing.T) {
	withRequiredEnv(t, map[string]string{"CLICKHOUSE_DATABASE": "bad-name; DROP TABLE"})

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid CLICKHOUSE_DATABASE")
	}
}

func TestLoadRejectsZeroFlushWorkers(t *testing.T) {
	withRequiredEnv(t, map[string]string{"FLUSH_WORKERS": "0"})

	if _, err := Load(); err == nil {
		t.Fatal("expected error for FLUSH_WORKERS=0")
	}
}

func TestDebugEnabledByAnyNonEmptyValue(t *testing.T) {
	withRequiredEnv(t, map[string]string{"RECEIVER_DEBUG": "on"})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Debug {
		t.Fatal("expected Debug=true for a non-empty RECEIVER_DEBUG value")
	}
}

func TestDebugDisabledWhenUnset(t *testing.T) {
	withRequiredEnv(t, nil)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Debug {
		t.Fatal("expected Debug=false when RECEIVER_DEBUG is unset")
	}
}

func TestClickHouseBaseURL(t *testing.T) {
	withRequiredEnv(t, map[string]string{
		"CLICKHOUSE_HOST": "ch.internal",
		"CLICKHOUSE_PORT": "8443",
		"CLICKHOUSE_SCHEME": "https",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.ClickHouseEnabled() {
		t.Fatal("expected ClickHouse to be enabled")
	}
	if got, want := cfg.ClickHouseBaseURL(), "https://ch.internal:8443"; got != want {
		t.Errorf("ClickHouseBaseURL() = %q, want %q", got, want)
	}
}
