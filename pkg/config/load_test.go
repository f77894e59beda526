package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "meter.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:9090"
  read_timeout: "60s"

limits:
  storage:
    driver: "postgres"
    dsn: "postgres://meter@localhost/meter?sslmode=disable"
  rate_limit:
    failure_policy: "closed"
    categories:
      default:
        requests: 50
        window_seconds: 60
      search:
        requests: 5
        window_seconds: 10
        block_seconds: 30
    rules:
      - match: prefix
        pattern: /search
        category: search
  pricing:
    search:
      base: 2
  housekeeping:
    enabled: false

telemetry:
  logging:
    level: "debug"
    format: "text"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9090" {
		t.Errorf("expected listen address %q, got %q", "0.0.0.0:9090", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 60*time.Second {
		t.Errorf("expected read timeout %v, got %v", 60*time.Second, cfg.Server.ReadTimeout)
	}
	if cfg.Limits.Storage.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %q", cfg.Limits.Storage.Driver)
	}
	if cfg.Limits.RateLimit.FailurePolicy != "closed" {
		t.Errorf("expected closed failure policy, got %q", cfg.Limits.RateLimit.FailurePolicy)
	}

	// File tables replace the built-in ones.
	if len(cfg.Limits.RateLimit.Categories) != 2 {
		t.Errorf("expected 2 categories, got %d", len(cfg.Limits.RateLimit.Categories))
	}
	if cfg.Limits.RateLimit.Categories["search"].BlockSeconds != 30 {
		t.Errorf("expected search block 30, got %d", cfg.Limits.RateLimit.Categories["search"].BlockSeconds)
	}
	if len(cfg.Limits.RateLimit.Rules) != 1 {
		t.Errorf("expected 1 rule, got %d", len(cfg.Limits.RateLimit.Rules))
	}
	if _, ok := cfg.Limits.Pricing["leadlove_maps"]; ok {
		t.Error("expected built-in prices to be replaced")
	}

	if cfg.Limits.Housekeeping.Enabled {
		t.Error("expected housekeeping disabled")
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("expected metrics to keep default true")
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected logging level %q, got %q", "debug", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(cfg.Limits.RateLimit.Categories) != 5 {
		t.Errorf("expected 5 built-in categories, got %d", len(cfg.Limits.RateLimit.Categories))
	}
	if len(cfg.Limits.RateLimit.Rules) != 4 {
		t.Errorf("expected 4 built-in rules, got %d", len(cfg.Limits.RateLimit.Rules))
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	if _, err := LoadConfig(writeConfig(t, "server: [unclosed")); err == nil {
		t.Error("expected error for malformed YAML")
	}

	_, err := LoadConfig(writeConfig(t, `
limits:
  storage:
    driver: "cassandra"
`))
	if err == nil || !strings.Contains(err.Error(), "limits.storage.driver") {
		t.Errorf("expected driver validation error, got %v", err)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "127.0.0.1:8080"
`)

	t.Setenv("METER_SERVER_LISTEN_ADDRESS", "0.0.0.0:7000")
	t.Setenv("METER_LIMITS_STORAGE_DRIVER", "memory")
	t.Setenv("METER_LIMITS_RATE_LIMIT_FAILURE_POLICY", "closed")
	t.Setenv("METER_LIMITS_CREDITS_LOW_BALANCE_THRESHOLD", "25")
	t.Setenv("METER_LIMITS_HOUSEKEEPING_ENABLED", "false")
	t.Setenv("METER_TELEMETRY_TRACING_SAMPLE_RATIO", "0.5")
	t.Setenv("METER_SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:7000" {
		t.Errorf("expected env listen address, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Limits.Storage.Driver != "memory" {
		t.Errorf("expected memory driver, got %q", cfg.Limits.Storage.Driver)
	}
	if cfg.Limits.RateLimit.FailurePolicy != "closed" {
		t.Errorf("expected closed policy, got %q", cfg.Limits.RateLimit.FailurePolicy)
	}
	if cfg.Limits.Credits.LowBalanceThreshold != 25 {
		t.Errorf("expected threshold 25, got %d", cfg.Limits.Credits.LowBalanceThreshold)
	}
	if cfg.Limits.Housekeeping.Enabled {
		t.Error("expected housekeeping disabled by env")
	}
	if cfg.Telemetry.Tracing.SampleRatio != 0.5 {
		t.Errorf("expected sample ratio 0.5, got %v", cfg.Telemetry.Tracing.SampleRatio)
	}
	if cfg.Server.ReadTimeout != DefaultReadTimeout {
		t.Errorf("expected malformed env to be ignored, got %v", cfg.Server.ReadTimeout)
	}
}

func TestLoadConfigWithEnvOverrides_Invalid(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv("METER_TELEMETRY_LOGGING_LEVEL", "verbose")

	if _, err := LoadConfigWithEnvOverrides(path); err == nil {
		t.Error("expected validation error after env override")
	}
}
