package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "METER_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML on top of the defaults without validating.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	// Drop the built-in tables so a file that sets them replaces rather
	// than merges into them.
	cfg.Limits.RateLimit.Categories = nil
	cfg.Limits.RateLimit.Rules = nil
	cfg.Limits.Pricing = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention METER_SECTION_FIELD (e.g., METER_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envInt("SERVER_MAX_IN_FLIGHT", &cfg.Server.MaxInFlight)
	envString("SERVER_PRINCIPAL_HEADER", &cfg.Server.PrincipalHeader)

	// Storage overrides
	envString("LIMITS_STORAGE_DRIVER", &cfg.Limits.Storage.Driver)
	envString("LIMITS_STORAGE_DSN", &cfg.Limits.Storage.DSN)
	envDuration("LIMITS_STORAGE_TIMEOUT", &cfg.Limits.Storage.Timeout)
	envInt("LIMITS_STORAGE_MAX_OPEN_CONNS", &cfg.Limits.Storage.MaxOpenConns)
	envInt("LIMITS_STORAGE_MAX_IDLE_CONNS", &cfg.Limits.Storage.MaxIdleConns)

	// Limits overrides
	envString("LIMITS_RATE_LIMIT_FAILURE_POLICY", &cfg.Limits.RateLimit.FailurePolicy)
	envDuration("LIMITS_RATE_LIMIT_ESCALATION_LOOKBACK", &cfg.Limits.RateLimit.EscalationLookback)
	if val := os.Getenv(EnvPrefix + "LIMITS_CREDITS_LOW_BALANCE_THRESHOLD"); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Limits.Credits.LowBalanceThreshold = i
		}
	}
	envBool("LIMITS_HOUSEKEEPING_ENABLED", &cfg.Limits.Housekeeping.Enabled)
	envString("LIMITS_HOUSEKEEPING_SCHEDULE", &cfg.Limits.Housekeeping.Schedule)
	envDuration("LIMITS_HOUSEKEEPING_RETENTION", &cfg.Limits.Housekeeping.Retention)
	envDuration("LIMITS_GATEWAY_SETTLE_TIMEOUT", &cfg.Limits.Gateway.SettleTimeout)
	envDuration("LIMITS_GATEWAY_GUARD_TIMEOUT", &cfg.Limits.Gateway.GuardTimeout)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_LOGGING_REDACT_PII", &cfg.Telemetry.Logging.RedactPII)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envString("TELEMETRY_TRACING_SAMPLER", &cfg.Telemetry.Tracing.Sampler)
	if val := os.Getenv(EnvPrefix + "TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}
	envBool("TELEMETRY_TRACING_INSECURE", &cfg.Telemetry.Tracing.Insecure)
}

// Malformed values are ignored and the file value kept; Validate catches
// anything that ends up out of range.

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}
