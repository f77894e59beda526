package config

import (
	"time"

	"leadlove-hq/meter/pkg/limits/pricing"
	"leadlove-hq/meter/pkg/limits/ratelimit"
)

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultPrincipalHeader = "X-Principal-ID"

	// Storage defaults
	DefaultStorageDriver           = "sqlite"
	DefaultStorageDSN              = "data/meter.db"
	DefaultStorageTimeout          = 2 * time.Second
	DefaultStorageMaxOpenConns     = 10
	DefaultStorageMaxIdleConns     = 5
	DefaultStorageBusyTimeout      = 5 * time.Second
	DefaultStorageSnapshotInterval = 5 * time.Minute

	// Rate limit defaults
	DefaultFailurePolicy      = "open"
	DefaultEscalationLookback = 24 * time.Hour

	// Housekeeping defaults
	DefaultHousekeepingEnabled   = true
	DefaultHousekeepingSchedule  = "@hourly"
	DefaultHousekeepingRetention = 24 * time.Hour

	// Gateway defaults
	DefaultSettleTimeout    = 5 * time.Second
	DefaultGuardTimeout     = 30 * time.Second
	DefaultUnavailableRetry = 30 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultLoggingRedactPII   = true
	DefaultMetricsEnabled     = true
	DefaultPrometheusPath     = "/metrics"
	DefaultTracingEnabled     = false
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingServiceName = "meter"
	DefaultTracingTimeout     = 10 * time.Second
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
)

// Default returns a configuration with every default applied, including
// booleans that default to true. LoadConfig unmarshals on top of it, so
// a field absent from the file keeps its default.
func Default() *Config {
	cfg := &Config{}
	cfg.Limits.Housekeeping.Enabled = DefaultHousekeepingEnabled
	cfg.Telemetry.Logging.RedactPII = DefaultLoggingRedactPII
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Telemetry.Tracing.Enabled = DefaultTracingEnabled
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.PrincipalHeader == "" {
		cfg.Server.PrincipalHeader = DefaultPrincipalHeader
	}

	applyLimitsDefaults(&cfg.Limits)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyLimitsDefaults(cfg *LimitsConfig) {
	// Storage
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver != "memory" {
		cfg.Storage.DSN = DefaultStorageDSN
	}
	if cfg.Storage.Timeout == 0 {
		cfg.Storage.Timeout = DefaultStorageTimeout
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = DefaultStorageMaxOpenConns
	}
	if cfg.Storage.MaxIdleConns == 0 {
		cfg.Storage.MaxIdleConns = DefaultStorageMaxIdleConns
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = DefaultStorageBusyTimeout
	}
	if cfg.Storage.SnapshotInterval == 0 {
		cfg.Storage.SnapshotInterval = DefaultStorageSnapshotInterval
	}

	// Rate limiting
	if len(cfg.RateLimit.Categories) == 0 {
		cfg.RateLimit.Categories = ratelimit.DefaultCategories()
	}
	if cfg.RateLimit.Rules == nil {
		cfg.RateLimit.Rules = ratelimit.DefaultRules()
	}
	if cfg.RateLimit.FailurePolicy == "" {
		cfg.RateLimit.FailurePolicy = DefaultFailurePolicy
	}
	if cfg.RateLimit.EscalationLookback == 0 {
		cfg.RateLimit.EscalationLookback = DefaultEscalationLookback
	}

	// Pricing
	if len(cfg.Pricing) == 0 {
		cfg.Pricing = pricing.DefaultPrices()
	}

	// Housekeeping
	if cfg.Housekeeping.Schedule == "" {
		cfg.Housekeeping.Schedule = DefaultHousekeepingSchedule
	}
	if cfg.Housekeeping.Retention == 0 {
		cfg.Housekeeping.Retention = DefaultHousekeepingRetention
	}

	// Gateway
	if cfg.Gateway.SettleTimeout == 0 {
		cfg.Gateway.SettleTimeout = DefaultSettleTimeout
	}
	if cfg.Gateway.GuardTimeout == 0 {
		cfg.Gateway.GuardTimeout = DefaultGuardTimeout
	}
	if cfg.Gateway.UnavailableRetry == 0 {
		cfg.Gateway.UnavailableRetry = DefaultUnavailableRetry
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Tracing.Timeout == 0 {
		cfg.Tracing.Timeout = DefaultTracingTimeout
	}
	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = DefaultReadinessPath
	}
}
