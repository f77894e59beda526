package config

import (
	"time"

	"leadlove-hq/meter/pkg/limits/pricing"
	"leadlove-hq/meter/pkg/limits/ratelimit"
)

// Config is the root configuration structure for the meter service.
// It contains the HTTP server, the limits subsystem and telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts, and the in-flight request cap.
	Server ServerConfig `yaml:"server"`

	// Limits contains configuration for rate limiting, credits, pricing
	// and the storage they share.
	Limits LimitsConfig `yaml:"limits"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxInFlight caps concurrently served requests per principal.
	// 0 disables the cap.
	// Default: 0
	MaxInFlight int `yaml:"max_in_flight"`

	// PrincipalHeader carries the caller identity on protected routes.
	// Default: "X-Principal-ID"
	PrincipalHeader string `yaml:"principal_header"`
}

// LimitsConfig contains configuration for the limits subsystem.
type LimitsConfig struct {
	// Storage selects and configures the shared backend.
	Storage StorageConfig `yaml:"storage"`

	// RateLimit contains the category table and failure policy.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Credits contains ledger settings.
	Credits CreditsConfig `yaml:"credits"`

	// Pricing maps operation names to credit costs. Empty uses the built-in
	// price table.
	Pricing map[string]pricing.Price `yaml:"pricing"`

	// Housekeeping schedules the purge of expired windows.
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`

	// Gateway contains authorize/settle timeouts.
	Gateway GatewayConfig `yaml:"gateway"`
}

// StorageConfig selects the window and ledger backend.
type StorageConfig struct {
	// Driver is the storage backend.
	// Options: "memory", "sqlite" (pure Go), "sqlite3" (cgo), "postgres", "mysql"
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// DSN is the data source name. For SQLite it is a file path.
	// Default: "data/meter.db"
	DSN string `yaml:"dsn"`

	// Timeout bounds every storage call.
	// Default: 2s
	Timeout time.Duration `yaml:"timeout"`

	// MaxOpenConns is the maximum number of open connections. Ignored for
	// SQLite, which uses a single connection.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// BusyTimeout is the SQLite lock wait.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// SnapshotInterval is how often the SQLite WAL is checkpointed.
	// Default: 5m
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	// Categories maps category names to quotas. A "default" category is
	// required. Empty uses the built-in table.
	Categories map[string]ratelimit.CategoryConfig `yaml:"categories"`

	// Rules map endpoints to categories in order. Empty uses the built-in
	// rules.
	Rules []ratelimit.Rule `yaml:"rules"`

	// FailurePolicy decides what happens when the window store is down.
	// Options: "open", "closed"
	// Default: "open"
	FailurePolicy string `yaml:"failure_policy"`

	// EscalationLookback is how far back prior violations count toward an
	// escalated block.
	// Default: 24h
	EscalationLookback time.Duration `yaml:"escalation_lookback"`
}

// CreditsConfig configures the credit ledger.
type CreditsConfig struct {
	// LowBalanceThreshold flags results at or below this balance.
	// 0 disables the flag.
	// Default: 0
	LowBalanceThreshold int64 `yaml:"low_balance_threshold"`
}

// HousekeepingConfig configures scheduled window purges.
type HousekeepingConfig struct {
	// Enabled controls whether sweeps are scheduled by "meter run".
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression or descriptor.
	// Default: "@hourly"
	Schedule string `yaml:"schedule"`

	// Retention keeps finished windows this long. It should not be shorter
	// than the escalation lookback.
	// Default: 24h
	Retention time.Duration `yaml:"retention"`
}

// GatewayConfig configures authorize and settle.
type GatewayConfig struct {
	// SettleTimeout bounds a refund.
	// Default: 5s
	SettleTimeout time.Duration `yaml:"settle_timeout"`

	// GuardTimeout is the default deadline for guarded operations.
	// Default: 30s
	GuardTimeout time.Duration `yaml:"guard_timeout"`

	// UnavailableRetry is the retry hint sent when storage is down.
	// Default: 30s
	UnavailableRetry time.Duration `yaml:"unavailable_retry"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII masks principal identifiers, emails and secrets in logs.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether the Prometheus endpoint is served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "meter"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS for the collector connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout is the export timeout.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`
}
