package config

import (
	"fmt"
	"net"
	"strings"

	"leadlove-hq/meter/pkg/limits/ratelimit"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateStorage(&cfg.Limits.Storage)...)
	errs = append(errs, validateRateLimit(&cfg.Limits.RateLimit)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid address %q: %v", cfg.ListenAddress, err),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.idle_timeout",
			Message: "idle timeout must be positive",
		})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}
	if cfg.MaxInFlight < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_in_flight",
			Message: "max in-flight must be non-negative",
		})
	}

	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Driver {
	case "memory", "sqlite", "sqlite3", "postgres", "mysql":
	default:
		errs = append(errs, FieldError{
			Field:   "limits.storage.driver",
			Message: fmt.Sprintf("unsupported driver %q (must be memory, sqlite, sqlite3, postgres or mysql)", cfg.Driver),
		})
	}

	if cfg.Driver != "memory" && cfg.DSN == "" {
		errs = append(errs, FieldError{
			Field:   "limits.storage.dsn",
			Message: "dsn is required for SQL drivers",
		})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "limits.storage.timeout",
			Message: "timeout must be positive",
		})
	}
	if cfg.MaxOpenConns < 0 {
		errs = append(errs, FieldError{
			Field:   "limits.storage.max_open_conns",
			Message: "max open connections must be non-negative",
		})
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns && cfg.MaxOpenConns > 0 {
		errs = append(errs, FieldError{
			Field:   "limits.storage.max_idle_conns",
			Message: "max idle connections cannot exceed max open connections",
		})
	}

	return errs
}

func validateRateLimit(cfg *RateLimitConfig) []FieldError {
	var errs []FieldError

	if _, ok := cfg.Categories[ratelimit.DefaultCategory]; !ok {
		errs = append(errs, FieldError{
			Field:   "limits.rate_limit.categories",
			Message: fmt.Sprintf("a %q category is required", ratelimit.DefaultCategory),
		})
	}
	for name, category := range cfg.Categories {
		if err := category.Validate(); err != nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("limits.rate_limit.categories.%s", name),
				Message: err.Error(),
			})
		}
	}

	for i, rule := range cfg.Rules {
		field := fmt.Sprintf("limits.rate_limit.rules[%d]", i)
		if err := rule.Validate(); err != nil {
			errs = append(errs, FieldError{Field: field, Message: err.Error()})
			continue
		}
		if _, ok := cfg.Categories[rule.Category]; !ok {
			errs = append(errs, FieldError{
				Field:   field,
				Message: fmt.Sprintf("unknown category %q", rule.Category),
			})
		}
	}

	switch ratelimit.FailurePolicy(cfg.FailurePolicy) {
	case ratelimit.FailOpen, ratelimit.FailClosed:
	default:
		errs = append(errs, FieldError{
			Field:   "limits.rate_limit.failure_policy",
			Message: fmt.Sprintf("invalid failure policy %q (must be open or closed)", cfg.FailurePolicy),
		})
	}

	if cfg.EscalationLookback < 0 {
		errs = append(errs, FieldError{
			Field:   "limits.rate_limit.escalation_lookback",
			Message: "escalation lookback must be non-negative",
		})
	}

	return errs
}

func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	if cfg.Credits.LowBalanceThreshold < 0 {
		errs = append(errs, FieldError{
			Field:   "limits.credits.low_balance_threshold",
			Message: "low balance threshold must be non-negative",
		})
	}

	for name, price := range cfg.Pricing {
		if err := price.Validate(); err != nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("limits.pricing.%s", name),
				Message: err.Error(),
			})
		}
	}

	if cfg.Housekeeping.Enabled {
		if _, err := cron.ParseStandard(cfg.Housekeeping.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "limits.housekeeping.schedule",
				Message: fmt.Sprintf("invalid cron schedule %q: %v", cfg.Housekeeping.Schedule, err),
			})
		}
	}
	if cfg.Housekeeping.Retention < 0 {
		errs = append(errs, FieldError{
			Field:   "limits.housekeeping.retention",
			Message: "retention must be non-negative",
		})
	} else if cfg.Housekeeping.Retention < cfg.RateLimit.EscalationLookback {
		errs = append(errs, FieldError{
			Field:   "limits.housekeeping.retention",
			Message: fmt.Sprintf("retention (%s) cannot be shorter than the escalation lookback (%s)", cfg.Housekeeping.Retention, cfg.RateLimit.EscalationLookback),
		})
	}

	if cfg.Gateway.SettleTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "limits.gateway.settle_timeout",
			Message: "settle timeout must be positive",
		})
	}
	if cfg.Gateway.GuardTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "limits.gateway.guard_timeout",
			Message: "guard timeout must be positive",
		})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn or error)", cfg.Logging.Level),
		})
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json, text or console)", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (must be always, never or ratio)", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sample_ratio",
				Message: "sample ratio must be between 0.0 and 1.0",
			})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.endpoint",
				Message: "endpoint is required when tracing is enabled",
			})
		}
	}

	return errs
}
