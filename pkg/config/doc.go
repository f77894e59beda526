// Package config provides configuration management for the meter service.
//
// This package handles loading, validating, and watching configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("meter.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("meter.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention METER_SECTION_FIELD.
// For example:
//
//   - METER_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - METER_LIMITS_STORAGE_DSN overrides limits.storage.dsn
//   - METER_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// Category, rule and pricing tables are replaced as a whole when the file
// sets them; they are never merged with the built-in tables.
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and, after a
// debounce interval, reloads and validates it. Only a valid file reaches
// the callback; "meter run" uses it to swap quota categories and prices
// without a restart.
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//	limits:
//	  storage:
//	    driver: sqlite
//	    dsn: data/meter.db
//	  rate_limit:
//	    failure_policy: open
//	    categories:
//	      default: {requests: 100, window_seconds: 60}
//	      auth: {requests: 10, window_seconds: 300, block_seconds: 900}
//	  housekeeping:
//	    schedule: "@hourly"
//	telemetry:
//	  logging:
//	    level: info
package config
