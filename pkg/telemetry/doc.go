// Package telemetry groups the observability plumbing of the meter service.
//
// # Components
//
//   - logging: slog handler with request-scoped fields and redaction
//   - tracing: OpenTelemetry provider, sampling and HTTP propagation
//   - health: liveness and readiness probes
//
// Prometheus collectors live next to the code they measure
// (limits.Metrics) and are registered on an explicit registry that the
// server exposes at /metrics.
package telemetry
