// Package middleware provides the HTTP middleware of the meter service.
//
// The chain, outermost first:
//
//   - RequestID: assigns X-Request-ID and stores it for logging
//   - Logging: structured request log with status and latency
//   - Recovery: turns panics into a generic 500
//   - InFlight: per-principal concurrency cap
//   - Quota: gateway authorize before the handler, settle after it
//
// Quota is applied per route; the rest wrap the whole router.
//
// Every error answer is an ErrorResponse with a stable code, a message safe
// to show to users and, for denials, a retry hint mirrored in the
// Retry-After header.
package middleware
