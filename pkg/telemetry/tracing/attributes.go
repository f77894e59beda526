package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys use the "meter.*" namespace.
const (
	AttrRequestID   = "meter.request_id"
	AttrPrincipal   = "meter.principal"
	AttrEndpoint    = "meter.endpoint"
	AttrOperation   = "meter.operation"
	AttrReferenceID = "meter.reference_id"
	AttrReason      = "meter.reason"
	AttrCost        = "meter.cost"
)

// SetRequestAttributes tags a span with the caller and the metered
// endpoint. Empty values are skipped.
func SetRequestAttributes(span trace.Span, requestID, principal, endpoint string) {
	attrs := make([]attribute.KeyValue, 0, 3)
	if requestID != "" {
		attrs = append(attrs, attribute.String(AttrRequestID, requestID))
	}
	if principal != "" {
		attrs = append(attrs, attribute.String(AttrPrincipal, principal))
	}
	if endpoint != "" {
		attrs = append(attrs, attribute.String(AttrEndpoint, endpoint))
	}
	span.SetAttributes(attrs...)
}

// SetDecisionAttributes tags a span with an authorize outcome.
func SetDecisionAttributes(span trace.Span, reason, referenceID string, cost int64) {
	span.SetAttributes(
		attribute.String(AttrReason, reason),
		attribute.String(AttrReferenceID, referenceID),
		attribute.Int64(AttrCost, cost),
	)
}
