package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// PrincipalKey is the context key for the caller identity.
	PrincipalKey contextKey = "principal"

	// ReferenceIDKey is the context key for the operation reference.
	ReferenceIDKey contextKey = "reference_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithPrincipal adds the caller identity to the context.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// GetPrincipal retrieves the caller identity from the context.
func GetPrincipal(ctx context.Context) string {
	if principal, ok := ctx.Value(PrincipalKey).(string); ok {
		return principal
	}
	return ""
}

// WithReferenceID adds an operation reference to the context.
func WithReferenceID(ctx context.Context, referenceID string) context.Context {
	return context.WithValue(ctx, ReferenceIDKey, referenceID)
}

// GetReferenceID retrieves the operation reference from the context.
func GetReferenceID(ctx context.Context) string {
	if ref, ok := ctx.Value(ReferenceIDKey).(string); ok {
		return ref
	}
	return ""
}

// contextAttrs extracts common fields from the context, including the
// active trace and span ids.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr

	if requestID := GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, slog.String("request_id", requestID))
	}
	if principal := GetPrincipal(ctx); principal != "" {
		attrs = append(attrs, slog.String("principal", principal))
	}
	if ref := GetReferenceID(ctx); ref != "" {
		attrs = append(attrs, slog.String("reference_id", ref))
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	return attrs
}
