package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Extract returns ctx with the W3C trace context found in headers.
func Extract(ctx context.Context, headers http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
}

// HTTPMiddleware continues the caller's trace, opens a server span named
// after the method and route pattern, and exposes the trace id in the
// X-Trace-ID response header.
func HTTPMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer(instrumentationName + "/http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := Extract(r.Context(), r.Header)

		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()

		if id := TraceID(ctx); id != "" {
			w.Header().Set("X-Trace-ID", id)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
