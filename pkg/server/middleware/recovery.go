package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"leadlove-hq/meter/pkg/telemetry/tracing"

	"go.opentelemetry.io/otel/trace"
)

// Recovery recovers from panics in HTTP handlers and answers 500 with a
// generic JSON error. The panic is logged with its stack; nothing internal
// reaches the client.
//
// Recovery must wrap Quota so a panicking handler is settled as a failure
// before the response is written.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := newResponseWriter(w)

		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}

			slog.ErrorContext(r.Context(), "panic in handler",
				"error", err,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			tracing.SetError(trace.SpanFromContext(r.Context()), fmt.Errorf("panic: %v", err))

			if !rw.written {
				WriteError(rw, http.StatusInternalServerError, CodeInternal,
					"An internal error occurred. Please try again later.", 0)
			}
		}()

		next.ServeHTTP(rw, r)
	})
}
