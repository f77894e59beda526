// Package tracing configures OpenTelemetry for the meter service.
//
// New installs an OTLP gRPC exporter behind a parent-based sampler as the
// global tracer provider. The limits packages start their spans from the
// global provider, so nothing else needs to be passed around:
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
// HTTPMiddleware continues W3C trace context from incoming requests.
package tracing
