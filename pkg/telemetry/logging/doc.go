// Package logging builds the process-wide structured logger.
//
// Components log through slog.Default() with a "component" attribute; the
// handler built here adds request-scoped fields taken from the context
// (request_id, principal, reference_id and the active trace) and masks
// secrets when redaction is enabled:
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json", RedactPII: true})
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, id)
//	slog.InfoContext(ctx, "authorized", "category", "leadgen")
package logging
