// Package server provides the HTTP server of the meter service.
//
// It ties the gateway, the health checker and the Prometheus registry to a
// chi router and manages the server lifecycle.
//
// # Basic Usage
//
//	srv, err := server.NewServer(&cfg.Server, server.Options{
//	    Gateway:  gateway,
//	    Health:   checker,
//	    Gatherer: registry,
//	})
//	if err != nil {
//	    return err
//	}
//	// Blocks until ctx is cancelled, then shuts down gracefully.
//	return srv.Start(ctx)
//
// # Routes
//
//   - POST /v1/authorize - rate check and debit for one operation
//   - POST /v1/settle - operation outcome, refunds failures
//   - POST /v1/credits/events - billing webhook (purchase, refill, bonus)
//   - GET /v1/credits/{principal} - balance
//   - GET /v1/credits/{principal}/transactions - ledger history
//   - GET /v1/credits/{principal}/reconcile - balance vs ledger sum
//   - GET /v1/limits/{principal}?endpoint= - current window, not consumed
//   - GET /v1/quote/{operation} - credit cost, rate limited per caller
//   - GET /health, GET /ready - probes
//   - GET /metrics - Prometheus
//   - GET /version - build information
//
// # Graceful Shutdown
//
// Cancelling the context passed to Start stops accepting connections and
// waits up to the configured shutdown timeout for active requests.
package server
