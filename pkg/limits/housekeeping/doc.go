// Package housekeeping removes rate window records that can no longer
// affect a decision.
//
// A window is dead once its end and any block it carries are older than
// the retention horizon. The horizon should be at least the escalation
// lookback of the rate limiter, otherwise prior violations are forgotten
// early.
//
// Sweeps run on a cron schedule:
//
//	h, _ := housekeeping.New(store, housekeeping.Config{Schedule: "@hourly"}, metrics)
//	if err := h.Start(ctx); err != nil {
//	    return err
//	}
//	defer h.Stop()
package housekeeping
