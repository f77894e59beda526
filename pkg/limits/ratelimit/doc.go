// Package ratelimit implements category-based fixed-window rate limiting.
//
// # Overview
//
// Endpoints are mapped to quota categories by ordered rules (prefix or
// substring match, first match wins). Each category allows a number of
// requests per fixed window and may block a principal for a period after
// the limit is exceeded:
//
//	limiter, err := ratelimit.NewLimiter(store, ratelimit.Config{
//	    Categories: map[string]ratelimit.CategoryConfig{
//	        "enrichment": {Requests: 10, WindowSeconds: 300, BlockSeconds: 600},
//	        "default":    {Requests: 100, WindowSeconds: 60},
//	    },
//	    Rules: []ratelimit.Rule{
//	        {Match: ratelimit.MatchContains, Pattern: "enrich", Category: "enrichment"},
//	    },
//	}, nil)
//
//	decision, err := limiter.Check(ctx, principal, "/v1/enrich/company")
//	if err == nil && !decision.Allowed {
//	    // retry after decision.ResetAt
//	}
//
// # Windows and Blocks
//
// A request at unix second t falls in the window starting at
// floor(t/window)*window, so a request exactly at a window end belongs to
// the next window. A block expires exactly at its deadline and applies
// across window boundaries. When a block ends inside the window that set it,
// that window's count starts again from zero. With EscalationFactor > 1
// every prior violation within the lookback multiplies the block, capped at
// MaxBlockSeconds.
//
// # Store Failures
//
// Under the default open policy a store outage admits requests and reports
// Decision.FailOpen; the warning is logged at most once a minute. The
// closed policy returns the store error instead.
package ratelimit
