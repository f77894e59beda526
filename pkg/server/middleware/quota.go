package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"leadlove-hq/meter/pkg/limits"
	"leadlove-hq/meter/pkg/telemetry/logging"
)

// Headers written by Quota.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRateLimitCategory  = "X-RateLimit-Category"
	HeaderCreditsRequired    = "X-Credits-Required"
	HeaderCreditsAvailable   = "X-Credits-Available"
	HeaderReferenceID        = "X-Reference-ID"
)

type decisionKey struct{}

// PriceFunc names the metered operation a request performs and its pricing
// parameters. An empty operation rate-limits the request without a debit.
type PriceFunc func(r *http.Request) (operation string, params map[string]string)

// QuotaConfig configures Quota.
type QuotaConfig struct {
	// PrincipalHeader carries the caller identity.
	// Default: "X-Principal-ID"
	PrincipalHeader string

	// Price prices requests. Nil rate-limits without debiting.
	Price PriceFunc
}

// Quota authorizes every request through the gateway before calling next
// and settles the outcome afterwards.
//
// Denied requests never reach next:
//   - 401 unauthorized: no principal header
//   - 429 rate_limited: category quota or block
//   - 402 insufficient_credits: balance below the operation cost
//   - 503 unavailable: storage unreachable
//
// Admitted requests are settled as a failure, refunding the cost, when next
// answers with a 5xx status or panics; otherwise as a success.
//
// Example:
//
//	r.With(middleware.Quota(gateway, middleware.QuotaConfig{
//	    Price: func(r *http.Request) (string, map[string]string) {
//	        return "leadlove_maps", map[string]string{"maxResults": r.URL.Query().Get("maxResults")}
//	    },
//	})).Post("/v1/leadlove_maps", mapsHandler)
func Quota(gateway *limits.Gateway, cfg QuotaConfig) func(http.Handler) http.Handler {
	if cfg.PrincipalHeader == "" {
		cfg.PrincipalHeader = "X-Principal-ID"
	}
	logger := slog.Default().With("component", "server.quota")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := r.Header.Get(cfg.PrincipalHeader)
			if principal == "" {
				WriteError(w, http.StatusUnauthorized, CodeUnauthorized,
					"Missing "+cfg.PrincipalHeader+" header.", 0)
				return
			}
			ctx := logging.WithPrincipal(r.Context(), principal)

			req := limits.Request{
				Principal: principal,
				Endpoint:  r.URL.Path,
				Metadata:  map[string]string{"method": r.Method},
			}
			if requestID := logging.GetRequestID(ctx); requestID != "" {
				req.Metadata["request_id"] = requestID
			}
			if cfg.Price != nil {
				req.Operation, req.Params = cfg.Price(r)
			}

			decision, err := gateway.Authorize(ctx, req)
			if decision == nil {
				if errors.Is(err, limits.ErrInvalidRequest) {
					WriteError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), 0)
					return
				}
				logger.ErrorContext(ctx, "authorize failed", "error", err)
				WriteError(w, http.StatusInternalServerError, CodeInternal,
					"An internal error occurred. Please try again later.", 0)
				return
			}

			SetDecisionHeaders(w, decision)
			if !decision.Allowed {
				WriteDenial(w, decision)
				return
			}

			ctx = logging.WithReferenceID(ctx, decision.ReferenceID)
			ctx = context.WithValue(ctx, decisionKey{}, decision)

			settlement := limits.Settlement{
				ReferenceID: decision.ReferenceID,
				Principal:   principal,
				Cost:        decision.Cost,
				Outcome:     limits.OutcomeFailure,
			}
			settle := func() {
				if _, err := gateway.Settle(ctx, settlement); err != nil {
					logger.ErrorContext(ctx, "settle failed",
						"outcome", settlement.Outcome,
						"error", err,
					)
				}
			}

			rw := newResponseWriter(w)
			defer func() {
				if p := recover(); p != nil {
					settle()
					panic(p)
				}
			}()

			next.ServeHTTP(rw, r.WithContext(ctx))

			if rw.statusCode < http.StatusInternalServerError {
				settlement.Outcome = limits.OutcomeSuccess
			}
			settle()
		})
	}
}

// DecisionFromContext returns the decision Quota admitted the request
// with, or nil.
func DecisionFromContext(ctx context.Context) *limits.AuthDecision {
	decision, _ := ctx.Value(decisionKey{}).(*limits.AuthDecision)
	return decision
}

// SetDecisionHeaders writes the rate limit and credit headers for a
// decision.
func SetDecisionHeaders(w http.ResponseWriter, d *limits.AuthDecision) {
	h := w.Header()
	if d.Limit > 0 {
		h.Set(HeaderRateLimitLimit, strconv.FormatInt(d.Limit, 10))
		h.Set(HeaderRateLimitRemaining, strconv.FormatInt(d.Remaining, 10))
	}
	if d.Category != "" {
		h.Set(HeaderRateLimitCategory, d.Category)
	}
	if !d.ResetAt.IsZero() {
		h.Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
	if d.Allowed {
		h.Set(HeaderReferenceID, d.ReferenceID)
	}
	if d.Reason == limits.ReasonInsufficientCredits {
		h.Set(HeaderCreditsRequired, strconv.FormatInt(d.RequiredCredits, 10))
	}
	if d.Reason == limits.ReasonOK || d.Reason == limits.ReasonInsufficientCredits {
		h.Set(HeaderCreditsAvailable, strconv.FormatInt(d.AvailableCredits, 10))
	}
}

// WriteDenial answers a denied decision with its status code and reason.
func WriteDenial(w http.ResponseWriter, d *limits.AuthDecision) {
	WriteError(w, DenialStatus(d.Reason), string(d.Reason), d.Message, d.RetryAfterSeconds())
}

// DenialStatus maps a denial reason to an HTTP status code.
func DenialStatus(reason limits.Reason) int {
	switch reason {
	case limits.ReasonRateLimited:
		return http.StatusTooManyRequests
	case limits.ReasonInsufficientCredits:
		return http.StatusPaymentRequired
	case limits.ReasonUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}
