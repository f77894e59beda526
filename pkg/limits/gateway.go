package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leadlove-hq/meter/pkg/limits/credits"
	"leadlove-hq/meter/pkg/limits/pricing"
	"leadlove-hq/meter/pkg/limits/ratelimit"
	"leadlove-hq/meter/pkg/limits/storage"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("leadlove-hq/meter/limits")

// Gateway composes the rate limiter and the credit ledger into a single
// admission decision for metered operations.
//
// An operation moves through Authorize (rate check, then debit) and, when
// admitted, exactly one Settle. A failed operation is refunded on settle.
//
// # Example
//
//	decision, err := gateway.Authorize(ctx, limits.Request{
//	    Principal: "user-1",
//	    Endpoint:  "/v1/leadlove_maps",
//	    Operation: "leadlove_maps",
//	    Params:    map[string]string{"maxResults": "20"},
//	})
//	if err != nil || !decision.Allowed {
//	    // deny with decision.Reason and decision.RetryAfter
//	}
//
//	err = callUpstream()
//	outcome := limits.OutcomeSuccess
//	if err != nil {
//	    outcome = limits.OutcomeFailure
//	}
//	gateway.Settle(ctx, limits.Settlement{
//	    ReferenceID: decision.ReferenceID,
//	    Principal:   "user-1",
//	    Cost:        decision.Cost,
//	    Outcome:     outcome,
//	})
type Gateway struct {
	limiter *ratelimit.Limiter
	ledger  *credits.Ledger
	prices  *pricing.Table
	metrics *Metrics
	logger  *slog.Logger

	settleTimeout    time.Duration
	guardTimeout     time.Duration
	unavailableRetry time.Duration
}

// NewGateway creates a gateway. prices and metrics may be nil.
func NewGateway(limiter *ratelimit.Limiter, ledger *credits.Ledger, prices *pricing.Table, metrics *Metrics, cfg Config) (*Gateway, error) {
	if limiter == nil {
		return nil, errors.New("limiter cannot be nil")
	}
	if ledger == nil {
		return nil, errors.New("ledger cannot be nil")
	}
	if cfg.SettleTimeout == 0 {
		cfg.SettleTimeout = 5 * time.Second
	}
	if cfg.GuardTimeout == 0 {
		cfg.GuardTimeout = 30 * time.Second
	}
	if cfg.UnavailableRetry == 0 {
		cfg.UnavailableRetry = 30 * time.Second
	}

	return &Gateway{
		limiter:          limiter,
		ledger:           ledger,
		prices:           prices,
		metrics:          metrics,
		logger:           slog.Default().With("component", "limits.gateway"),
		settleTimeout:    cfg.SettleTimeout,
		guardTimeout:     cfg.GuardTimeout,
		unavailableRetry: cfg.UnavailableRetry,
	}, nil
}

// Limiter returns the rate limiter.
func (g *Gateway) Limiter() *ratelimit.Limiter { return g.limiter }

// Ledger returns the credit ledger.
func (g *Gateway) Ledger() *credits.Ledger { return g.ledger }

// Prices returns the price table, or nil.
func (g *Gateway) Prices() *pricing.Table { return g.prices }

// Quote prices an operation.
func (g *Gateway) Quote(operation string, params map[string]string) (*pricing.Quote, error) {
	if g.prices == nil {
		return nil, fmt.Errorf("%w: no price table configured", pricing.ErrUnknownOperation)
	}
	return g.prices.Quote(operation, params)
}

// Authorize checks the rate limit and then debits the cost.
//
// Denials are returned as a decision with Allowed=false, not as errors. The
// error is non-nil for malformed requests (ErrInvalidRequest) and when
// storage is unavailable; in the latter case the decision carries
// ReasonUnavailable and a retry hint.
func (g *Gateway) Authorize(ctx context.Context, req Request) (*AuthDecision, error) {
	if req.Principal == "" {
		return nil, fmt.Errorf("%w: principal is required", ErrInvalidRequest)
	}
	if req.Cost < 0 {
		return nil, fmt.Errorf("%w: cost cannot be negative", ErrInvalidRequest)
	}

	ctx, span := tracer.Start(ctx, "gateway.Authorize")
	defer span.End()

	cost := req.Cost
	if cost == 0 && req.Operation != "" {
		quote, err := g.Quote(req.Operation, req.Params)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if quote.Credits < 0 {
			return nil, fmt.Errorf("%w: quoted cost %d is negative", ErrInvalidRequest, quote.Credits)
		}
		cost = quote.Credits
	}

	ref := uuid.NewString()

	state := StatePending
	decision := &AuthDecision{
		State:       state,
		ReferenceID: ref,
		Cost:        cost,
	}

	rate, err := g.limiter.Check(ctx, req.Principal, req.Endpoint)
	if err != nil {
		return g.unavailable(span, decision, req, err)
	}
	decision.Category = rate.Category
	decision.Limit = rate.Limit
	decision.Remaining = rate.Remaining
	decision.ResetAt = rate.ResetAt
	decision.FailOpen = rate.FailOpen
	span.SetAttributes(attribute.String("meter.category", rate.Category))

	if !rate.Allowed {
		decision.State, _ = state.Transition(StateRateDenied)
		decision.Reason = ReasonRateLimited
		decision.RetryAfter = rate.RetryAfter
		decision.Message = fmt.Sprintf("Rate limit exceeded for %s requests. Try again in %s.",
			rate.Category, formatWait(rate.RetryAfter))
		g.record(decision)
		return decision, nil
	}

	if cost > 0 {
		metadata := map[string]string{
			"endpoint": req.Endpoint,
			"category": rate.Category,
		}
		if req.Operation != "" {
			metadata["operation"] = req.Operation
		}
		for k, v := range req.Metadata {
			metadata[k] = v
		}
		if req.ClientReference != "" {
			metadata["client_reference_id"] = req.ClientReference
		}

		res, err := g.ledger.Debit(ctx, req.Principal, cost, ref, metadata)
		var insufficient *credits.InsufficientCreditsError
		switch {
		case errors.As(err, &insufficient):
			decision.State, _ = state.Transition(StateCreditDenied)
			decision.Reason = ReasonInsufficientCredits
			decision.RequiredCredits = insufficient.Required
			decision.AvailableCredits = insufficient.Available
			decision.Message = fmt.Sprintf("This operation requires %d credits, but you have %d available.",
				insufficient.Required, insufficient.Available)
			g.record(decision)
			return decision, nil

		case err != nil:
			return g.unavailable(span, decision, req, err)

		case res.Duplicate:
			err := fmt.Errorf("reference %s was already debited", ref)
			span.RecordError(err)
			return nil, err
		}
		decision.AvailableCredits = res.Balance.Available
	} else if available, err := g.ledger.Balance(ctx, req.Principal); err == nil {
		decision.AvailableCredits = available
	}

	decision.Allowed = true
	decision.State, _ = state.Transition(StateAdmitted)
	decision.Reason = ReasonOK
	g.record(decision)

	return decision, nil
}

// Settle records the outcome of an admitted operation. A failure with a
// positive cost refunds it; repeated failure reports refund once.
//
// The refund runs under its own timeout even when ctx is already
// cancelled, so an aborted caller does not leak credits.
func (g *Gateway) Settle(ctx context.Context, s Settlement) (State, error) {
	if s.ReferenceID == "" {
		return StateAdmitted, fmt.Errorf("%w: reference_id is required", ErrInvalidRequest)
	}
	if s.Principal == "" {
		return StateAdmitted, fmt.Errorf("%w: principal is required", ErrInvalidRequest)
	}
	if s.Cost < 0 {
		return StateAdmitted, fmt.Errorf("%w: cost cannot be negative", ErrInvalidRequest)
	}

	var next State
	switch s.Outcome {
	case OutcomeSuccess:
		next = StateSettledSuccess
	case OutcomeFailure:
		next = StateSettledFailure
	default:
		return StateAdmitted, fmt.Errorf("%w: outcome must be success or failure, got %q", ErrInvalidRequest, s.Outcome)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.settleTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "gateway.Settle")
	defer span.End()
	span.SetAttributes(attribute.String("meter.outcome", string(s.Outcome)))

	if next == StateSettledFailure && s.Cost > 0 {
		if _, err := g.ledger.Refund(ctx, s.Principal, s.Cost, s.ReferenceID, credits.DefaultRefundDescription); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "refund failed")
			g.logger.Error("failed to refund failed operation",
				"principal", s.Principal,
				"reference_id", s.ReferenceID,
				"cost", s.Cost,
				"error", err,
			)
			return StateAdmitted, err
		}
	}

	if g.metrics != nil {
		g.metrics.RecordSettlement(s.Outcome)
	}
	return StateAdmitted.Transition(next)
}

// Guard authorizes req, runs fn under a deadline and settles the outcome.
//
// The operation is settled as a failure when fn returns an error, exceeds
// the timeout, or panics; the panic is re-raised after the refund. A zero
// timeout uses the configured guard timeout. fn is not called when the
// request is denied.
func (g *Gateway) Guard(ctx context.Context, req Request, timeout time.Duration, fn func(context.Context) error) (decision *AuthDecision, err error) {
	decision, err = g.Authorize(ctx, req)
	if err != nil || !decision.Allowed {
		return decision, err
	}

	if timeout <= 0 {
		timeout = g.guardTimeout
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	settlement := Settlement{
		ReferenceID: decision.ReferenceID,
		Principal:   req.Principal,
		Cost:        decision.Cost,
		Outcome:     OutcomeFailure,
	}

	defer func() {
		if r := recover(); r != nil {
			g.Settle(ctx, settlement)
			panic(r)
		}
	}()

	err = fn(opCtx)
	if err == nil && opCtx.Err() != nil {
		err = opCtx.Err()
	}
	if err == nil {
		settlement.Outcome = OutcomeSuccess
	}

	state, settleErr := g.Settle(ctx, settlement)
	decision.State = state
	if err != nil {
		return decision, err
	}
	return decision, settleErr
}

// unavailable denies the request when storage is down. The decision stays
// pending; nothing was consumed.
func (g *Gateway) unavailable(span trace.Span, decision *AuthDecision, req Request, err error) (*AuthDecision, error) {
	span.RecordError(err)
	if !errors.Is(err, storage.ErrStoreUnavailable) {
		return nil, err
	}

	g.logger.Error("storage unavailable, denying request",
		"principal", req.Principal,
		"endpoint", req.Endpoint,
		"error", err,
	)

	decision.Reason = ReasonUnavailable
	decision.RetryAfter = g.unavailableRetry
	decision.ResetAt = time.Now().Add(g.unavailableRetry)
	decision.Message = "The service is temporarily unavailable. Please retry shortly."
	g.record(decision)

	return decision, fmt.Errorf("authorize: %w", err)
}

func (g *Gateway) record(decision *AuthDecision) {
	if g.metrics != nil {
		g.metrics.RecordDecision(decision.Reason)
	}
}

// formatWait renders a retry hint for messages.
func formatWait(d time.Duration) string {
	if d < time.Second {
		return "a moment"
	}
	return d.Round(time.Second).String()
}
