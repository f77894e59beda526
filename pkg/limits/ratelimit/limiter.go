package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"leadlove-hq/meter/pkg/limits/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("leadlove-hq/meter/limits/ratelimit")

// maxBlockSeconds is the longest block a time.Duration can hold.
const maxBlockSeconds = math.MaxInt64 / int64(time.Second)

// Limiter admits or denies requests per principal and endpoint category
// using fixed windows persisted in a WindowStore.
//
// The limiter holds no per-principal state in memory. Every admission is a
// conditional update in the store, so several processes sharing one store
// never admit more than the configured limit.
//
// # Algorithm
//
//  1. Resolve the endpoint to a category and its quota
//  2. Align the window: start = floor(now / window) * window
//  3. Deny if a block on any retained window is still in the future
//  4. Restart the count at zero if this window's block has ended
//  5. Increment the counter if it is below the limit
//  6. On rejection, set a block if the category has one
type Limiter struct {
	store    storage.WindowStore
	observer Observer
	logger   *slog.Logger

	mu         sync.RWMutex
	categories map[string]CategoryConfig
	rules      []Rule
	policy     FailurePolicy
	lookback   time.Duration

	// unknown records categories already reported as unconfigured.
	unknown sync.Map

	// failWarn throttles the store-unavailable warning.
	failWarn rate.Sometimes

	now func() time.Time
}

// NewLimiter creates a limiter backed by store.
//
// Nil Categories default to DefaultCategories and nil Rules to
// DefaultRules. A nil observer discards events.
func NewLimiter(store storage.WindowStore, cfg Config, observer Observer) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("window store cannot be nil")
	}
	if cfg.Categories == nil {
		cfg.Categories = DefaultCategories()
	}
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = FailOpen
	}
	if cfg.EscalationLookback == 0 {
		cfg.EscalationLookback = 24 * time.Hour
	}
	if cfg.FailurePolicy != FailOpen && cfg.FailurePolicy != FailClosed {
		return nil, fmt.Errorf("invalid failure policy %q (must be open or closed)", cfg.FailurePolicy)
	}
	if err := validateCategories(cfg.Categories, cfg.Rules); err != nil {
		return nil, err
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &Limiter{
		store:      store,
		observer:   observer,
		logger:     slog.Default().With("component", "limits.ratelimit"),
		categories: copyCategories(cfg.Categories),
		rules:      append([]Rule(nil), cfg.Rules...),
		policy:     cfg.FailurePolicy,
		lookback:   cfg.EscalationLookback,
		failWarn:   rate.Sometimes{Interval: time.Minute},
		now:        time.Now,
	}, nil
}

// SetCategories atomically replaces the quotas and rules. Used on config
// reload; in-flight checks finish with the previous set.
func (l *Limiter) SetCategories(categories map[string]CategoryConfig, rules []Rule) error {
	if err := validateCategories(categories, rules); err != nil {
		return err
	}

	l.mu.Lock()
	l.categories = copyCategories(categories)
	l.rules = append([]Rule(nil), rules...)
	l.mu.Unlock()

	l.unknown.Range(func(key, _ any) bool {
		l.unknown.Delete(key)
		return true
	})

	l.logger.Info("quota categories updated", "categories", len(categories), "rules", len(rules))
	return nil
}

// Categorize maps an endpoint to its category. Unmatched endpoints and
// rules naming an unconfigured category resolve to DefaultCategory.
func (l *Limiter) Categorize(endpoint string) string {
	category, _ := l.resolve(endpoint)
	return category
}

// Category returns the quota for a category.
func (l *Limiter) Category(name string) (CategoryConfig, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg, ok := l.categories[name]
	return cfg, ok
}

// Check consumes one request for principal against the endpoint's category.
//
// When the store is unavailable, a fail-open limiter admits the request
// with Decision.FailOpen set; a fail-closed limiter returns an error
// matching storage.ErrStoreUnavailable.
func (l *Limiter) Check(ctx context.Context, principal, endpoint string) (*Decision, error) {
	if principal == "" {
		return nil, errors.New("principal cannot be empty")
	}

	start := time.Now()
	category, cfg := l.resolve(endpoint)

	ctx, span := tracer.Start(ctx, "ratelimit.Check")
	defer span.End()
	span.SetAttributes(attribute.String("meter.category", category))

	now := l.now()
	decision, err := l.check(ctx, principal, category, cfg, now)
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, storage.ErrStoreUnavailable) || l.policy == FailClosed {
			return nil, err
		}

		l.observer.ObserveFailOpen(category)
		l.failWarn.Do(func() {
			l.logger.Warn("window store unavailable, admitting requests",
				"category", category,
				"error", err,
			)
		})

		return &Decision{
			Allowed:   true,
			Category:  category,
			Limit:     cfg.Requests,
			Remaining: cfg.Requests,
			ResetAt:   windowEnd(now, cfg.WindowSeconds),
			FailOpen:  true,
		}, nil
	}

	span.SetAttributes(attribute.Bool("meter.allowed", decision.Allowed))
	l.observer.ObserveCheck(category, decision.Allowed, time.Since(start))

	return decision, nil
}

func (l *Limiter) check(ctx context.Context, principal, category string, cfg CategoryConfig, now time.Time) (*Decision, error) {
	start := windowStart(now, cfg.WindowSeconds)
	end := time.Unix(start+cfg.WindowSeconds, 0)

	rec, err := l.store.GetOrCreate(ctx, principal, category, start, cfg.WindowSeconds)
	if err != nil {
		return nil, err
	}

	blockedUntil := rec.BlockedUntil
	if !rec.Blocked(now) {
		// A block set in an earlier window can outlive it.
		blockedUntil, err = l.store.ActiveBlock(ctx, principal, category, now)
		if err != nil {
			return nil, err
		}
	}
	if blockedUntil != nil {
		return l.deny(category, cfg, now, *blockedUntil, true), nil
	}
	if rec.BlockedUntil != nil {
		rec, err = l.store.ResetExpiredBlock(ctx, rec, now)
		if err != nil {
			return nil, err
		}
	}

	accepted, updated, err := l.store.IncrementIfUnderLimit(ctx, rec, cfg.Requests, now)
	if err != nil {
		return nil, err
	}
	if accepted {
		return &Decision{
			Allowed:    true,
			Category:   category,
			Limit:      cfg.Requests,
			Remaining:  max(cfg.Requests-updated.RequestCount, 0),
			ResetAt:    end,
			RetryAfter: 0,
		}, nil
	}

	if cfg.BlockSeconds == 0 {
		return l.deny(category, cfg, now, end, false), nil
	}

	duration := l.blockDuration(ctx, principal, category, cfg, now)
	until := now.Add(duration)
	set, current, err := l.store.SetBlock(ctx, updated, until, now)
	if err != nil {
		return nil, err
	}
	if !set && current.BlockedUntil != nil {
		// A concurrent rejection blocked the window first.
		return l.deny(category, cfg, now, *current.BlockedUntil, true), nil
	}

	l.observer.ObserveBlock(category, duration)
	l.logger.Info("quota exceeded, principal blocked",
		"principal", principal,
		"category", category,
		"limit", cfg.Requests,
		"blocked_until", until,
	)

	return l.deny(category, cfg, now, until, true), nil
}

// blockDuration applies escalation for prior violations. Failing to count
// violations falls back to the base block.
func (l *Limiter) blockDuration(ctx context.Context, principal, category string, cfg CategoryConfig, now time.Time) time.Duration {
	base := time.Duration(cfg.BlockSeconds) * time.Second
	if cfg.EscalationFactor <= 1 {
		return base
	}

	prior, err := l.store.Violations(ctx, principal, category, now.Add(-l.lookback))
	if err != nil {
		l.logger.Debug("failed to count violations", "category", category, "error", err)
		return base
	}

	seconds := float64(cfg.BlockSeconds) * math.Pow(cfg.EscalationFactor, float64(prior))
	if cfg.MaxBlockSeconds > 0 && seconds > float64(cfg.MaxBlockSeconds) {
		seconds = float64(cfg.MaxBlockSeconds)
	}
	if seconds >= float64(maxBlockSeconds) {
		return time.Duration(maxBlockSeconds) * time.Second
	}
	return time.Duration(seconds * float64(time.Second))
}

func (l *Limiter) deny(category string, cfg CategoryConfig, now, resetAt time.Time, blocked bool) *Decision {
	return &Decision{
		Allowed:    false,
		Category:   category,
		Limit:      cfg.Requests,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: max(resetAt.Sub(now), 0),
		Blocked:    blocked,
	}
}

// Status returns the principal's current window without consuming a
// request. It never writes to the store.
func (l *Limiter) Status(ctx context.Context, principal, endpoint string) (*Status, error) {
	if principal == "" {
		return nil, errors.New("principal cannot be empty")
	}

	category, cfg := l.resolve(endpoint)
	now := l.now()
	start := windowStart(now, cfg.WindowSeconds)

	rec, err := l.store.Get(ctx, principal, category, start)
	if err != nil {
		return nil, err
	}
	var used int64
	if rec != nil {
		used = rec.RequestCount
		if rec.BlockedUntil != nil && !rec.Blocked(now) {
			// The next check restarts the count.
			used = 0
		}
	}
	blockedUntil, err := l.store.ActiveBlock(ctx, principal, category, now)
	if err != nil {
		return nil, err
	}
	violations, err := l.store.Violations(ctx, principal, category, now.Add(-l.lookback))
	if err != nil {
		return nil, err
	}

	status := &Status{
		Category:     category,
		Limit:        cfg.Requests,
		Used:         used,
		Remaining:    max(cfg.Requests-used, 0),
		WindowStart:  time.Unix(start, 0),
		ResetAt:      time.Unix(start+cfg.WindowSeconds, 0),
		BlockedUntil: blockedUntil,
		Violations:   violations,
	}
	if blockedUntil != nil {
		status.Remaining = 0
		status.ResetAt = *blockedUntil
	}
	return status, nil
}

// resolve returns the category name and quota for an endpoint.
func (l *Limiter) resolve(endpoint string) (string, CategoryConfig) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, rule := range l.rules {
		if !rule.Matches(endpoint) {
			continue
		}
		if cfg, ok := l.categories[rule.Category]; ok {
			return rule.Category, cfg
		}
		if _, reported := l.unknown.LoadOrStore(rule.Category, struct{}{}); !reported {
			l.logger.Warn("rule references unconfigured category, using default",
				"category", rule.Category,
				"pattern", rule.Pattern,
				"error", ErrUnknownCategory,
			)
		}
		break
	}

	return DefaultCategory, l.categories[DefaultCategory]
}

func validateCategories(categories map[string]CategoryConfig, rules []Rule) error {
	if _, ok := categories[DefaultCategory]; !ok {
		return fmt.Errorf("categories must include %q", DefaultCategory)
	}
	for name, cfg := range categories {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("category %q: %w", name, err)
		}
	}
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

func copyCategories(in map[string]CategoryConfig) map[string]CategoryConfig {
	out := make(map[string]CategoryConfig, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// windowStart floors now to the window length in unix seconds.
func windowStart(now time.Time, windowSeconds int64) int64 {
	return (now.Unix() / windowSeconds) * windowSeconds
}

func windowEnd(now time.Time, windowSeconds int64) time.Time {
	return time.Unix(windowStart(now, windowSeconds)+windowSeconds, 0)
}
