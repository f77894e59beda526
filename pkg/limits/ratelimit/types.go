package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultCategory is used for endpoints no rule matches and for rules that
// name an unconfigured category.
const DefaultCategory = "default"

// ErrUnknownCategory is reported (and logged) when a rule names a category
// with no quota. The request is still evaluated against the default
// category.
var ErrUnknownCategory = errors.New("unknown quota category")

// CategoryConfig is the quota for one category.
type CategoryConfig struct {
	// Requests is the maximum number of admitted requests per window.
	Requests int64 `yaml:"requests"`

	// WindowSeconds is the fixed window length.
	WindowSeconds int64 `yaml:"window_seconds"`

	// BlockSeconds is how long a principal is denied after exceeding the
	// limit. Zero means soft limiting: deny until the window rolls over.
	BlockSeconds int64 `yaml:"block_seconds"`

	// EscalationFactor multiplies the block duration once per prior
	// violation within the lookback. Values <= 1 disable escalation.
	EscalationFactor float64 `yaml:"escalation_factor"`

	// MaxBlockSeconds caps an escalated block. Zero means no cap.
	MaxBlockSeconds int64 `yaml:"max_block_seconds"`
}

// Window returns the window length as a duration.
func (c CategoryConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// Validate checks the quota values.
func (c CategoryConfig) Validate() error {
	if c.Requests <= 0 {
		return fmt.Errorf("requests must be positive, got %d", c.Requests)
	}
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive, got %d", c.WindowSeconds)
	}
	if c.BlockSeconds < 0 {
		return fmt.Errorf("block_seconds cannot be negative, got %d", c.BlockSeconds)
	}
	if c.EscalationFactor < 0 {
		return fmt.Errorf("escalation_factor cannot be negative, got %g", c.EscalationFactor)
	}
	if c.MaxBlockSeconds < 0 {
		return fmt.Errorf("max_block_seconds cannot be negative, got %d", c.MaxBlockSeconds)
	}
	if c.MaxBlockSeconds > 0 && c.MaxBlockSeconds < c.BlockSeconds {
		return fmt.Errorf("max_block_seconds (%d) cannot be less than block_seconds (%d)", c.MaxBlockSeconds, c.BlockSeconds)
	}
	return nil
}

// MatchType selects how a Rule compares against an endpoint.
type MatchType string

const (
	// MatchPrefix matches endpoints starting with the pattern.
	MatchPrefix MatchType = "prefix"

	// MatchContains matches endpoints containing the pattern.
	MatchContains MatchType = "contains"
)

// Rule maps endpoints to a category. Rules are evaluated in order and the
// first match wins.
type Rule struct {
	Match    MatchType `yaml:"match"`
	Pattern  string    `yaml:"pattern"`
	Category string    `yaml:"category"`
}

// Matches reports whether the rule applies to endpoint.
func (r Rule) Matches(endpoint string) bool {
	switch r.Match {
	case MatchPrefix:
		return strings.HasPrefix(endpoint, r.Pattern)
	case MatchContains:
		return strings.Contains(endpoint, r.Pattern)
	default:
		return false
	}
}

// Validate checks the rule fields.
func (r Rule) Validate() error {
	if r.Match != MatchPrefix && r.Match != MatchContains {
		return fmt.Errorf("invalid match type %q (must be prefix or contains)", r.Match)
	}
	if r.Pattern == "" {
		return fmt.Errorf("pattern cannot be empty")
	}
	if r.Category == "" {
		return fmt.Errorf("category cannot be empty")
	}
	return nil
}

// FailurePolicy decides what Check does when the window store is
// unavailable.
type FailurePolicy string

const (
	// FailOpen admits requests when the store cannot be reached.
	FailOpen FailurePolicy = "open"

	// FailClosed denies requests when the store cannot be reached.
	FailClosed FailurePolicy = "closed"
)

// Config configures a Limiter.
type Config struct {
	// Categories maps category names to quotas. Must contain "default".
	Categories map[string]CategoryConfig

	// Rules map endpoints to categories, first match wins.
	Rules []Rule

	// FailurePolicy applies when the store is unavailable.
	// Default: open
	FailurePolicy FailurePolicy

	// EscalationLookback bounds how far back prior violations count towards
	// an escalated block.
	// Default: 24 hours
	EscalationLookback time.Duration
}

// DefaultCategories returns the built-in quotas.
func DefaultCategories() map[string]CategoryConfig {
	return map[string]CategoryConfig{
		"auth":          {Requests: 10, WindowSeconds: 300, BlockSeconds: 900, EscalationFactor: 2, MaxBlockSeconds: 7200},
		"enrichment":    {Requests: 10, WindowSeconds: 300, BlockSeconds: 600},
		"leadgen":       {Requests: 20, WindowSeconds: 300, BlockSeconds: 600},
		"export":        {Requests: 5, WindowSeconds: 3600},
		DefaultCategory: {Requests: 100, WindowSeconds: 60},
	}
}

// DefaultRules returns the built-in endpoint mapping.
func DefaultRules() []Rule {
	return []Rule{
		{Match: MatchPrefix, Pattern: "/auth", Category: "auth"},
		{Match: MatchContains, Pattern: "enrich", Category: "enrichment"},
		{Match: MatchContains, Pattern: "export", Category: "export"},
		{Match: MatchContains, Pattern: "leadlove", Category: "leadgen"},
	}
}

// Decision is the outcome of a Check.
type Decision struct {
	// Allowed indicates if the request is admitted.
	Allowed bool

	// Category is the resolved quota category.
	Category string

	// Limit is the category's request limit.
	Limit int64

	// Remaining is how many requests remain in the current window.
	Remaining int64

	// ResetAt is when a denied request may be retried: the block deadline
	// when blocked, otherwise the window end.
	ResetAt time.Time

	// RetryAfter is the time until ResetAt.
	RetryAfter time.Duration

	// Blocked is true when the denial comes from an active block.
	Blocked bool

	// FailOpen is true when the request was admitted because the store was
	// unavailable.
	FailOpen bool
}

// Status is a read-only view of a principal's quota in one category.
type Status struct {
	Category     string     `json:"category"`
	Limit        int64      `json:"limit"`
	Used         int64      `json:"used"`
	Remaining    int64      `json:"remaining"`
	WindowStart  time.Time  `json:"window_start"`
	ResetAt      time.Time  `json:"reset_at"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	Violations   int64      `json:"violations"`
}

// Observer receives limiter events. The limits package adapts it to
// Prometheus.
type Observer interface {
	ObserveCheck(category string, allowed bool, elapsed time.Duration)
	ObserveBlock(category string, duration time.Duration)
	ObserveFailOpen(category string)
}

type nopObserver struct{}

func (nopObserver) ObserveCheck(string, bool, time.Duration) {}
func (nopObserver) ObserveBlock(string, time.Duration)       {}
func (nopObserver) ObserveFailOpen(string)                   {}
