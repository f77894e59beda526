package limits

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTransition is returned when an operation moves to a state
	// its current state does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidRequest is returned for malformed authorize and settle
	// requests.
	ErrInvalidRequest = errors.New("invalid request")
)

// Reason explains an authorize decision.
type Reason string

const (
	// ReasonOK means the request was admitted.
	ReasonOK Reason = "ok"

	// ReasonRateLimited means the principal exceeded its category quota.
	ReasonRateLimited Reason = "rate_limited"

	// ReasonInsufficientCredits means the balance cannot cover the cost.
	ReasonInsufficientCredits Reason = "insufficient_credits"

	// ReasonUnavailable means storage could not be reached and the request
	// was denied rather than risk an overdraft.
	ReasonUnavailable Reason = "unavailable"
)

// State is the lifecycle state of one metered operation.
type State string

const (
	StatePending        State = "pending"
	StateAdmitted       State = "admitted"
	StateRateDenied     State = "rate_denied"
	StateCreditDenied   State = "credit_denied"
	StateSettledSuccess State = "settled_success"
	StateSettledFailure State = "settled_failure"
)

var transitions = map[State][]State{
	StatePending:  {StateAdmitted, StateRateDenied, StateCreditDenied},
	StateAdmitted: {StateSettledSuccess, StateSettledFailure},
}

// CanTransition reports whether an operation in state s may move to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Transition returns next if the move is allowed, or ErrInvalidTransition.
func (s State) Transition(next State) (State, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// Outcome is the result of a protected operation reported to Settle.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Request asks to admit one metered operation.
type Request struct {
	// Principal is the opaque caller identity.
	Principal string

	// Endpoint is categorized for rate limiting.
	Endpoint string

	// Cost is the credit cost. When zero and Operation is set, the cost is
	// quoted from the price table.
	Cost int64

	// Operation and Params are priced when Cost is zero.
	Operation string
	Params    map[string]string

	// ClientReference is the caller's own correlation id. It is stored in
	// the usage metadata as client_reference_id; the debit itself is always
	// keyed on a reference generated by the gateway.
	ClientReference string

	// Metadata is stored on the usage entry.
	Metadata map[string]string
}

// AuthDecision is the outcome of Authorize. A denial always carries a
// reason, a message and a retry hint.
type AuthDecision struct {
	Allowed bool   `json:"allowed"`
	State   State  `json:"state"`
	Reason  Reason `json:"reason"`
	Message string `json:"message,omitempty"`

	// ReferenceID must be passed to Settle for admitted operations.
	ReferenceID string `json:"reference_id"`

	// Rate limit details.
	Category   string        `json:"category"`
	Limit      int64         `json:"limit"`
	Remaining  int64         `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"-"`
	FailOpen   bool          `json:"fail_open,omitempty"`

	// Credit details.
	Cost             int64 `json:"cost"`
	RequiredCredits  int64 `json:"required_credits,omitempty"`
	AvailableCredits int64 `json:"available_credits"`
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (d *AuthDecision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int64((d.RetryAfter + time.Second - 1) / time.Second)
}

// Settlement reports the outcome of an admitted operation.
type Settlement struct {
	ReferenceID string
	Principal   string
	Cost        int64
	Outcome     Outcome
}

// Config configures a Gateway.
type Config struct {
	// SettleTimeout bounds the refund issued by Settle. Settle runs even if
	// the caller's context is already cancelled.
	// Default: 5 seconds
	SettleTimeout time.Duration

	// GuardTimeout is the default deadline Guard applies to the protected
	// call.
	// Default: 30 seconds
	GuardTimeout time.Duration

	// UnavailableRetry is the retry hint returned when storage is down.
	// Default: 30 seconds
	UnavailableRetry time.Duration
}
