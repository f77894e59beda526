package credits

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCredits is matched by every *InsufficientCreditsError.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidPrincipal is returned for an empty principal id.
	ErrInvalidPrincipal = errors.New("principal cannot be empty")

	// ErrInvalidType is returned by Credit for types other than purchase,
	// refill and bonus.
	ErrInvalidType = errors.New("invalid credit type")

	// ErrNoUsage is returned by Refund when the reference has no usage
	// entry for the principal.
	ErrNoUsage = errors.New("no usage entry for reference")
)

// InsufficientCreditsError reports a debit the balance cannot cover. It is
// an expected business condition and safe to show to callers.
type InsufficientCreditsError struct {
	PrincipalID string
	Required    int64
	Available   int64
}

// Error implements the error interface.
func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// Unwrap returns ErrInsufficientCredits.
func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}
