package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable is matched by every infrastructure failure of a
	// backend: connection errors, timeouts, a closed store.
	ErrStoreUnavailable = errors.New("storage unavailable")

	// ErrDuplicateReference is returned when a ledger entry of the same type
	// already exists for a reference id.
	ErrDuplicateReference = errors.New("duplicate reference")

	// ErrInsufficientBalance is returned by LedgerStore.Debit when the
	// available balance does not cover the amount.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// StoreError wraps an infrastructure failure with the backend and operation
// that produced it. It always matches ErrStoreUnavailable.
type StoreError struct {
	// Backend is the backend name (memory, sqlite, postgres, ...).
	Backend string

	// Op is the store operation that failed.
	Op string

	// Err is the underlying driver error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store: %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports ErrStoreUnavailable as a match for every StoreError.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// NewStoreError creates a StoreError.
func NewStoreError(backend, op string, err error) *StoreError {
	return &StoreError{Backend: backend, Op: op, Err: err}
}

// BalanceError reports a failed debit guard together with the balance the
// store observed, so callers can show required vs. available.
type BalanceError struct {
	Required  int64
	Available int64
}

// Error implements the error interface.
func (e *BalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d, available %d", e.Required, e.Available)
}

// Unwrap returns ErrInsufficientBalance.
func (e *BalanceError) Unwrap() error {
	return ErrInsufficientBalance
}
