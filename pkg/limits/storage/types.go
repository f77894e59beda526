package storage

import (
	"context"
	"time"
)

// WindowStore defines persistence for fixed-window rate limit counters.
// Implementations must be safe for concurrent use. The mutating
// primitives (IncrementIfUnderLimit, SetBlock and ResetExpiredBlock) are
// single conditional updates at the storage layer, so concurrent callers in different processes
// serialize through the store rather than through in-process locks.
type WindowStore interface {
	// GetOrCreate returns the record for the exact window, creating it with
	// a zero count if it does not exist. Concurrent callers for the same key
	// never produce duplicate records.
	GetOrCreate(ctx context.Context, principal, category string, windowStart, windowSeconds int64) (*WindowRecord, error)

	// Get returns the record for the exact window, or nil if none exists.
	Get(ctx context.Context, principal, category string, windowStart int64) (*WindowRecord, error)

	// IncrementIfUnderLimit atomically increments the request count only if
	// the current count is below limit. It returns accepted=false and the
	// unchanged record when the limit has been reached.
	IncrementIfUnderLimit(ctx context.Context, rec *WindowRecord, limit int64, now time.Time) (bool, *WindowRecord, error)

	// SetBlock sets the block deadline on the record and increments its
	// violation count, unless the record already carries a block active at
	// now. It returns set=false and the current record in that case.
	SetBlock(ctx context.Context, rec *WindowRecord, blockedUntil, now time.Time) (bool, *WindowRecord, error)

	// ResetExpiredBlock clears a block that ended at or before now and
	// restarts the record's request count at zero. Records without a block,
	// or with one still active, are returned unchanged.
	ResetExpiredBlock(ctx context.Context, rec *WindowRecord, now time.Time) (*WindowRecord, error)

	// ActiveBlock returns the latest block deadline still in the future for
	// the principal and category across all retained windows, or nil.
	ActiveBlock(ctx context.Context, principal, category string, now time.Time) (*time.Time, error)

	// Violations returns the number of blocks triggered for the principal and
	// category in windows starting at or after since.
	Violations(ctx context.Context, principal, category string, since time.Time) (int64, error)

	// PurgeExpired deletes records whose window ended before olderThan and
	// whose block, if any, also ended before olderThan.
	PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error)

	// Close releases any resources held by the store.
	Close() error
}

// LedgerStore defines persistence for credit balances and their append-only
// transaction log. Every balance mutation is written in the same storage
// transaction as its ledger entry.
type LedgerStore interface {
	// Debit decrements available and increments used lifetime by amount,
	// guarded by available >= amount, and appends a usage transaction with
	// a negative amount. Returns ErrInsufficientBalance (with the balance
	// observed) when the guard fails, and ErrDuplicateReference when a usage
	// entry already exists for the reference.
	Debit(ctx context.Context, tx *Transaction) (*Balance, error)

	// Deposit appends a positive transaction (purchase, refill, bonus,
	// refund) and increments available. Returns ErrDuplicateReference when
	// an entry of the same type already exists for the reference.
	Deposit(ctx context.Context, tx *Transaction) (*Balance, error)

	// GetBalance returns the balance for a principal. A principal that has
	// never been credited has a zero balance.
	GetBalance(ctx context.Context, principal string) (*Balance, error)

	// FindByReference returns the transaction of the given type recorded for
	// a reference, or nil.
	FindByReference(ctx context.Context, referenceID string, txType TransactionType) (*Transaction, error)

	// ListTransactions returns the most recent transactions for a principal,
	// newest first. limit <= 0 returns all of them.
	ListTransactions(ctx context.Context, principal string, limit int) ([]Transaction, error)

	// SumTransactions returns the sum of all transaction amounts for a
	// principal.
	SumTransactions(ctx context.Context, principal string) (int64, error)

	// Close releases any resources held by the store.
	Close() error
}

// WindowRecord is the counter for one principal, category and window.
type WindowRecord struct {
	// PrincipalID is the opaque identifier the request is attributed to.
	PrincipalID string

	// Category is the quota category tag (auth, enrichment, export, default).
	Category string

	// WindowStart is the window start in unix seconds, floor-aligned to
	// WindowSeconds.
	WindowStart int64

	// WindowSeconds is the window length the record was created with.
	WindowSeconds int64

	// RequestCount is the number of admitted requests in the window.
	RequestCount int64

	// BlockedUntil, when set and in the future, denies every request in the
	// category regardless of count.
	BlockedUntil *time.Time

	// ViolationsCount is the number of times a block was triggered.
	ViolationsCount int64

	// LastRequestAt is when the last request was admitted. Informational.
	LastRequestAt *time.Time
}

// WindowEnd returns the unix second at which the window ends.
func (r *WindowRecord) WindowEnd() int64 {
	return r.WindowStart + r.WindowSeconds
}

// Blocked reports whether the record carries a block that is still active
// at now. A block expires exactly at its deadline.
func (r *WindowRecord) Blocked(now time.Time) bool {
	return r.BlockedUntil != nil && r.BlockedUntil.After(now)
}

// clone returns a deep copy so callers never share memory with a backend.
func (r *WindowRecord) clone() *WindowRecord {
	c := *r
	if r.BlockedUntil != nil {
		t := *r.BlockedUntil
		c.BlockedUntil = &t
	}
	if r.LastRequestAt != nil {
		t := *r.LastRequestAt
		c.LastRequestAt = &t
	}
	return &c
}

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	// TxPurchase is credit bought through the billing provider.
	TxPurchase TransactionType = "purchase"

	// TxRefill is a periodic plan refill.
	TxRefill TransactionType = "refill"

	// TxUsage is a debit for a metered operation.
	TxUsage TransactionType = "usage"

	// TxRefund compensates a usage entry whose operation failed.
	TxRefund TransactionType = "refund"

	// TxBonus is a promotional grant.
	TxBonus TransactionType = "bonus"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxPurchase, TxRefill, TxUsage, TxRefund, TxBonus:
		return true
	}
	return false
}

// Transaction is one append-only ledger entry.
type Transaction struct {
	// ID is a unique identifier (uuid).
	ID string `json:"id"`

	// PrincipalID owns the balance the entry applies to.
	PrincipalID string `json:"principal_id"`

	// Amount is signed: positive credits, negative debits.
	Amount int64 `json:"amount"`

	// Type classifies the entry.
	Type TransactionType `json:"type"`

	// ReferenceID correlates the entry with the originating operation or
	// billing event. Unique per type.
	ReferenceID string `json:"reference_id"`

	// Description is a human-readable note.
	Description string `json:"description,omitempty"`

	// Metadata carries caller-supplied context for the entry.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is when the entry was written.
	CreatedAt time.Time `json:"created_at"`
}

// Balance is the materialized projection of a principal's ledger.
type Balance struct {
	PrincipalID  string    `json:"principal_id"`
	Available    int64     `json:"available"`
	UsedLifetime int64     `json:"used_lifetime"`
	UpdatedAt    time.Time `json:"updated_at"`
}
