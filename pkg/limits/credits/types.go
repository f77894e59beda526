package credits

import (
	"time"

	"leadlove-hq/meter/pkg/limits/storage"
)

// Config configures a Ledger.
type Config struct {
	// LowBalanceThreshold flags results whose remaining balance is at or
	// below this value. Zero disables the flag.
	LowBalanceThreshold int64
}

// Result is the outcome of a ledger mutation.
type Result struct {
	// Transaction is the entry written, nil for duplicates.
	Transaction *storage.Transaction

	// Balance is the balance after the mutation.
	Balance *storage.Balance

	// Duplicate is true when an entry for the reference already existed and
	// nothing was written.
	Duplicate bool

	// LowBalance is true when the remaining balance reached the configured
	// threshold.
	LowBalance bool
}

// Reconciliation compares the materialized balance with the ledger.
type Reconciliation struct {
	PrincipalID string    `json:"principal_id"`
	Available   int64     `json:"available"`
	LedgerSum   int64     `json:"ledger_sum"`
	Difference  int64     `json:"difference"`
	Consistent  bool      `json:"consistent"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Observer receives ledger events.
type Observer interface {
	ObserveDebit(amount int64)
	ObserveRefund(amount int64)
	ObserveCredit(txType storage.TransactionType, amount int64)
	ObserveInsufficient()
}

type nopObserver struct{}

func (nopObserver) ObserveDebit(int64)                           {}
func (nopObserver) ObserveRefund(int64)                          {}
func (nopObserver) ObserveCredit(storage.TransactionType, int64) {}
func (nopObserver) ObserveInsufficient()                         {}
