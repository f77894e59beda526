package credits

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"leadlove-hq/meter/pkg/limits/storage"
)

// TestLedger_DebitExactBalance tests that a debit equal to the balance
// succeeds and one more fails without changing the balance.
func TestLedger_DebitExactBalance(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	mustCredit(t, ledger, "user-1", 3, "evt-1")

	res, err := ledger.Debit(ctx, "user-1", 3, "op-1", nil)
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if res.Balance.Available != 0 {
		t.Errorf("Expected available 0, got %d", res.Balance.Available)
	}
	if res.Transaction.Amount != -3 || res.Transaction.Type != storage.TxUsage {
		t.Errorf("Expected usage entry of -3, got %+v", res.Transaction)
	}

	mustCredit(t, ledger, "user-1", 3, "evt-2")

	_, err = ledger.Debit(ctx, "user-1", 4, "op-2", nil)
	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected InsufficientCreditsError, got %v", err)
	}
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Error("Expected error to match ErrInsufficientCredits")
	}
	if insufficient.Required != 4 || insufficient.Available != 3 {
		t.Errorf("Expected required 4 available 3, got %d/%d", insufficient.Required, insufficient.Available)
	}

	balance, err := ledger.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 3 {
		t.Errorf("Expected balance unchanged at 3, got %d", balance)
	}
}

// TestLedger_RefundIdempotent tests that a double refund changes the
// balance once.
func TestLedger_RefundIdempotent(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	mustCredit(t, ledger, "user-1", 5, "evt-1")
	if _, err := ledger.Debit(ctx, "user-1", 3, "op-1", nil); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}

	first, err := ledger.Refund(ctx, "user-1", 3, "op-1", "")
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if first.Duplicate {
		t.Error("Expected first refund not to be a duplicate")
	}
	if first.Transaction.Description != DefaultRefundDescription {
		t.Errorf("Expected default description, got %q", first.Transaction.Description)
	}

	second, err := ledger.Refund(ctx, "user-1", 3, "op-1", "")
	if err != nil {
		t.Fatalf("Second refund failed: %v", err)
	}
	if !second.Duplicate {
		t.Error("Expected second refund to be a duplicate")
	}

	balance, _ := ledger.Balance(ctx, "user-1")
	if balance != 5 {
		t.Errorf("Expected balance 5, got %d", balance)
	}

	account, _ := ledger.Account(ctx, "user-1")
	if account.UsedLifetime != 3 {
		t.Errorf("Expected used lifetime to stay 3 after refund, got %d", account.UsedLifetime)
	}
}

// TestLedger_CreditIdempotent tests duplicate webhook delivery.
func TestLedger_CreditIdempotent(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := ledger.Credit(ctx, "user-1", 100, storage.TxPurchase, "evt-abc", "starter pack")
		if err != nil {
			t.Fatalf("Credit failed: %v", err)
		}
		if i > 0 && !res.Duplicate {
			t.Errorf("Expected delivery %d to be a duplicate", i+1)
		}
	}

	balance, _ := ledger.Balance(ctx, "user-1")
	if balance != 100 {
		t.Errorf("Expected balance 100, got %d", balance)
	}
}

// TestLedger_DuplicateDebit tests that a repeated debit reference charges
// once.
func TestLedger_DuplicateDebit(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	mustCredit(t, ledger, "user-1", 10, "evt-1")
	ledger.Debit(ctx, "user-1", 2, "op-1", nil)

	res, err := ledger.Debit(ctx, "user-1", 2, "op-1", nil)
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if !res.Duplicate {
		t.Error("Expected duplicate debit")
	}
	if res.Balance.Available != 8 {
		t.Errorf("Expected available 8, got %d", res.Balance.Available)
	}
}

// TestLedger_Validation tests argument checks.
func TestLedger_Validation(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.Debit(ctx, "", 1, "op", nil); !errors.Is(err, ErrInvalidPrincipal) {
		t.Errorf("Expected ErrInvalidPrincipal, got %v", err)
	}
	if _, err := ledger.Debit(ctx, "user-1", 0, "op", nil); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount for zero, got %v", err)
	}
	if _, err := ledger.Refund(ctx, "user-1", -2, "op", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount for negative refund, got %v", err)
	}
	if _, err := ledger.Credit(ctx, "user-1", 5, storage.TxUsage, "evt", ""); !errors.Is(err, ErrInvalidType) {
		t.Errorf("Expected ErrInvalidType for usage credit, got %v", err)
	}
	if _, err := ledger.Credit(ctx, "user-1", 5, storage.TxRefund, "evt", ""); !errors.Is(err, ErrInvalidType) {
		t.Errorf("Expected ErrInvalidType for refund credit, got %v", err)
	}
	if _, err := ledger.History(ctx, "", 10); !errors.Is(err, ErrInvalidPrincipal) {
		t.Errorf("Expected ErrInvalidPrincipal from History, got %v", err)
	}
}

// TestLedger_GeneratedReference tests that an empty reference gets a uuid.
func TestLedger_GeneratedReference(t *testing.T) {
	ledger := newTestLedger(t)

	res, err := ledger.Credit(context.Background(), "user-1", 10, storage.TxBonus, "", "welcome")
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if len(res.Transaction.ReferenceID) != 36 {
		t.Errorf("Expected generated uuid reference, got %q", res.Transaction.ReferenceID)
	}
}

// TestLedger_LowBalance tests the low balance flag.
func TestLedger_LowBalance(t *testing.T) {
	ledger, err := NewLedger(storage.NewMemoryLedgerStore(), Config{LowBalanceThreshold: 5}, nil)
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	ctx := context.Background()

	mustCredit(t, ledger, "user-1", 10, "evt-1")

	res, _ := ledger.Debit(ctx, "user-1", 4, "op-1", nil)
	if res.LowBalance {
		t.Error("Expected no low balance flag at 6")
	}
	res, _ = ledger.Debit(ctx, "user-1", 1, "op-2", nil)
	if !res.LowBalance {
		t.Error("Expected low balance flag at 5")
	}
}

// TestLedger_ReconcileRandomSequence tests that the balance always equals
// the ledger sum.
func TestLedger_ReconcileRandomSequence(t *testing.T) {
	store, err := storage.OpenSQL(storage.SQLConfig{
		Driver: storage.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "ledger.db"),
	})
	if err != nil {
		t.Fatalf("OpenSQL failed: %v", err)
	}
	defer store.Close()

	ledger, err := NewLedger(storage.NewSQLLedgerStore(store), Config{}, nil)
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		ref := fmt.Sprintf("ref-%d", rng.Intn(60))
		amount := int64(rng.Intn(5) + 1)

		switch rng.Intn(3) {
		case 0:
			_, err = ledger.Credit(ctx, "user-1", amount, storage.TxRefill, ref, "")
		case 1:
			_, err = ledger.Debit(ctx, "user-1", amount, ref, nil)
		case 2:
			_, err = ledger.Refund(ctx, "user-1", amount, ref, "")
		}
		if err != nil && !errors.Is(err, ErrInsufficientCredits) && !errors.Is(err, ErrNoUsage) {
			t.Fatalf("Operation %d failed: %v", i, err)
		}
	}

	rec, err := ledger.Reconcile(ctx, "user-1")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !rec.Consistent {
		t.Errorf("Expected consistent ledger, available %d sum %d", rec.Available, rec.LedgerSum)
	}
	if rec.Available < 0 {
		t.Errorf("Expected non-negative balance, got %d", rec.Available)
	}
}

// TestLedger_History tests transaction history ordering.
func TestLedger_History(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	mustCredit(t, ledger, "user-1", 10, "evt-1")
	ledger.Debit(ctx, "user-1", 3, "op-1", map[string]string{"operation": "leadlove_maps"})
	ledger.Refund(ctx, "user-1", 3, "op-1", "")

	txs, err := ledger.History(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("Expected 3 transactions, got %d", len(txs))
	}

	want := []storage.TransactionType{storage.TxRefund, storage.TxUsage, storage.TxPurchase}
	for i, tx := range txs {
		if tx.Type != want[i] {
			t.Errorf("Transaction %d: expected type %s, got %s", i, want[i], tx.Type)
		}
	}
	if txs[1].Metadata["operation"] != "leadlove_maps" {
		t.Errorf("Expected usage metadata, got %v", txs[1].Metadata)
	}
}

// TestLedger_StoreUnavailable tests that storage failures surface as errors.
func TestLedger_StoreUnavailable(t *testing.T) {
	store := storage.NewMemoryLedgerStore()
	ledger, _ := NewLedger(store, Config{}, nil)
	store.Close()

	_, err := ledger.Debit(context.Background(), "user-1", 1, "op-1", nil)
	if !errors.Is(err, storage.ErrStoreUnavailable) {
		t.Errorf("Expected ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, ErrInsufficientCredits) {
		t.Error("Store failure must not look like insufficient credits")
	}
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	ledger, err := NewLedger(storage.NewMemoryLedgerStore(), Config{}, nil)
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	return ledger
}

func mustCredit(t *testing.T, ledger *Ledger, principal string, amount int64, ref string) {
	t.Helper()

	if _, err := ledger.Credit(context.Background(), principal, amount, storage.TxPurchase, ref, ""); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
}

// TestLedger_RefundRequiresUsage tests that refunds are tied to a debit.
func TestLedger_RefundRequiresUsage(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	mustCredit(t, ledger, "user-1", 10, "evt-1")

	tests := []struct {
		name      string
		principal string
		ref       string
	}{
		{name: "unknown reference", principal: "user-1", ref: "never-debited"},
		{name: "empty reference", principal: "user-1", ref: ""},
		{name: "other principal", principal: "user-2", ref: "op-1"},
	}

	if _, err := ledger.Debit(ctx, "user-1", 4, "op-1", nil); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ledger.Refund(ctx, tt.principal, 4, tt.ref, ""); !errors.Is(err, ErrNoUsage) {
				t.Errorf("Expected ErrNoUsage, got %v", err)
			}
		})
	}

	balance, _ := ledger.Balance(ctx, "user-1")
	if balance != 6 {
		t.Errorf("Expected balance 6, got %d", balance)
	}
}

// TestLedger_RefundCappedAtDebit tests that a refund never exceeds the
// debited amount.
func TestLedger_RefundCappedAtDebit(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	mustCredit(t, ledger, "user-1", 10, "evt-1")
	if _, err := ledger.Debit(ctx, "user-1", 3, "op-1", nil); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}

	res, err := ledger.Refund(ctx, "user-1", 50, "op-1", "")
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if res.Transaction.Amount != 3 {
		t.Errorf("Expected refund of 3, got %d", res.Transaction.Amount)
	}
	if res.Balance.Available != 10 {
		t.Errorf("Expected balance 10, got %d", res.Balance.Available)
	}
}
