package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// windowBackends returns every WindowStore implementation under test.
func windowBackends(t *testing.T) map[string]WindowStore {
	t.Helper()

	return map[string]WindowStore{
		"memory": NewMemoryWindowStore(),
		"sqlite": NewSQLWindowStore(newTestDB(t, DriverSQLite)),
	}
}

// ledgerBackends returns every LedgerStore implementation under test.
func ledgerBackends(t *testing.T) map[string]LedgerStore {
	t.Helper()

	return map[string]LedgerStore{
		"memory": NewMemoryLedgerStore(),
		"sqlite": NewSQLLedgerStore(newTestDB(t, DriverSQLite)),
	}
}

func TestWindowStore_GetOrCreate(t *testing.T) {
	for name, store := range windowBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rec, err := store.GetOrCreate(ctx, "user-1", "auth", 600, 300)
			if err != nil {
				t.Fatalf("GetOrCreate failed: %v", err)
			}
			if rec.RequestCount != 0 {
				t.Errorf("Expected count 0, got %d", rec.RequestCount)
			}
			if rec.WindowEnd() != 900 {
				t.Errorf("Expected window end 900, got %d", rec.WindowEnd())
			}

			if _, _, err := store.IncrementIfUnderLimit(ctx, rec, 10, time.Unix(601, 0)); err != nil {
				t.Fatalf("IncrementIfUnderLimit failed: %v", err)
			}

			// Second call returns the existing record rather than a fresh one.
			again, err := store.GetOrCreate(ctx, "user-1", "auth", 600, 300)
			if err != nil {
				t.Fatalf("GetOrCreate failed: %v", err)
			}
			if again.RequestCount != 1 {
				t.Errorf("Expected count 1 on existing record, got %d", again.RequestCount)
			}
		})
	}
}

func TestWindowStore_GetOrCreateValidation(t *testing.T) {
	for name, store := range windowBackends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.GetOrCreate(context.Background(), "", "auth", 0, 300); err == nil {
				t.Error("Expected error for empty principal")
			}
			if _, err := store.GetOrCreate(context.Background(), "user-1", "", 0, 300); err == nil {
				t.Error("Expected error for empty category")
			}
		})
	}
}

func TestWindowStore_IncrementIfUnderLimit(t *testing.T) {
	for name, store := range windowBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Unix(1000, 0)

			rec, err := store.GetOrCreate(ctx, "user-1", "export", 900, 300)
			if err != nil {
				t.Fatalf("GetOrCreate failed: %v", err)
			}

			for i := 1; i <= 3; i++ {
				ok, updated, err := store.IncrementIfUnderLimit(ctx, rec, 3, now)
				if err != nil {
					t.Fatalf("IncrementIfUnderLimit failed: %v", err)
				}
				if !ok {
					t.Fatalf("Expected increment %d to be accepted", i)
				}
				if updated.RequestCount != int64(i) {
					t.Errorf("Expected count %d, got %d", i, updated.RequestCount)
				}
				if updated.LastRequestAt == nil || !updated.LastRequestAt.Equal(now) {
					t.Errorf("Expected last request at %v, got %v", now, updated.LastRequestAt)
				}
			}

			ok, current, err := store.IncrementIfUnderLimit(ctx, rec, 3, now)
			if err != nil {
				t.Fatalf("IncrementIfUnderLimit failed: %v", err)
			}
			if ok {
				t.Error("Expected increment at limit to be rejected")
			}
			if current.RequestCount != 3 {
				t.Errorf("Expected count to stay 3, got %d", current.RequestCount)
			}
		})
	}
}

func TestWindowStore_ConcurrentIncrement(t *testing.T) {
	for name, store := range windowBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rec, err := store.GetOrCreate(ctx, "user-1", "enrichment", 0, 300)
			if err != nil {
				t.Fatalf("GetOrCreate failed: %v", err)
			}

			var (
				wg       sync.WaitGroup
				accepted atomic.Int64
			)
			for i := 0; i < 30; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, _, err := store.IncrementIfUnderLimit(ctx, rec, 20, time.Unix(10, 0))
					if err != nil {
						t.Errorf("IncrementIfUnderLimit failed: %v", err)
						return
					}
					if ok {
						accepted.Add(1)
					}
				}()
			}
			wg.Wait()

			if got := accepted.Load(); got != 20 {
				t.Errorf("Expected exactly 20 accepted increments, got %d", got)
			}
		})
	}
}

func TestWindowStore_BlockAcrossWindows(t *testing.T) {
	for name, store := range windowBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rec, err := store.GetOrCreate(ctx, "user-1", "enrichment", 0, 300)
			if err != nil {
				t.Fatalf("GetOrCreate failed: %v", err)
			}

			_, blocked, err := store.SetBlock(ctx, rec, time.Unix(700, 0), time.Unix(100, 0))
			if err != nil {
				t.Fatalf("SetBlock failed: %v", err)
			}
			if blocked.ViolationsCount != 1 {
				t.Errorf("Expected 1 violation, got %d", blocked.ViolationsCount)
			}
			if !blocked.Blocked(time.Unix(699, 0)) {
				t.Error("Expected record blocked before deadline")
			}
			if blocked.Blocked(time.Unix(700, 0)) {
				t.Error("Expected block to expire exactly at deadline")
			}

			// t=400 is in the next window but the block still applies.
			until, err := store.ActiveBlock(ctx, "user-1", "enrichment", time.Unix(400, 0))
			if err != nil {
				t.Fatalf("ActiveBlock failed: %v", err)
			}
			if until == nil || until.Unix() != 700 {
				t.Fatalf("Expected active block until 700, got %v", until)
			}

			until, err = store.ActiveBlock(ctx, "user-1", "enrichment", time.Unix(700, 0))
			if err != nil {
				t.Fatalf("ActiveBlock failed: %v", err)
			}
			if until != nil {
				t.Errorf("Expected no active block at deadline, got %v", until)
			}

			// Other categories are unaffected.
			until, err = store.ActiveBlock(ctx, "user-1", "auth", time.Unix(400, 0))
			if err != nil {
				t.Fatalf("ActiveBlock failed: %v", err)
			}
			if until != nil {
				t.Errorf("Expected no block for other category, got %v", until)
			}
		})
	}
}

func TestWindowStore_SetBlockOncePerActiveBlock(t *testing.T) {
	for name, store := range windowBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Unix(100, 0)

			rec, err := store.GetOrCreate(ctx, "user-1", "auth", 0, 300)
			if err != nil {
				t.Fatalf("GetOrCreate failed: %v", err)
			}

			var (
				wg  sync.WaitGroup
				set atomic.Int64
			)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ok, _, err := store.SetBlock(ctx, rec, now.Add(time.Duration(60+i)*time.Second), now)
					if err != nil {
						t.Errorf("SetBlock failed: %v", err)
					}
					if ok {
						set.Add(1)
					}
				}(i)
			}
			wg.Wait()
			if got := set.Load(); got != 1 {
				t.Errorf("Expected exactly 1 block set, got %d", got)
			}

			ok, current, err := store.SetBlock(ctx, rec, now.Add(time.Hour), now.Add(time.Second))
			if err != nil {
				t.Fatalf("SetBlock failed: %v", err)
			}
			if ok {
				t.Error("Expected SetBlock to be refused while blocked")
			}
			if current.ViolationsCount != 1 {
				t.Errorf("Expected 1 violation while blocked, got %d", current.ViolationsCount)
			}
			if current.BlockedUntil == nil || current.BlockedUntil.Sub(now) > 70*time.Second {
				t.Errorf("Expected the first block to stay, got %v", current.BlockedUntil)
			}

			// Once the block has ended a new one can be set.
			later := current.BlockedUntil.Add(time.Second)
			ok, again, err := store.SetBlock(ctx, rec, later.Add(time.Minute), later)
			if err != nil {
				t.Fatalf("SetBlock failed: %v", err)
			}
			if !ok || again.ViolationsCount != 2 || again.BlockedUntil.Unix() != later.Add(time.Minute).Unix() {
				t.Errorf("Expected second block until %v with 2 violations, got %+v", later.Add(time.Minute), again)
			}
		})
	}
}

func TestWindowStore_ResetExpiredBlock(t *testing.T) {
	for name, store := range windowBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rec, err := store.GetOrCreate(ctx, "user-1", "export", 0, 3600)
			if err != nil {
				t.Fatalf("GetOrCreate failed: %v", err)
			}
			for i := 0; i < 2; i++ {
				if _, _, err := store.IncrementIfUnderLimit(ctx, rec, 2, time.Unix(1, 0)); err != nil {
					t.Fatalf("IncrementIfUnderLimit failed: %v", err)
				}
			}
			if _, _, err := store.SetBlock(ctx, rec, time.Unix(62, 0), time.Unix(2, 0)); err != nil {
				t.Fatalf("SetBlock failed: %v", err)
			}

			// Still blocked: unchanged.
			current, err := store.ResetExpiredBlock(ctx, rec, time.Unix(61, 0))
			if err != nil {
				t.Fatalf("ResetExpiredBlock failed: %v", err)
			}
			if current.RequestCount != 2 || current.BlockedUntil == nil {
				t.Errorf("Expected active block untouched, got %+v", current)
			}

			current, err = store.ResetExpiredBlock(ctx, rec, time.Unix(62, 0))
			if err != nil {
				t.Fatalf("ResetExpiredBlock failed: %v", err)
			}
			if current.RequestCount != 0 || current.BlockedUntil != nil {
				t.Errorf("Expected count 0 and no block after expiry, got %+v", current)
			}
			if current.ViolationsCount != 1 {
				t.Errorf("Expected violation kept, got %d", current.ViolationsCount)
			}

			// Without a block the count is left alone.
			if _, _, err := store.IncrementIfUnderLimit(ctx, rec, 2, time.Unix(63, 0)); err != nil {
				t.Fatalf("IncrementIfUnderLimit failed: %v", err)
			}
			current, err = store.ResetExpiredBlock(ctx, rec, time.Unix(64, 0))
			if err != nil {
				t.Fatalf("ResetExpiredBlock failed: %v", err)
			}
			if current.RequestCount != 1 {
				t.Errorf("Expected count 1 without a block, got %d", current.RequestCount)
			}
		})
	}
}

func TestWindowStore_GetDoesNotCreate(t *testing.T) {
	for name, store := range windowBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rec, err := store.Get(ctx, "user-1", "auth", 0)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if rec != nil {
				t.Fatalf("Expected no record, got %+v", rec)
			}

			deleted, err := store.PurgeExpired(ctx, time.Unix(1_000_000, 0))
			if err != nil {
				t.Fatalf("PurgeExpired failed: %v", err)
			}
			if deleted != 0 {
				t.Errorf("Expected Get to leave no rows, purged %d", deleted)
			}

			if _, err := store.GetOrCreate(ctx, "user-1", "auth", 0, 300); err != nil {
				t.Fatalf("GetOrCreate failed: %v", err)
			}
			rec, err = store.Get(ctx, "user-1", "auth", 0)
			if err != nil || rec == nil || rec.WindowSeconds != 300 {
				t.Errorf("Expected stored record, got %+v, %v", rec, err)
			}
		})
	}
}

func TestWindowStore_Violations(t *testing.T) {
	for name, store := range windowBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, start := range []int64{0, 300, 600} {
				rec, err := store.GetOrCreate(ctx, "user-1", "auth", start, 300)
				if err != nil {
					t.Fatalf("GetOrCreate failed: %v", err)
				}
				if _, _, err := store.SetBlock(ctx, rec, time.Unix(start+900, 0), time.Unix(start, 0)); err != nil {
					t.Fatalf("SetBlock failed: %v", err)
				}
			}

			total, err := store.Violations(ctx, "user-1", "auth", time.Unix(300, 0))
			if err != nil {
				t.Fatalf("Violations failed: %v", err)
			}
			if total != 2 {
				t.Errorf("Expected 2 violations since 300, got %d", total)
			}
		})
	}
}

func TestWindowStore_PurgeExpired(t *testing.T) {
	for name, store := range windowBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Ended at 300, no block: purged.
			if _, err := store.GetOrCreate(ctx, "user-1", "auth", 0, 300); err != nil {
				t.Fatalf("GetOrCreate failed: %v", err)
			}
			// Ended at 600 but blocked until 5000: kept.
			blocked, err := store.GetOrCreate(ctx, "user-2", "auth", 300, 300)
			if err != nil {
				t.Fatalf("GetOrCreate failed: %v", err)
			}
			if _, _, err := store.SetBlock(ctx, blocked, time.Unix(5000, 0), time.Unix(400, 0)); err != nil {
				t.Fatalf("SetBlock failed: %v", err)
			}
			// Still open at cutoff: kept.
			if _, err := store.GetOrCreate(ctx, "user-3", "auth", 900, 300); err != nil {
				t.Fatalf("GetOrCreate failed: %v", err)
			}

			deleted, err := store.PurgeExpired(ctx, time.Unix(1000, 0))
			if err != nil {
				t.Fatalf("PurgeExpired failed: %v", err)
			}
			if deleted != 1 {
				t.Errorf("Expected 1 purged record, got %d", deleted)
			}

			until, err := store.ActiveBlock(ctx, "user-2", "auth", time.Unix(1000, 0))
			if err != nil {
				t.Fatalf("ActiveBlock failed: %v", err)
			}
			if until == nil {
				t.Error("Expected blocked record to survive purge")
			}
		})
	}
}

func TestLedgerStore_DepositAndDebit(t *testing.T) {
	for name, store := range ledgerBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			bal, err := store.Deposit(ctx, &Transaction{PrincipalID: "user-1", Amount: 100, Type: TxPurchase, ReferenceID: "evt-1"})
			if err != nil {
				t.Fatalf("Deposit failed: %v", err)
			}
			if bal.Available != 100 {
				t.Errorf("Expected available 100, got %d", bal.Available)
			}

			bal, err = store.Debit(ctx, &Transaction{PrincipalID: "user-1", Amount: -30, Type: TxUsage, ReferenceID: "op-1"})
			if err != nil {
				t.Fatalf("Debit failed: %v", err)
			}
			if bal.Available != 70 {
				t.Errorf("Expected available 70, got %d", bal.Available)
			}
			if bal.UsedLifetime != 30 {
				t.Errorf("Expected used lifetime 30, got %d", bal.UsedLifetime)
			}

			sum, err := store.SumTransactions(ctx, "user-1")
			if err != nil {
				t.Fatalf("SumTransactions failed: %v", err)
			}
			if sum != bal.Available {
				t.Errorf("Expected ledger sum %d to match available, got %d", bal.Available, sum)
			}
		})
	}
}

func TestLedgerStore_DebitExactBalance(t *testing.T) {
	for name, store := range ledgerBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Deposit(ctx, &Transaction{PrincipalID: "user-1", Amount: 5, Type: TxBonus, ReferenceID: "bonus-1"}); err != nil {
				t.Fatalf("Deposit failed: %v", err)
			}

			bal, err := store.Debit(ctx, &Transaction{PrincipalID: "user-1", Amount: -5, Type: TxUsage, ReferenceID: "op-1"})
			if err != nil {
				t.Fatalf("Debit of exact balance failed: %v", err)
			}
			if bal.Available != 0 {
				t.Errorf("Expected available 0, got %d", bal.Available)
			}
		})
	}
}

func TestLedgerStore_DebitInsufficient(t *testing.T) {
	for name, store := range ledgerBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Deposit(ctx, &Transaction{PrincipalID: "user-1", Amount: 2, Type: TxRefill, ReferenceID: "refill-1"}); err != nil {
				t.Fatalf("Deposit failed: %v", err)
			}

			_, err := store.Debit(ctx, &Transaction{PrincipalID: "user-1", Amount: -3, Type: TxUsage, ReferenceID: "op-1"})
			var balErr *BalanceError
			if !errors.As(err, &balErr) {
				t.Fatalf("Expected BalanceError, got %v", err)
			}
			if !errors.Is(err, ErrInsufficientBalance) {
				t.Error("Expected error to match ErrInsufficientBalance")
			}
			if balErr.Required != 3 || balErr.Available != 2 {
				t.Errorf("Expected required 3 available 2, got %d/%d", balErr.Required, balErr.Available)
			}

			// No ledger entry and no balance change.
			txs, err := store.ListTransactions(ctx, "user-1", 0)
			if err != nil {
				t.Fatalf("ListTransactions failed: %v", err)
			}
			if len(txs) != 1 {
				t.Errorf("Expected 1 transaction, got %d", len(txs))
			}
			bal, err := store.GetBalance(ctx, "user-1")
			if err != nil {
				t.Fatalf("GetBalance failed: %v", err)
			}
			if bal.Available != 2 || bal.UsedLifetime != 0 {
				t.Errorf("Expected balance unchanged (2/0), got %d/%d", bal.Available, bal.UsedLifetime)
			}
		})
	}
}

func TestLedgerStore_DuplicateReference(t *testing.T) {
	for name, store := range ledgerBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			deposit := func() (*Balance, error) {
				return store.Deposit(ctx, &Transaction{PrincipalID: "user-1", Amount: 50, Type: TxPurchase, ReferenceID: "evt-42"})
			}
			if _, err := deposit(); err != nil {
				t.Fatalf("Deposit failed: %v", err)
			}
			bal, err := deposit()
			if !errors.Is(err, ErrDuplicateReference) {
				t.Fatalf("Expected ErrDuplicateReference, got %v", err)
			}
			if bal == nil || bal.Available != 50 {
				t.Errorf("Expected balance 50 after duplicate, got %+v", bal)
			}

			// Same reference with a different type is a distinct entry.
			if _, err := store.Deposit(ctx, &Transaction{PrincipalID: "user-1", Amount: 5, Type: TxBonus, ReferenceID: "evt-42"}); err != nil {
				t.Errorf("Expected different type to be accepted, got %v", err)
			}
		})
	}
}

func TestLedgerStore_ConcurrentDebit(t *testing.T) {
	for name, store := range ledgerBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Deposit(ctx, &Transaction{PrincipalID: "user-1", Amount: 10, Type: TxPurchase, ReferenceID: "evt-1"}); err != nil {
				t.Fatalf("Deposit failed: %v", err)
			}

			var (
				wg       sync.WaitGroup
				accepted atomic.Int64
			)
			for i := 0; i < 25; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := store.Debit(ctx, &Transaction{
						PrincipalID: "user-1",
						Amount:      -1,
						Type:        TxUsage,
						ReferenceID: fmt.Sprintf("op-%d", i),
					})
					if err == nil {
						accepted.Add(1)
					} else if !errors.Is(err, ErrInsufficientBalance) {
						t.Errorf("Unexpected debit error: %v", err)
					}
				}(i)
			}
			wg.Wait()

			if got := accepted.Load(); got != 10 {
				t.Errorf("Expected exactly 10 successful debits, got %d", got)
			}
			bal, err := store.GetBalance(ctx, "user-1")
			if err != nil {
				t.Fatalf("GetBalance failed: %v", err)
			}
			if bal.Available != 0 {
				t.Errorf("Expected available 0, got %d", bal.Available)
			}
		})
	}
}

func TestLedgerStore_ListTransactions(t *testing.T) {
	for name, store := range ledgerBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Unix(1700000000, 0)

			for i := 0; i < 4; i++ {
				_, err := store.Deposit(ctx, &Transaction{
					PrincipalID: "user-1",
					Amount:      int64(i + 1),
					Type:        TxBonus,
					ReferenceID: fmt.Sprintf("bonus-%d", i),
					Metadata:    map[string]string{"campaign": "launch"},
					CreatedAt:   base.Add(time.Duration(i) * time.Minute),
				})
				if err != nil {
					t.Fatalf("Deposit failed: %v", err)
				}
			}
			if _, err := store.Deposit(ctx, &Transaction{PrincipalID: "user-2", Amount: 9, Type: TxBonus, ReferenceID: "other"}); err != nil {
				t.Fatalf("Deposit failed: %v", err)
			}

			txs, err := store.ListTransactions(ctx, "user-1", 2)
			if err != nil {
				t.Fatalf("ListTransactions failed: %v", err)
			}
			if len(txs) != 2 {
				t.Fatalf("Expected 2 transactions, got %d", len(txs))
			}
			if txs[0].ReferenceID != "bonus-3" || txs[1].ReferenceID != "bonus-2" {
				t.Errorf("Expected newest first, got %s, %s", txs[0].ReferenceID, txs[1].ReferenceID)
			}
			if txs[0].Metadata["campaign"] != "launch" {
				t.Errorf("Expected metadata to round-trip, got %v", txs[0].Metadata)
			}
			if txs[0].ID == "" {
				t.Error("Expected generated transaction id")
			}

			found, err := store.FindByReference(ctx, "bonus-1", TxBonus)
			if err != nil {
				t.Fatalf("FindByReference failed: %v", err)
			}
			if found == nil || found.Amount != 2 {
				t.Errorf("Expected bonus-1 with amount 2, got %+v", found)
			}

			missing, err := store.FindByReference(ctx, "bonus-1", TxRefund)
			if err != nil {
				t.Fatalf("FindByReference failed: %v", err)
			}
			if missing != nil {
				t.Errorf("Expected nil for missing reference, got %+v", missing)
			}
		})
	}
}

func TestLedgerStore_Validation(t *testing.T) {
	for name, store := range ledgerBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			tests := []struct {
				name string
				tx   *Transaction
			}{
				{"nil", nil},
				{"empty principal", &Transaction{Amount: 1, Type: TxBonus, ReferenceID: "r"}},
				{"empty reference", &Transaction{PrincipalID: "u", Amount: 1, Type: TxBonus}},
				{"unknown type", &Transaction{PrincipalID: "u", Amount: 1, Type: "gift", ReferenceID: "r"}},
				{"negative deposit", &Transaction{PrincipalID: "u", Amount: -1, Type: TxBonus, ReferenceID: "r"}},
			}
			for _, tt := range tests {
				if _, err := store.Deposit(ctx, tt.tx); err == nil {
					t.Errorf("%s: expected validation error", tt.name)
				}
			}

			if _, err := store.Debit(ctx, &Transaction{PrincipalID: "u", Amount: 1, Type: TxUsage, ReferenceID: "r"}); err == nil {
				t.Error("Expected error for positive usage amount")
			}
		})
	}
}

func TestStore_ClosedIsUnavailable(t *testing.T) {
	windows := NewMemoryWindowStore()
	windows.Close()

	_, err := windows.GetOrCreate(context.Background(), "user-1", "auth", 0, 300)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Expected ErrStoreUnavailable from closed window store, got %v", err)
	}

	db := newTestDB(t, DriverSQLite)
	ledger := NewSQLLedgerStore(db)
	db.Close()

	_, err = ledger.GetBalance(context.Background(), "user-1")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Expected ErrStoreUnavailable from closed database, got %v", err)
	}
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != "get_balance" {
		t.Errorf("Expected StoreError for get_balance, got %v", err)
	}
}

func TestSQLStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persistence.db")
	ctx := context.Background()

	db, err := OpenSQL(SQLConfig{Driver: DriverSQLite, DSN: dbPath})
	if err != nil {
		t.Fatalf("OpenSQL failed: %v", err)
	}
	if _, err := NewSQLLedgerStore(db).Deposit(ctx, &Transaction{PrincipalID: "user-1", Amount: 12, Type: TxPurchase, ReferenceID: "evt-1"}); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	db.Close()

	db, err = OpenSQL(SQLConfig{Driver: DriverSQLite, DSN: dbPath})
	if err != nil {
		t.Fatalf("OpenSQL failed on reopen: %v", err)
	}
	defer db.Close()

	bal, err := NewSQLLedgerStore(db).GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if bal.Available != 12 {
		t.Errorf("Expected available 12 after reopen, got %d", bal.Available)
	}
}

func TestOpenSQL_Validation(t *testing.T) {
	if _, err := OpenSQL(SQLConfig{Driver: DriverSQLite}); err == nil {
		t.Error("Expected error for empty dsn")
	}
	if _, err := OpenSQL(SQLConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

func TestDB_Rebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	got := pg.rebind("SELECT a FROM t WHERE b = ? AND c < ?")
	if want := "SELECT a FROM t WHERE b = $1 AND c < $2"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	lite := &DB{driver: DriverSQLite}
	if got := lite.rebind("x = ?"); got != "x = ?" {
		t.Errorf("Expected sqlite query unchanged, got %q", got)
	}
}

func TestDB_InsertIgnore(t *testing.T) {
	my := &DB{driver: DriverMySQL}
	if got, want := my.insertIgnore("t", "a", "b"), "INSERT IGNORE INTO t (a, b) VALUES (?, ?)"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	pg := &DB{driver: DriverPostgres}
	if got, want := pg.insertIgnore("t", "a"), "INSERT INTO t (a) VALUES (?) ON CONFLICT DO NOTHING"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

// newTestDB opens a temporary SQLite database closed at test end.
func newTestDB(t *testing.T, driver string) *DB {
	t.Helper()

	db, err := OpenSQL(SQLConfig{
		Driver:           driver,
		DSN:              filepath.Join(t.TempDir(), "test.db"),
		SnapshotInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}
