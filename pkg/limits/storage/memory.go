package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryBackend = "memory"

// MemoryWindowStore implements WindowStore using in-memory maps.
// It provides the same atomic semantics as the SQL store within a single
// process and is intended for development and tests. All data is lost when
// the process exits.
type MemoryWindowStore struct {
	// records maps principal/category/window to the record.
	records map[windowKey]*WindowRecord

	mu     sync.Mutex
	closed bool
}

type windowKey struct {
	principal   string
	category    string
	windowStart int64
}

// NewMemoryWindowStore creates an empty in-memory window store.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{
		records: make(map[windowKey]*WindowRecord),
	}
}

// GetOrCreate returns the record for the window, creating it if needed.
func (m *MemoryWindowStore) GetOrCreate(ctx context.Context, principal, category string, windowStart, windowSeconds int64) (*WindowRecord, error) {
	if err := validateKey(principal, category); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx, "get_or_create"); err != nil {
		return nil, err
	}

	key := windowKey{principal: principal, category: category, windowStart: windowStart}
	rec, ok := m.records[key]
	if !ok {
		rec = &WindowRecord{
			PrincipalID:   principal,
			Category:      category,
			WindowStart:   windowStart,
			WindowSeconds: windowSeconds,
		}
		m.records[key] = rec
	}

	return rec.clone(), nil
}

// Get returns the record for the window without creating it.
func (m *MemoryWindowStore) Get(ctx context.Context, principal, category string, windowStart int64) (*WindowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx, "get"); err != nil {
		return nil, err
	}

	rec, ok := m.records[windowKey{principal: principal, category: category, windowStart: windowStart}]
	if !ok {
		return nil, nil
	}
	return rec.clone(), nil
}

// IncrementIfUnderLimit increments the count if it is below limit.
func (m *MemoryWindowStore) IncrementIfUnderLimit(ctx context.Context, rec *WindowRecord, limit int64, now time.Time) (bool, *WindowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx, "increment"); err != nil {
		return false, nil, err
	}

	stored, ok := m.records[keyOf(rec)]
	if !ok {
		return false, nil, fmt.Errorf("window record not found for %s/%s@%d", rec.PrincipalID, rec.Category, rec.WindowStart)
	}

	if stored.RequestCount >= limit {
		return false, stored.clone(), nil
	}

	stored.RequestCount++
	at := now
	stored.LastRequestAt = &at

	return true, stored.clone(), nil
}

// SetBlock sets the block deadline and increments the violation count
// unless a block is already active.
func (m *MemoryWindowStore) SetBlock(ctx context.Context, rec *WindowRecord, blockedUntil, now time.Time) (bool, *WindowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx, "set_block"); err != nil {
		return false, nil, err
	}

	stored, ok := m.records[keyOf(rec)]
	if !ok {
		return false, nil, fmt.Errorf("window record not found for %s/%s@%d", rec.PrincipalID, rec.Category, rec.WindowStart)
	}

	if stored.Blocked(now) {
		return false, stored.clone(), nil
	}

	until := blockedUntil
	stored.BlockedUntil = &until
	stored.ViolationsCount++

	return true, stored.clone(), nil
}

// ResetExpiredBlock clears an expired block and zeroes the count.
func (m *MemoryWindowStore) ResetExpiredBlock(ctx context.Context, rec *WindowRecord, now time.Time) (*WindowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx, "reset_block"); err != nil {
		return nil, err
	}

	stored, ok := m.records[keyOf(rec)]
	if !ok {
		return nil, fmt.Errorf("window record not found for %s/%s@%d", rec.PrincipalID, rec.Category, rec.WindowStart)
	}

	if stored.BlockedUntil != nil && !stored.Blocked(now) {
		stored.BlockedUntil = nil
		stored.RequestCount = 0
	}
	return stored.clone(), nil
}

// ActiveBlock returns the latest future block deadline for the principal
// and category.
func (m *MemoryWindowStore) ActiveBlock(ctx context.Context, principal, category string, now time.Time) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx, "active_block"); err != nil {
		return nil, err
	}

	var latest *time.Time
	for key, rec := range m.records {
		if key.principal != principal || key.category != category || !rec.Blocked(now) {
			continue
		}
		if latest == nil || rec.BlockedUntil.After(*latest) {
			t := *rec.BlockedUntil
			latest = &t
		}
	}

	return latest, nil
}

// Violations sums the violation counts of windows starting at or after since.
func (m *MemoryWindowStore) Violations(ctx context.Context, principal, category string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx, "violations"); err != nil {
		return 0, err
	}

	var total int64
	for key, rec := range m.records {
		if key.principal == principal && key.category == category && key.windowStart >= since.Unix() {
			total += rec.ViolationsCount
		}
	}

	return total, nil
}

// PurgeExpired deletes records whose window and block both ended before
// olderThan.
func (m *MemoryWindowStore) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx, "purge"); err != nil {
		return 0, err
	}

	cutoff := olderThan.Unix()
	var deleted int64
	for key, rec := range m.records {
		if rec.WindowEnd() >= cutoff {
			continue
		}
		if rec.BlockedUntil != nil && !rec.BlockedUntil.Before(olderThan) {
			continue
		}
		delete(m.records, key)
		deleted++
	}

	return deleted, nil
}

// Len returns the number of stored records.
func (m *MemoryWindowStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Close marks the store closed. Subsequent calls fail with
// ErrStoreUnavailable.
func (m *MemoryWindowStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryWindowStore) checkLocked(ctx context.Context, op string) error {
	if m.closed {
		return NewStoreError(memoryBackend, op, ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return NewStoreError(memoryBackend, op, err)
	}
	return nil
}

func keyOf(rec *WindowRecord) windowKey {
	return windowKey{principal: rec.PrincipalID, category: rec.Category, windowStart: rec.WindowStart}
}

// MemoryLedgerStore implements LedgerStore using in-memory maps.
type MemoryLedgerStore struct {
	balances     map[string]*Balance
	transactions []Transaction

	// refs indexes transactions by reference and type.
	refs map[refKey]int

	mu     sync.Mutex
	closed bool
	now    func() time.Time
}

type refKey struct {
	reference string
	txType    TransactionType
}

// NewMemoryLedgerStore creates an empty in-memory ledger store.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		balances: make(map[string]*Balance),
		refs:     make(map[refKey]int),
		now:      time.Now,
	}
}

// Debit applies a guarded debit and appends the usage entry.
func (m *MemoryLedgerStore) Debit(ctx context.Context, tx *Transaction) (*Balance, error) {
	if err := validateTransaction(tx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx, "debit"); err != nil {
		return nil, err
	}

	key := refKey{reference: tx.ReferenceID, txType: tx.Type}
	if _, dup := m.refs[key]; dup {
		return m.balanceLocked(tx.PrincipalID), ErrDuplicateReference
	}

	amount := -tx.Amount
	bal := m.balanceLocked(tx.PrincipalID)
	if bal.Available < amount {
		return bal, &BalanceError{Required: amount, Available: bal.Available}
	}

	stored := m.ensureBalanceLocked(tx.PrincipalID)
	stored.Available -= amount
	stored.UsedLifetime += amount
	stored.UpdatedAt = m.now()
	m.appendLocked(tx)

	b := *stored
	return &b, nil
}

// Deposit appends a positive entry and increments available.
func (m *MemoryLedgerStore) Deposit(ctx context.Context, tx *Transaction) (*Balance, error) {
	if err := validateTransaction(tx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx, "deposit"); err != nil {
		return nil, err
	}

	key := refKey{reference: tx.ReferenceID, txType: tx.Type}
	if _, dup := m.refs[key]; dup {
		return m.balanceLocked(tx.PrincipalID), ErrDuplicateReference
	}

	stored := m.ensureBalanceLocked(tx.PrincipalID)
	stored.Available += tx.Amount
	stored.UpdatedAt = m.now()
	m.appendLocked(tx)

	b := *stored
	return &b, nil
}

// GetBalance returns the balance for a principal.
func (m *MemoryLedgerStore) GetBalance(ctx context.Context, principal string) (*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx, "get_balance"); err != nil {
		return nil, err
	}

	return m.balanceLocked(principal), nil
}

// FindByReference returns the entry of the given type for a reference.
func (m *MemoryLedgerStore) FindByReference(ctx context.Context, referenceID string, txType TransactionType) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx, "find_by_reference"); err != nil {
		return nil, err
	}

	idx, ok := m.refs[refKey{reference: referenceID, txType: txType}]
	if !ok {
		return nil, nil
	}
	tx := m.transactions[idx]
	return &tx, nil
}

// ListTransactions returns the most recent entries for a principal.
func (m *MemoryLedgerStore) ListTransactions(ctx context.Context, principal string, limit int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx, "list_transactions"); err != nil {
		return nil, err
	}

	var out []Transaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if m.transactions[i].PrincipalID != principal {
			continue
		}
		out = append(out, m.transactions[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out, nil
}

// SumTransactions sums all entry amounts for a principal.
func (m *MemoryLedgerStore) SumTransactions(ctx context.Context, principal string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx, "sum_transactions"); err != nil {
		return 0, err
	}

	var sum int64
	for _, tx := range m.transactions {
		if tx.PrincipalID == principal {
			sum += tx.Amount
		}
	}
	return sum, nil
}

// Close marks the store closed.
func (m *MemoryLedgerStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryLedgerStore) checkLocked(ctx context.Context, op string) error {
	if m.closed {
		return NewStoreError(memoryBackend, op, ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return NewStoreError(memoryBackend, op, err)
	}
	return nil
}

func (m *MemoryLedgerStore) balanceLocked(principal string) *Balance {
	if b, ok := m.balances[principal]; ok {
		c := *b
		return &c
	}
	return &Balance{PrincipalID: principal}
}

func (m *MemoryLedgerStore) ensureBalanceLocked(principal string) *Balance {
	b, ok := m.balances[principal]
	if !ok {
		b = &Balance{PrincipalID: principal}
		m.balances[principal] = b
	}
	return b
}

func (m *MemoryLedgerStore) appendLocked(tx *Transaction) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = m.now()
	}
	m.transactions = append(m.transactions, *tx)
	m.refs[refKey{reference: tx.ReferenceID, txType: tx.Type}] = len(m.transactions) - 1
}

func validateKey(principal, category string) error {
	if principal == "" {
		return fmt.Errorf("principal cannot be empty")
	}
	if category == "" {
		return fmt.Errorf("category cannot be empty")
	}
	return nil
}

func validateTransaction(tx *Transaction) error {
	if tx == nil {
		return fmt.Errorf("transaction cannot be nil")
	}
	if tx.PrincipalID == "" {
		return fmt.Errorf("principal cannot be empty")
	}
	if tx.ReferenceID == "" {
		return fmt.Errorf("reference id cannot be empty")
	}
	if !tx.Type.Valid() {
		return fmt.Errorf("unknown transaction type %q", tx.Type)
	}
	switch {
	case tx.Type == TxUsage && tx.Amount >= 0:
		return fmt.Errorf("usage amount must be negative, got %d", tx.Amount)
	case tx.Type != TxUsage && tx.Amount <= 0:
		return fmt.Errorf("%s amount must be positive, got %d", tx.Type, tx.Amount)
	}
	return nil
}
