package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const transactionColumns = "id, principal_id, amount, type, reference_id, description, metadata, created_at"

// SQLLedgerStore implements LedgerStore on a shared SQL database.
// Each balance change and its ledger entry commit in one transaction.
type SQLLedgerStore struct {
	db  *DB
	now func() time.Time
}

// NewSQLLedgerStore creates a ledger store on an open database.
func NewSQLLedgerStore(db *DB) *SQLLedgerStore {
	return &SQLLedgerStore{db: db, now: time.Now}
}

// queryer is the subset of *sql.DB and *sql.Tx the ledger reads use.
// With SQLite's single connection every read inside a transaction must go
// through the transaction itself.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Debit decrements the balance guarded by available >= amount and appends
// the usage entry.
func (s *SQLLedgerStore) Debit(ctx context.Context, tx *Transaction) (*Balance, error) {
	if err := validateTransaction(tx); err != nil {
		return nil, err
	}
	s.prepare(tx)
	amount := -tx.Amount

	var (
		bal    *Balance
		result error
	)
	err := s.inTx(ctx, "debit", func(ctx context.Context, sqlTx *sql.Tx) (bool, error) {
		existing, err := s.findByReference(ctx, sqlTx, tx.ReferenceID, tx.Type)
		if err != nil {
			return false, err
		}
		if existing != nil {
			bal, err = s.balance(ctx, sqlTx, tx.PrincipalID)
			result = ErrDuplicateReference
			return false, err
		}

		update := `UPDATE credit_balances
			SET available = available - ?, used_lifetime = used_lifetime + ?, updated_at = ?
			WHERE principal_id = ? AND available >= ?`
		res, err := sqlTx.ExecContext(ctx, s.db.rebind(update), amount, amount, tx.CreatedAt.UnixNano(), tx.PrincipalID, amount)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		if n == 0 {
			bal, err = s.balance(ctx, sqlTx, tx.PrincipalID)
			if err != nil {
				return false, err
			}
			result = &BalanceError{Required: amount, Available: bal.Available}
			return false, nil
		}

		inserted, err := s.insert(ctx, sqlTx, tx)
		if err != nil {
			return false, err
		}
		if !inserted {
			// Lost a race with a concurrent debit for the same reference.
			bal, err = s.balance(ctx, sqlTx, tx.PrincipalID)
			result = ErrDuplicateReference
			return false, err
		}

		bal, err = s.balance(ctx, sqlTx, tx.PrincipalID)
		return true, err
	})
	if err != nil {
		return nil, err
	}
	return bal, result
}

// Deposit appends a positive entry and increments available.
func (s *SQLLedgerStore) Deposit(ctx context.Context, tx *Transaction) (*Balance, error) {
	if err := validateTransaction(tx); err != nil {
		return nil, err
	}
	s.prepare(tx)

	var (
		bal    *Balance
		result error
	)
	err := s.inTx(ctx, "deposit", func(ctx context.Context, sqlTx *sql.Tx) (bool, error) {
		inserted, err := s.insert(ctx, sqlTx, tx)
		if err != nil {
			return false, err
		}
		if !inserted {
			bal, err = s.balance(ctx, sqlTx, tx.PrincipalID)
			result = ErrDuplicateReference
			return false, err
		}

		ensure := s.db.insertIgnore("credit_balances", "principal_id", "available", "used_lifetime", "updated_at")
		if _, err := sqlTx.ExecContext(ctx, s.db.rebind(ensure), tx.PrincipalID, 0, 0, tx.CreatedAt.UnixNano()); err != nil {
			return false, err
		}

		update := `UPDATE credit_balances SET available = available + ?, updated_at = ? WHERE principal_id = ?`
		if _, err := sqlTx.ExecContext(ctx, s.db.rebind(update), tx.Amount, tx.CreatedAt.UnixNano(), tx.PrincipalID); err != nil {
			return false, err
		}

		bal, err = s.balance(ctx, sqlTx, tx.PrincipalID)
		return true, err
	})
	if err != nil {
		return nil, err
	}
	return bal, result
}

// GetBalance returns the balance, zero for unknown principals.
func (s *SQLLedgerStore) GetBalance(ctx context.Context, principal string) (*Balance, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	bal, err := s.balance(ctx, s.db.db, principal)
	if err != nil {
		return nil, s.db.storeError("get_balance", err)
	}
	return bal, nil
}

// FindByReference returns the entry of the given type for a reference.
func (s *SQLLedgerStore) FindByReference(ctx context.Context, referenceID string, txType TransactionType) (*Transaction, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	tx, err := s.findByReference(ctx, s.db.db, referenceID, txType)
	if err != nil {
		return nil, s.db.storeError("find_by_reference", err)
	}
	return tx, nil
}

// ListTransactions returns entries for a principal, newest first.
func (s *SQLLedgerStore) ListTransactions(ctx context.Context, principal string, limit int) ([]Transaction, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	query := "SELECT " + transactionColumns + " FROM credit_transactions WHERE principal_id = ? ORDER BY created_at DESC, id DESC"
	args := []any{principal}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.db.QueryContext(ctx, s.db.rebind(query), args...)
	if err != nil {
		return nil, s.db.storeError("list_transactions", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, s.db.storeError("list_transactions", err)
		}
		out = append(out, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, s.db.storeError("list_transactions", err)
	}
	return out, nil
}

// SumTransactions sums all entry amounts for a principal.
func (s *SQLLedgerStore) SumTransactions(ctx context.Context, principal string) (int64, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	var sum int64
	query := "SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE principal_id = ?"
	if err := s.db.db.QueryRowContext(ctx, s.db.rebind(query), principal).Scan(&sum); err != nil {
		return 0, s.db.storeError("sum_transactions", err)
	}
	return sum, nil
}

// Close is a no-op; the shared DB is closed by its owner.
func (s *SQLLedgerStore) Close() error {
	return nil
}

// inTx runs fn in a transaction. fn returns commit=false to roll back
// without error, used when a guard fails.
func (s *SQLLedgerStore) inTx(ctx context.Context, op string, fn func(context.Context, *sql.Tx) (bool, error)) error {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	sqlTx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return s.db.storeError(op, err)
	}

	commit, err := fn(ctx, sqlTx)
	if err != nil {
		_ = sqlTx.Rollback()
		return s.db.storeError(op, err)
	}
	if !commit {
		if err := sqlTx.Rollback(); err != nil {
			return s.db.storeError(op, err)
		}
		return nil
	}
	if err := sqlTx.Commit(); err != nil {
		return s.db.storeError(op, err)
	}
	return nil
}

func (s *SQLLedgerStore) prepare(tx *Transaction) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.now()
	}
}

// insert appends the entry, reporting false if (reference_id, type) exists.
func (s *SQLLedgerStore) insert(ctx context.Context, sqlTx *sql.Tx, tx *Transaction) (bool, error) {
	var metadata sql.NullString
	if len(tx.Metadata) > 0 {
		data, err := json.Marshal(tx.Metadata)
		if err != nil {
			return false, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	insert := s.db.insertIgnore("credit_transactions", "id", "principal_id", "amount", "type", "reference_id", "description", "metadata", "created_at")
	res, err := sqlTx.ExecContext(ctx, s.db.rebind(insert),
		tx.ID, tx.PrincipalID, tx.Amount, string(tx.Type), tx.ReferenceID, tx.Description, metadata, tx.CreatedAt.UnixNano())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLLedgerStore) balance(ctx context.Context, q queryer, principal string) (*Balance, error) {
	var (
		bal       = Balance{PrincipalID: principal}
		updatedAt int64
	)
	query := "SELECT available, used_lifetime, updated_at FROM credit_balances WHERE principal_id = ?"
	err := q.QueryRowContext(ctx, s.db.rebind(query), principal).Scan(&bal.Available, &bal.UsedLifetime, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &bal, nil
	}
	if err != nil {
		return nil, err
	}
	bal.UpdatedAt = time.Unix(0, updatedAt)
	return &bal, nil
}

func (s *SQLLedgerStore) findByReference(ctx context.Context, q queryer, referenceID string, txType TransactionType) (*Transaction, error) {
	query := "SELECT " + transactionColumns + " FROM credit_transactions WHERE reference_id = ? AND type = ?"
	rows, err := q.QueryContext(ctx, s.db.rebind(query), referenceID, string(txType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanTransaction(rows)
}

func scanTransaction(rows *sql.Rows) (*Transaction, error) {
	var (
		tx          Transaction
		txType      string
		description sql.NullString
		metadata    sql.NullString
		createdAt   int64
	)
	if err := rows.Scan(&tx.ID, &tx.PrincipalID, &tx.Amount, &txType, &tx.ReferenceID, &description, &metadata, &createdAt); err != nil {
		return nil, err
	}
	tx.Type = TransactionType(txType)
	tx.Description = description.String
	tx.CreatedAt = time.Unix(0, createdAt)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &tx.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &tx, nil
}
