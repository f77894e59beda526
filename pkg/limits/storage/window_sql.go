package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const windowColumns = "principal_id, category, window_start, window_seconds, request_count, blocked_until_ms, violations_count, last_request_ms"

// SQLWindowStore implements WindowStore on a shared SQL database.
// Every mutation is a single conditional statement, so multiple processes
// sharing the database never admit more than the limit.
type SQLWindowStore struct {
	db *DB
}

// NewSQLWindowStore creates a window store on an open database.
func NewSQLWindowStore(db *DB) *SQLWindowStore {
	return &SQLWindowStore{db: db}
}

// GetOrCreate inserts the window if missing and returns it.
func (s *SQLWindowStore) GetOrCreate(ctx context.Context, principal, category string, windowStart, windowSeconds int64) (*WindowRecord, error) {
	if err := validateKey(principal, category); err != nil {
		return nil, err
	}

	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	insert := s.db.insertIgnore("rate_windows", "principal_id", "category", "window_start", "window_seconds", "request_count", "violations_count")
	if _, err := s.db.db.ExecContext(ctx, s.db.rebind(insert), principal, category, windowStart, windowSeconds, 0, 0); err != nil {
		return nil, s.db.storeError("get_or_create", err)
	}

	rec, err := s.load(ctx, principal, category, windowStart)
	if err != nil {
		return nil, s.db.storeError("get_or_create", err)
	}
	return rec, nil
}

// Get returns the window, or nil if it does not exist.
func (s *SQLWindowStore) Get(ctx context.Context, principal, category string, windowStart int64) (*WindowRecord, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	rec, err := s.load(ctx, principal, category, windowStart)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.db.storeError("get", err)
	}
	return rec, nil
}

// IncrementIfUnderLimit increments request_count guarded by
// request_count < limit.
func (s *SQLWindowStore) IncrementIfUnderLimit(ctx context.Context, rec *WindowRecord, limit int64, now time.Time) (bool, *WindowRecord, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	update := `UPDATE rate_windows
		SET request_count = request_count + 1, last_request_ms = ?
		WHERE principal_id = ? AND category = ? AND window_start = ? AND request_count < ?`
	args := []any{now.UnixMilli(), rec.PrincipalID, rec.Category, rec.WindowStart, limit}

	if s.db.supportsReturning() {
		row := s.db.db.QueryRowContext(ctx, s.db.rebind(update+" RETURNING "+windowColumns), args...)
		updated, err := scanWindow(row)
		if err == nil {
			return true, updated, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, nil, s.db.storeError("increment", err)
		}
	} else {
		res, err := s.db.db.ExecContext(ctx, s.db.rebind(update), args...)
		if err != nil {
			return false, nil, s.db.storeError("increment", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, nil, s.db.storeError("increment", err)
		}
		if n == 1 {
			updated, err := s.load(ctx, rec.PrincipalID, rec.Category, rec.WindowStart)
			if err != nil {
				return false, nil, s.db.storeError("increment", err)
			}
			return true, updated, nil
		}
	}

	current, err := s.load(ctx, rec.PrincipalID, rec.Category, rec.WindowStart)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil, fmt.Errorf("window record not found for %s/%s@%d", rec.PrincipalID, rec.Category, rec.WindowStart)
	}
	if err != nil {
		return false, nil, s.db.storeError("increment", err)
	}
	return false, current, nil
}

// SetBlock sets blocked_until and increments violations_count guarded by
// the absence of an active block.
func (s *SQLWindowStore) SetBlock(ctx context.Context, rec *WindowRecord, blockedUntil, now time.Time) (bool, *WindowRecord, error) {
	update := `UPDATE rate_windows
		SET blocked_until_ms = ?, violations_count = violations_count + 1
		WHERE principal_id = ? AND category = ? AND window_start = ?
		AND (blocked_until_ms IS NULL OR blocked_until_ms <= ?)`
	return s.updateAndLoad(ctx, "set_block", rec, update,
		blockedUntil.UnixMilli(), rec.PrincipalID, rec.Category, rec.WindowStart, now.UnixMilli())
}

// ResetExpiredBlock clears blocked_until and zeroes request_count when the
// block ended at or before now.
func (s *SQLWindowStore) ResetExpiredBlock(ctx context.Context, rec *WindowRecord, now time.Time) (*WindowRecord, error) {
	update := `UPDATE rate_windows
		SET blocked_until_ms = NULL, request_count = 0
		WHERE principal_id = ? AND category = ? AND window_start = ?
		AND blocked_until_ms IS NOT NULL AND blocked_until_ms <= ?`
	_, current, err := s.updateAndLoad(ctx, "reset_block", rec, update,
		rec.PrincipalID, rec.Category, rec.WindowStart, now.UnixMilli())
	return current, err
}

// updateAndLoad runs a conditional update on rec's row and returns whether
// it matched, along with the row as stored afterwards.
func (s *SQLWindowStore) updateAndLoad(ctx context.Context, op string, rec *WindowRecord, update string, args ...any) (bool, *WindowRecord, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	res, err := s.db.db.ExecContext(ctx, s.db.rebind(update), args...)
	if err != nil {
		return false, nil, s.db.storeError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, s.db.storeError(op, err)
	}

	current, err := s.load(ctx, rec.PrincipalID, rec.Category, rec.WindowStart)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil, fmt.Errorf("window record not found for %s/%s@%d", rec.PrincipalID, rec.Category, rec.WindowStart)
	}
	if err != nil {
		return false, nil, s.db.storeError(op, err)
	}
	return n > 0, current, nil
}

// ActiveBlock returns the latest block deadline after now.
func (s *SQLWindowStore) ActiveBlock(ctx context.Context, principal, category string, now time.Time) (*time.Time, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	query := `SELECT MAX(blocked_until_ms) FROM rate_windows
		WHERE principal_id = ? AND category = ? AND blocked_until_ms > ?`

	var until sql.NullInt64
	if err := s.db.db.QueryRowContext(ctx, s.db.rebind(query), principal, category, now.UnixMilli()).Scan(&until); err != nil {
		return nil, s.db.storeError("active_block", err)
	}
	return fromNullMillis(until), nil
}

// Violations sums violations_count over windows starting at or after since.
func (s *SQLWindowStore) Violations(ctx context.Context, principal, category string, since time.Time) (int64, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	query := `SELECT COALESCE(SUM(violations_count), 0) FROM rate_windows
		WHERE principal_id = ? AND category = ? AND window_start >= ?`

	var total int64
	if err := s.db.db.QueryRowContext(ctx, s.db.rebind(query), principal, category, since.Unix()).Scan(&total); err != nil {
		return 0, s.db.storeError("violations", err)
	}
	return total, nil
}

// PurgeExpired deletes windows that ended, and whose block ended, before
// olderThan.
func (s *SQLWindowStore) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	query := `DELETE FROM rate_windows
		WHERE window_start + window_seconds < ?
		AND (blocked_until_ms IS NULL OR blocked_until_ms < ?)`

	res, err := s.db.db.ExecContext(ctx, s.db.rebind(query), olderThan.Unix(), olderThan.UnixMilli())
	if err != nil {
		return 0, s.db.storeError("purge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.db.storeError("purge", err)
	}
	return n, nil
}

// Close is a no-op; the shared DB is closed by its owner.
func (s *SQLWindowStore) Close() error {
	return nil
}

func (s *SQLWindowStore) load(ctx context.Context, principal, category string, windowStart int64) (*WindowRecord, error) {
	query := "SELECT " + windowColumns + " FROM rate_windows WHERE principal_id = ? AND category = ? AND window_start = ?"
	return scanWindow(s.db.db.QueryRowContext(ctx, s.db.rebind(query), principal, category, windowStart))
}

func scanWindow(row *sql.Row) (*WindowRecord, error) {
	var (
		rec          WindowRecord
		blockedUntil sql.NullInt64
		lastRequest  sql.NullInt64
	)
	err := row.Scan(
		&rec.PrincipalID,
		&rec.Category,
		&rec.WindowStart,
		&rec.WindowSeconds,
		&rec.RequestCount,
		&blockedUntil,
		&rec.ViolationsCount,
		&lastRequest,
	)
	if err != nil {
		return nil, err
	}
	rec.BlockedUntil = fromNullMillis(blockedUntil)
	rec.LastRequestAt = fromNullMillis(lastRequest)
	return &rec, nil
}
