// Package storage provides persistence for rate limit windows and the
// credit ledger.
//
// # Overview
//
// Two interfaces are defined:
//
//   - WindowStore: fixed-window request counters with block deadlines
//   - LedgerStore: credit balances and their append-only transaction log
//
// Each has an in-memory implementation for development and tests, and a
// SQL implementation sharing one *DB. The SQL layer supports SQLite (pure
// Go via modernc.org/sqlite, or cgo via mattn/go-sqlite3), PostgreSQL and
// MySQL.
//
// # Usage
//
//	db, err := storage.OpenSQL(storage.SQLConfig{
//	    Driver: "sqlite",
//	    DSN:    "data/meter.db",
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	windows := storage.NewSQLWindowStore(db)
//	ledger := storage.NewSQLLedgerStore(db)
//
// # Atomicity
//
// Counters and balances are never read, modified and written back. The
// increment is a single UPDATE guarded by request_count < limit and the
// debit a single UPDATE guarded by available >= amount; callers inspect the
// affected row count. Unique keys on (principal_id, category, window_start)
// and (reference_id, type) make inserts idempotent.
//
// # Errors
//
// Infrastructure failures are returned as *StoreError, which matches
// ErrStoreUnavailable with errors.Is. Every call is bounded by the
// configured timeout.
package storage
