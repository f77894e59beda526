package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver (cgo)
	_ "modernc.org/sqlite"             // SQLite driver (pure Go)
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite"
	DriverSQLite3  = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// SQLConfig configures the shared SQL database used by the window and
// ledger stores.
type SQLConfig struct {
	// Driver selects the database/sql driver.
	// Options: "sqlite" (pure Go), "sqlite3" (cgo), "postgres", "mysql"
	// Default: "sqlite"
	Driver string

	// DSN is the data source name. For the SQLite drivers this is the
	// database file path; pragmas are appended automatically.
	DSN string

	// Timeout bounds every storage call.
	// Default: 2 seconds
	Timeout time.Duration

	// MaxOpenConns is the connection pool size. Ignored for SQLite, which
	// always uses a single connection.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the idle connection pool size.
	// Default: 5
	MaxIdleConns int

	// BusyTimeout is how long SQLite waits for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// SnapshotInterval is how often SQLite checkpoints its WAL.
	// Default: 5 minutes
	SnapshotInterval time.Duration
}

// DB is a database handle shared by SQLWindowStore and SQLLedgerStore.
// It hides the dialect differences (placeholders, insert-or-ignore,
// RETURNING support) from the stores.
type DB struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
	logger  *slog.Logger

	snapshotInterval time.Duration
	done             chan struct{}
	closeOnce        sync.Once
	closeErr         error
}

// OpenSQL opens the database, applies pool settings and creates the schema.
func OpenSQL(cfg SQLConfig) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn cannot be empty")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = 5 * time.Minute
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	d := &DB{
		db:               sqlDB,
		driver:           cfg.Driver,
		timeout:          cfg.Timeout,
		logger:           slog.Default().With("component", "limits.storage", "driver", cfg.Driver),
		snapshotInterval: cfg.SnapshotInterval,
		done:             make(chan struct{}),
	}

	if d.isSQLite() {
		// SQLite only supports a single writer.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := d.initSchema(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if d.isSQLite() {
		go d.checkpointLoop()
	}

	return d, nil
}

// Driver returns the configured driver name.
func (d *DB) Driver() string {
	return d.driver
}

// Ping checks that the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	if err := d.db.PingContext(ctx); err != nil {
		return NewStoreError(d.driver, "ping", err)
	}
	return nil
}

// Close stops the checkpoint loop and closes the database.
// Close is idempotent.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
		if d.isSQLite() {
			_, _ = d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		}
		d.closeErr = d.db.Close()
	})
	return d.closeErr
}

func buildDSN(cfg SQLConfig) (string, error) {
	busy := strconv.FormatInt(cfg.BusyTimeout.Milliseconds(), 10)

	switch cfg.Driver {
	case DriverSQLite:
		return appendQuery(cfg.DSN,
			"_pragma=journal_mode(WAL)",
			"_pragma=busy_timeout("+busy+")",
			"_pragma=synchronous(NORMAL)",
		), nil
	case DriverSQLite3:
		return appendQuery(cfg.DSN,
			"_journal_mode=WAL",
			"_busy_timeout="+busy,
			"_synchronous=NORMAL",
		), nil
	case DriverPostgres, DriverMySQL:
		return cfg.DSN, nil
	default:
		return "", fmt.Errorf("unsupported driver: %s (supported: sqlite, sqlite3, postgres, mysql)", cfg.Driver)
	}
}

func appendQuery(dsn string, params ...string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func (d *DB) isSQLite() bool {
	return d.driver == DriverSQLite || d.driver == DriverSQLite3
}

// supportsReturning reports whether UPDATE ... RETURNING is available.
func (d *DB) supportsReturning() bool {
	return d.driver != DriverMySQL
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insertIgnore builds an INSERT that silently skips rows violating a
// unique constraint. RowsAffected is 0 for a skipped row.
func (d *DB) insertIgnore(table string, columns ...string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	cols := strings.Join(columns, ", ")

	if d.driver == DriverMySQL {
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, cols, placeholders)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING", table, cols, placeholders)
}

func (d *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

func (d *DB) storeError(op string, err error) error {
	return NewStoreError(d.driver, op, err)
}

// initSchema creates the tables if they don't exist.
func (d *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(d.driver) {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

func schemaStatements(driver string) []string {
	windows := `
	CREATE TABLE IF NOT EXISTS rate_windows (
		principal_id VARCHAR(191) NOT NULL,
		category VARCHAR(64) NOT NULL,
		window_start BIGINT NOT NULL,
		window_seconds BIGINT NOT NULL,
		request_count BIGINT NOT NULL DEFAULT 0,
		blocked_until_ms BIGINT NULL,
		violations_count BIGINT NOT NULL DEFAULT 0,
		last_request_ms BIGINT NULL,
		PRIMARY KEY (principal_id, category, window_start)%s
	)`

	balances := `
	CREATE TABLE IF NOT EXISTS credit_balances (
		principal_id VARCHAR(191) NOT NULL PRIMARY KEY,
		available BIGINT NOT NULL DEFAULT 0 CHECK (available >= 0),
		used_lifetime BIGINT NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL
	)`

	transactions := `
	CREATE TABLE IF NOT EXISTS credit_transactions (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		principal_id VARCHAR(191) NOT NULL,
		amount BIGINT NOT NULL,
		type VARCHAR(16) NOT NULL,
		reference_id VARCHAR(191) NOT NULL,
		description TEXT,
		metadata TEXT,
		created_at BIGINT NOT NULL,
		UNIQUE (reference_id, type)%s
	)`

	// MySQL has no CREATE INDEX IF NOT EXISTS; declare indexes inline.
	if driver == DriverMySQL {
		return []string{
			fmt.Sprintf(windows, ",\n\t\tINDEX idx_rate_windows_window_start (window_start)"),
			balances,
			fmt.Sprintf(transactions, ",\n\t\tINDEX idx_credit_transactions_principal (principal_id, created_at)"),
		}
	}

	return []string{
		fmt.Sprintf(windows, ""),
		"CREATE INDEX IF NOT EXISTS idx_rate_windows_window_start ON rate_windows(window_start)",
		balances,
		fmt.Sprintf(transactions, ""),
		"CREATE INDEX IF NOT EXISTS idx_credit_transactions_principal ON credit_transactions(principal_id, created_at)",
	}
}

// checkpointLoop runs periodic WAL checkpoints.
func (d *DB) checkpointLoop() {
	ticker := time.NewTicker(d.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := d.db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
				d.logger.Debug("wal checkpoint failed", "error", err)
			}
		case <-d.done:
			return
		}
	}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
