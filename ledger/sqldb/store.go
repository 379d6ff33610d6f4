// Package sqldb implements the completion ledger on top of database/sql,
// with dialects for sqlite, postgres and mysql. A database-backed ledger is
// useful when the run directory lives on storage whose fsync semantics are
// untrustworthy, or when several pipelines share one coordination database.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	pipeline "github.com/gdevenyi/pydpiper"
	"github.com/gdevenyi/pydpiper/ledger"
)

// Dialect selects the SQL flavor for schema and insert statements.
type Dialect string

const (
	// DialectSQLite targets mattn/go-sqlite3 ("sqlite3" driver).
	DialectSQLite Dialect = "sqlite"

	// DialectPostgres targets lib/pq ("postgres" driver).
	DialectPostgres Dialect = "postgres"

	// DialectMySQL targets go-sql-driver/mysql ("mysql" driver).
	DialectMySQL Dialect = "mysql"
)

// DialectForDriver maps a database/sql driver name to its Dialect.
func DialectForDriver(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3":
		return DialectSQLite, nil
	case "postgres":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported ledger driver %q (want sqlite3, postgres or mysql)", driver)
	}
}

// Ledger is a SQL-backed ledger.Ledger. Duplicate records for the same
// fingerprint are ignored, so retried reports are harmless.
type Ledger struct {
	db      *sql.DB
	dialect Dialect
	ownsDB  bool
}

// Compile-time check that Ledger implements ledger.Ledger.
var _ ledger.Ledger = (*Ledger)(nil)

// Open connects with the given database/sql driver and DSN, creates the
// completions table if needed, and returns the ledger. The caller's binary
// must blank-import the driver package.
func Open(ctx context.Context, driver, dsn string) (*Ledger, error) {
	dialect, err := DialectForDriver(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	l, err := New(ctx, db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	l.ownsDB = true
	return l, nil
}

// New wraps an existing database handle. The schema is created if missing.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Ledger, error) {
	l := &Ledger{db: db, dialect: dialect}
	if _, err := db.ExecContext(ctx, l.schemaSQL()); err != nil {
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}
	return l, nil
}

// Record inserts the entry; the database's commit is the durability barrier.
func (l *Ledger) Record(ctx context.Context, entry pipeline.LedgerEntry) error {
	if _, err := l.db.ExecContext(ctx, l.insertSQL(),
		string(entry.Fingerprint), string(entry.Outcome), entry.Timestamp.UTC()); err != nil {
		return fmt.Errorf("recording completion %s: %w", entry.Fingerprint, err)
	}
	return nil
}

// Load returns the fingerprints of every recorded success.
func (l *Ledger) Load(ctx context.Context) (map[pipeline.Fingerprint]bool, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT fingerprint FROM pipeline_completions WHERE outcome = 'succeeded'`)
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}
	defer rows.Close()

	out := make(map[pipeline.Fingerprint]bool)
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		out[pipeline.Fingerprint(fp)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}
	return out, nil
}

// Close closes the database handle if this ledger opened it.
func (l *Ledger) Close() error {
	if l.ownsDB {
		return l.db.Close()
	}
	return nil
}

func (l *Ledger) schemaSQL() string {
	switch l.dialect {
	case DialectMySQL:
		return `CREATE TABLE IF NOT EXISTS pipeline_completions (
			fingerprint VARCHAR(64) NOT NULL PRIMARY KEY,
			outcome     VARCHAR(16) NOT NULL,
			recorded_at TIMESTAMP   NOT NULL
		)`
	case DialectPostgres:
		return `CREATE TABLE IF NOT EXISTS pipeline_completions (
			fingerprint TEXT        NOT NULL PRIMARY KEY,
			outcome     TEXT        NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`
	default: // sqlite
		return `CREATE TABLE IF NOT EXISTS pipeline_completions (
			fingerprint TEXT      NOT NULL PRIMARY KEY,
			outcome     TEXT      NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		)`
	}
}

func (l *Ledger) insertSQL() string {
	switch l.dialect {
	case DialectMySQL:
		return `INSERT IGNORE INTO pipeline_completions (fingerprint, outcome, recorded_at) VALUES (?, ?, ?)`
	case DialectPostgres:
		return `INSERT INTO pipeline_completions (fingerprint, outcome, recorded_at) VALUES ($1, $2, $3) ON CONFLICT (fingerprint) DO NOTHING`
	default: // sqlite
		return `INSERT OR IGNORE INTO pipeline_completions (fingerprint, outcome, recorded_at) VALUES (?, ?, ?)`
	}
}
