package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	sqliteCreateStoresTable = `
CREATE TABLE IF NOT EXISTS stores (
    name           TEXT PRIMARY KEY,
    namespace      TEXT NOT NULL,
    engine         TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    url            TEXT NOT NULL,
    admin_user     TEXT NOT NULL,
    admin_password TEXT NOT NULL,
    created_at     DATETIME NOT NULL
)`

	sqliteCreateEventsTable = `
CREATE TABLE IF NOT EXISTS store_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    store      TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    step       TEXT NOT NULL DEFAULT '',
    kind       TEXT NOT NULL,
    message    TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
)`

	sqliteCreateEventsIndex = `CREATE INDEX IF NOT EXISTS idx_store_events_store ON store_events (store, seq)`
)

// Compile-time interface satisfaction check.
var _ Registry = (*SQLiteRegistry)(nil)

// SQLiteRegistry implements Registry using SQLite.
type SQLiteRegistry struct {
	sqlRegistry
}

// sqliteConnParams are applied by the driver to every pooled connection.
// Transactions begin IMMEDIATE so a writer waits on busy_timeout up front
// instead of failing to upgrade a read lock.
const sqliteConnParams = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"

// sqliteDSN appends the per-connection parameters to dbPath.
func sqliteDSN(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + sqliteConnParams
}

// NewSQLiteRegistry opens the SQLite database at dbPath and runs migrations.
func NewSQLiteRegistry(dbPath string) (*SQLiteRegistry, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range []struct{ name, sql string }{
		{"create stores table", sqliteCreateStoresTable},
		{"create store_events table", sqliteCreateEventsTable},
		{"create store_events index", sqliteCreateEventsIndex},
	} {
		if _, err := db.Exec(stmt.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", stmt.name, err)
		}
	}

	return &SQLiteRegistry{sqlRegistry{
		db:                db,
		isUniqueViolation: isSQLiteConstraint,
	}}, nil
}

// isSQLiteConstraint reports whether err is a primary key or unique violation.
// The low byte of an extended result code is its primary code.
func isSQLiteConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
