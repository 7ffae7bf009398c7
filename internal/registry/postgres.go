package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	postgresDriver = "pgx"

	// pgUniqueViolation is the SQLSTATE for unique_violation.
	pgUniqueViolation = "23505"

	postgresCreateStoresTable = `
CREATE TABLE IF NOT EXISTS stores (
    name           TEXT PRIMARY KEY,
    namespace      TEXT NOT NULL,
    engine         TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    url            TEXT NOT NULL,
    admin_user     TEXT NOT NULL,
    admin_password TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL
)`

	postgresCreateEventsTable = `
CREATE TABLE IF NOT EXISTS store_events (
    id         BIGSERIAL PRIMARY KEY,
    store      TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    step       TEXT NOT NULL DEFAULT '',
    kind       TEXT NOT NULL,
    message    TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
)`

	postgresCreateEventsIndex = `CREATE INDEX IF NOT EXISTS idx_store_events_store ON store_events (store, seq)`
)

// Compile-time interface satisfaction check.
var _ Registry = (*PostgresRegistry)(nil)

// PostgresRegistry implements Registry using Postgres through the pgx driver.
type PostgresRegistry struct {
	sqlRegistry
}

// NewPostgresRegistry connects to dsn, verifies the connection and runs migrations.
func NewPostgresRegistry(ctx context.Context, dsn string) (*PostgresRegistry, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open(postgresDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	for _, stmt := range []struct{ name, sql string }{
		{"create stores table", postgresCreateStoresTable},
		{"create store_events table", postgresCreateEventsTable},
		{"create store_events index", postgresCreateEventsIndex},
	} {
		if _, err := db.ExecContext(ctx, stmt.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", stmt.name, err)
		}
	}

	return &PostgresRegistry{sqlRegistry{
		db:                db,
		numberedParams:    true,
		isUniqueViolation: isPostgresUniqueViolation,
	}}, nil
}

func isPostgresUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
