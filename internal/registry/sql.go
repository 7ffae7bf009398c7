package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/seantiz/storefleet/internal/model"
)

const storeColumns = `name, namespace, engine, status, url, admin_user, admin_password, created_at`

// sqlRegistry holds the queries shared by the SQLite and Postgres registries.
// Queries are written with ? placeholders and rebound per dialect.
type sqlRegistry struct {
	db                *sql.DB
	numberedParams    bool
	isUniqueViolation func(error) bool
}

// bind rewrites ? placeholders to $1..$n when the dialect needs numbered parameters.
func (s *sqlRegistry) bind(query string) string {
	if !s.numberedParams {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the underlying database connection.
func (s *sqlRegistry) Close() error {
	return s.db.Close()
}

// CreateStore inserts a new store record.
func (s *sqlRegistry) CreateStore(ctx context.Context, st *model.Store) error {
	_, err := s.db.ExecContext(ctx, s.bind(
		`INSERT INTO stores (`+storeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		st.Name, st.Namespace, st.Engine, st.Status, st.URL,
		st.AdminUser, st.AdminPassword, st.CreatedAt,
	)
	if err != nil {
		if s.isUniqueViolation(err) {
			return fmt.Errorf("insert store %s: %w", st.Name, ErrAlreadyExists)
		}
		return fmt.Errorf("insert store: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStore(row rowScanner) (*model.Store, error) {
	st := &model.Store{}
	err := row.Scan(
		&st.Name, &st.Namespace, &st.Engine, &st.Status, &st.URL,
		&st.AdminUser, &st.AdminPassword, &st.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.CreatedAt = st.CreatedAt.UTC()
	return st, nil
}

// GetStore retrieves a store by name.
func (s *sqlRegistry) GetStore(ctx context.Context, name string) (*model.Store, error) {
	st, err := scanStore(s.db.QueryRowContext(ctx, s.bind(
		`SELECT `+storeColumns+` FROM stores WHERE name = ?`), name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get store: %w", err)
	}
	return st, nil
}

// ListStores returns all stores ordered by created_at.
func (s *sqlRegistry) ListStores(ctx context.Context) ([]*model.Store, error) {
	return s.queryStores(ctx, `SELECT `+storeColumns+` FROM stores ORDER BY created_at, name`)
}

// ListStoresByStatus returns all stores with the given status.
func (s *sqlRegistry) ListStoresByStatus(ctx context.Context, status string) ([]*model.Store, error) {
	return s.queryStores(ctx, `SELECT `+storeColumns+` FROM stores WHERE status = ? ORDER BY created_at, name`, status)
}

func (s *sqlRegistry) queryStores(ctx context.Context, query string, args ...any) ([]*model.Store, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()

	stores := []*model.Store{}
	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stores: %w", err)
	}
	return stores, nil
}

// UpdateStoreStatus moves a store to status in a single conditional UPDATE,
// so of two racing terminal writes only one succeeds; the other gets
// ErrInvalidTransition.
func (s *sqlRegistry) UpdateStoreStatus(ctx context.Context, name, status string) error {
	if from := model.TransitionSources(status); len(from) > 0 {
		args := []any{status, name}
		for _, f := range from {
			args = append(args, f)
		}
		result, err := s.db.ExecContext(ctx, s.bind(
			`UPDATE stores SET status = ? WHERE name = ? AND status IN (`+placeholders(len(from))+`)`), args...)
		if err != nil {
			return fmt.Errorf("update store status: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}
		if rowsAffected > 0 {
			return nil
		}
	}

	// Nothing changed: tell a missing store from a disallowed transition.
	var current string
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT status FROM stores WHERE name = ?`), name).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read store status: %w", err)
	}
	return fmt.Errorf("%s -> %s: %w", current, status, ErrInvalidTransition)
}

// placeholders returns n comma-separated ? placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// DeleteStore removes a store record and its events.
func (s *sqlRegistry) DeleteStore(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.bind(`DELETE FROM store_events WHERE store = ?`), name); err != nil {
		return fmt.Errorf("delete store events: %w", err)
	}
	result, err := tx.ExecContext(ctx, s.bind(`DELETE FROM stores WHERE name = ?`), name)
	if err != nil {
		return fmt.Errorf("delete store: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// GetStoreStats returns store counts grouped by status and by engine.
func (s *sqlRegistry) GetStoreStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		CountByStatus: map[string]int{},
		CountByEngine: map[string]int{},
	}

	if err := s.countBy(ctx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "engine", stats.CountByEngine); err != nil {
		return nil, err
	}
	for _, n := range stats.CountByStatus {
		stats.Total += n
	}
	return stats, nil
}

// countBy fills into with row counts grouped by column, which must be a
// trusted column name.
func (s *sqlRegistry) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM stores GROUP BY `+column)
	if err != nil {
		return fmt.Errorf("count stores by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s counts: %w", column, err)
	}
	return nil
}

// InsertEvent appends a provisioning event for a store. The insert and the
// existence check are one statement, so an event for a store that is gone
// returns ErrNotFound instead of outliving the store's DeleteStore.
func (s *sqlRegistry) InsertEvent(ctx context.Context, e *model.Event) error {
	result, err := s.db.ExecContext(ctx, s.bind(
		`INSERT INTO store_events (store, seq, step, kind, message, created_at)
		SELECT name, ?, ?, ?, ?, ? FROM stores WHERE name = ?`),
		e.Seq, e.Step, e.Kind, e.Message, e.CreatedAt, e.Store,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEvents returns every event recorded for a store, in sequence order.
func (s *sqlRegistry) GetEvents(ctx context.Context, name string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT id, store, seq, step, kind, message, created_at
		FROM store_events WHERE store = ? ORDER BY seq`), name)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Store, &e.Seq, &e.Step, &e.Kind, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
