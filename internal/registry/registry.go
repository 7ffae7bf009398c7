// Package registry is the durable record of every store and its lifecycle
// status, keyed by store name. Implementations are safe for concurrent use.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/seantiz/storefleet/internal/model"
)

var (
	// ErrNotFound is returned when a store is not found.
	ErrNotFound = errors.New("store not found")

	// ErrAlreadyExists is returned when inserting a store whose name is taken.
	ErrAlreadyExists = errors.New("store already exists")

	// ErrInvalidTransition is returned when a store status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Stats holds aggregate store counts.
type Stats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByEngine map[string]int `json:"count_by_engine"`
}

// Registry defines the persistence operations for stores.
type Registry interface {
	CreateStore(ctx context.Context, s *model.Store) error
	GetStore(ctx context.Context, name string) (*model.Store, error)
	ListStores(ctx context.Context) ([]*model.Store, error)
	ListStoresByStatus(ctx context.Context, status string) ([]*model.Store, error)
	UpdateStoreStatus(ctx context.Context, name, status string) error
	DeleteStore(ctx context.Context, name string) error
	GetStoreStats(ctx context.Context) (*Stats, error)
	InsertEvent(ctx context.Context, e *model.Event) error
	GetEvents(ctx context.Context, name string) ([]model.Event, error)
	Close() error
}

// Open opens the registry for driver at dsn. For SQLite the dsn is a file
// path or ":memory:".
func Open(ctx context.Context, driver, dsn string) (Registry, error) {
	switch driver {
	case "", DriverSQLite:
		return NewSQLiteRegistry(dsn)
	case DriverPostgres:
		return NewPostgresRegistry(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown registry driver %q", driver)
	}
}
