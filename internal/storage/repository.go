// Package storage contains the storage-agnostic persistence contract for the
// cleansing pipeline and the factory that resolves a concrete backend by
// kind. Backends (postgres, sqlite) register themselves at init time from
// their own packages, so callers depend only on this package.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"cleanse/internal/catalog"
)

// Default destination table names, matching the pre-provisioned schema.
const (
	DefaultDataTable   = "data"
	DefaultRejectTable = "data_reject"
)

// ErrPersistenceUnavailable marks a sink whose connection attempts were
// exhausted. It is fatal to the sink's operations but must not prevent the
// independent backup writers from running.
var ErrPersistenceUnavailable = errors.New("persistence unavailable")

// ErrConstraintViolation marks a row-level insert conflict (duplicate key,
// null in a required column) detected by the database. Because sink input is
// already deduplicated in memory, such a conflict signals either an upstream
// bug or an operator concurrently loading the same source; it is reported
// per row, never silently swallowed, and does not abort the batch.
var ErrConstraintViolation = errors.New("constraint violation")

// RowError records a single row the backend could not insert.
type RowError struct {
	Index int    // position within the submitted batch
	ID    string // the record's id, for operator triage
	Err   error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d (id=%s): %v", e.Index, e.ID, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// InsertStats summarizes one bulk insert.
type InsertStats struct {
	Inserted  int64
	RowErrors []RowError
}

// Config selects and configures a backend.
type Config struct {
	// Kind selects the registered backend, e.g. "postgres" or "sqlite".
	Kind string

	// DSN is the backend-specific connection string.
	DSN string

	// DataTable and RejectTable name the destination tables; empty values
	// fall back to DefaultDataTable / DefaultRejectTable.
	DataTable   string
	RejectTable string
}

// Repository is the persistence sink. Both insert operations are bulk,
// idempotent in intent, and report row-level conflicts through InsertStats
// rather than aborting the batch; a non-nil error means the batch as a whole
// could not be processed (e.g. connection lost).
type Repository interface {
	InsertAccepted(ctx context.Context, recs []catalog.Record) (InsertStats, error)
	InsertRejected(ctx context.Context, recs []catalog.RejectedRecord) (InsertStats, error)

	// CountRows reports the current row count of a destination table, used
	// for post-load verification.
	CountRows(ctx context.Context, table string) (int64, error)

	// Ping verifies the backend is reachable. The retry loop calls this on
	// every attempt because some drivers only connect lazily.
	Ping(ctx context.Context) error

	Close()
}

// Factory constructs a Repository from a Config.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) a Factory for the given storage kind. It
// is typically called from backend packages' init() functions.
func Register(kind string, fn Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = fn
}

// New resolves cfg.Kind against the registered factories and constructs the
// repository.
func New(ctx context.Context, cfg Config) (Repository, error) {
	regMu.RLock()
	fn, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return fn(ctx, cfg)
}

// ListKinds returns the registered backend kinds in sorted order.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// tableOr applies the default table name when cfg leaves one empty.
func tableOr(name, def string) string {
	if name == "" {
		return def
	}
	return name
}

// DataTableName returns the configured accepted-records table name.
func (c Config) DataTableName() string { return tableOr(c.DataTable, DefaultDataTable) }

// RejectTableName returns the configured rejected-records table name.
func (c Config) RejectTableName() string { return tableOr(c.RejectTable, DefaultRejectTable) }
