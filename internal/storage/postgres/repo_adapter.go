// This adapter wires the Postgres backend into the storage-agnostic factory
// by registering a constructor at init time. The CLI and pipeline obtain a
// Repository via storage.New(...) (or storage.OpenWithRetry) without
// importing this package directly.
package postgres

import (
	"context"

	"cleanse/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

// wrappedRepo implements storage.Repository by delegating to the concrete
// *postgres.Repository while providing a Close method that calls the close
// function returned by NewRepository.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

// Ensure wrappedRepo satisfies storage.Repository at compile time.
var _ storage.Repository = (*wrappedRepo)(nil)

// Close implements storage.Repository.Close.
func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, Config{
			DSN:         cfg.DSN,
			DataTable:   cfg.DataTableName(),
			RejectTable: cfg.RejectTableName(),
		})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
}
