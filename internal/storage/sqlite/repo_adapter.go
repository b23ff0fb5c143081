// This adapter registers the SQLite backend with the storage factory so the
// rest of the program can stay backend-agnostic.
package sqlite

import (
	"context"

	"cleanse/internal/storage"
)

var newRepository = NewRepository

type wrappedRepo struct {
	*Repository
	closeFn func()
}

var _ storage.Repository = (*wrappedRepo)(nil)

func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
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
