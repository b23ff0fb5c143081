// Package file implements a local filesystem-backed data source.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cleanse/internal/datasource"
)

// Local is a filesystem data source that opens the configured catalog export
// from local disk.
type Local struct{ path string }

// NewLocal returns a Local source bound to the provided filesystem path.
func NewLocal(path string) *Local { return &Local{path: path} }

// NewLocalIn returns a Local source for name inside dir.
func NewLocalIn(dir, name string) *Local {
	return &Local{path: filepath.Join(dir, name)}
}

// Path returns the source's filesystem path.
func (l *Local) Path() string { return l.path }

// Open opens the configured path for reading and returns an io.ReadCloser.
//
// If the context is already canceled, Open returns the context error without
// touching the filesystem. Filesystem errors are wrapped with both the path
// and datasource.ErrUnreadable, so callers can check either
// errors.Is(err, os.ErrNotExist) or errors.Is(err, datasource.ErrUnreadable).
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", l.path, datasource.ErrUnreadable, err)
	}
	return f, nil
}
