// Package datasource abstracts where input data comes from. The cleansing
// pipeline reads exactly one catalog export per run, but keeping the source
// behind a small interface lets tests feed in-memory data and keeps file
// handles scoped to the read (open, consume fully, release).
package datasource

import (
	"context"
	"errors"
	"io"
)

// ErrUnreadable marks a source that cannot be opened or decoded at all. It
// is fatal to a run: no row processing starts without a readable source.
var ErrUnreadable = errors.New("source unreadable")

// Source yields a reader over the raw input bytes.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}
