// Package backup writes the timestamped audit files that accompany every
// pipeline run: the accepted set as a structured JSON document and the
// rejected set as a CSV table preserving the source column layout for human
// review. The two writers are independent of the database sink; a
// persistence failure never prevents a backup and vice versa.
package backup

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"cleanse/internal/catalog"
)

// ErrWriteFailed marks a backup that could not be produced, typically
// because the target directory is not writable. It is reported to the run
// summary but does not roll back completed database writes.
var ErrWriteFailed = errors.New("backup write failed")

// TimestampLayout qualifies backup file names, e.g. data_20240413153000.json.
const TimestampLayout = "20060102150405"

// Writer produces backup files under a target directory.
type Writer struct {
	dir string
}

// NewWriter returns a Writer rooted at dir. The directory is created on
// first write if missing.
func NewWriter(dir string) *Writer { return &Writer{dir: dir} }

// acceptedDocument is the JSON backup shape: a row count followed by the
// records themselves, field order matching the canonical record.
type acceptedDocument struct {
	RowCount int              `json:"row_count"`
	Data     []catalog.Record `json:"data"`
}

// WriteAccepted serializes the accepted set to data_<timestamp>.json and
// returns the written path.
func (w *Writer) WriteAccepted(recs []catalog.Record, ts time.Time) (string, error) {
	if err := w.ensureWritable(); err != nil {
		return "", err
	}

	doc := acceptedDocument{RowCount: len(recs), Data: recs}
	if doc.Data == nil {
		doc.Data = []catalog.Record{} // marshal as [], not null
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: marshal accepted set: %w", ErrWriteFailed, err)
	}

	path := filepath.Join(w.dir, "data_"+ts.Format(TimestampLayout)+".json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return path, nil
}

// WriteRejected serializes the rejected set to data_reject_<timestamp>.csv
// using the original (pre-normalization) values and the source column
// layout given by headers. The reject reason is deliberately omitted here;
// it lives in the reject database table.
func (w *Writer) WriteRejected(headers []string, recs []catalog.RejectedRecord, ts time.Time) (string, error) {
	if err := w.ensureWritable(); err != nil {
		return "", err
	}

	path := filepath.Join(w.dir, "data_reject_"+ts.Format(TimestampLayout)+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(headers); err != nil {
		return "", fmt.Errorf("%w: write header: %w", ErrWriteFailed, err)
	}
	row := make([]string, len(headers))
	for _, rec := range recs {
		for i, h := range headers {
			row[i] = rec.Raw.String(h)
		}
		if err := cw.Write(row); err != nil {
			return "", fmt.Errorf("%w: write row: %w", ErrWriteFailed, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("%w: flush: %w", ErrWriteFailed, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: close: %w", ErrWriteFailed, err)
	}
	return path, nil
}

// ensureWritable creates the target directory when missing and preflights
// write access so permission problems surface as ErrWriteFailed before any
// partial file appears.
func (w *Writer) ensureWritable() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := unix.Access(w.dir, unix.W_OK); err != nil {
		return fmt.Errorf("%w: directory %s not writable: %w", ErrWriteFailed, w.dir, err)
	}
	return nil
}
