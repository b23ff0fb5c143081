// Package sqlite implements a SQLite-backed persistence sink using
// database/sql and the modernc.org/sqlite driver. It exists for local runs
// and CI, where standing up a Postgres server is overkill; array columns are
// stored as JSON text since SQLite has no native array type.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cleanse/internal/catalog"
	"cleanse/internal/storage"
)

// Config holds SQLite repository configuration.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.
	// "file:cleanse.db?cache=shared" or "cleanse.db".
	DSN string

	DataTable   string
	RejectTable string
}

// Repository is a SQLite-backed implementation of storage.Repository.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository opens the database and ensures the destination tables exist.
// Unlike the Postgres backend, whose schema a collaborator provisions, the
// local SQLite file is owned by this process, so tables are created on
// demand with the same shape and constraints.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	r := &Repository{db: db, cfg: cfg}
	if err := r.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return r, func() { db.Close() }, nil
}

// ensureSchema creates the data and reject tables when missing. The data
// table enforces the same constraints as the provisioned Postgres schema;
// the reject table is fully nullable because rejected rows routinely lack a
// parsable date or a name.
func (r *Repository) ensureSchema(ctx context.Context) error {
	const bodyCols = `
		dates TEXT%[2]s,
		ids TEXT%[1]s,
		names TEXT%[2]s,
		monthly_listeners INTEGER,
		popularity INTEGER,
		followers INTEGER,
		genres TEXT,
		first_release TEXT,
		last_release TEXT,
		num_releases INTEGER,
		num_tracks INTEGER,
		playlists_found TEXT,
		feat_track_ids TEXT`

	data := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %[3]s ("+bodyCols+", created_at TEXT DEFAULT (datetime('now')))",
		" PRIMARY KEY", " NOT NULL", ident(r.cfg.DataTable))
	reject := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %[3]s ("+bodyCols+", reject_reason TEXT, created_at TEXT DEFAULT (datetime('now')))",
		"", "", ident(r.cfg.RejectTable))

	for _, ddl := range []string{data, reject} {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

// Ping verifies the database file is reachable.
func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// Close releases the underlying handle.
func (r *Repository) Close() { r.db.Close() }

// InsertAccepted bulk-inserts accepted records into the data table.
func (r *Repository) InsertAccepted(ctx context.Context, recs []catalog.Record) (storage.InsertStats, error) {
	rows := make([][]any, len(recs))
	ids := make([]string, len(recs))
	for i, rec := range recs {
		rows[i] = sqliteRow(rec.Row())
		ids[i] = rec.ID
	}
	return r.insertRows(ctx, r.cfg.DataTable, catalog.Columns, rows, ids)
}

// InsertRejected bulk-inserts rejected records, with reasons, into the
// reject table.
func (r *Repository) InsertRejected(ctx context.Context, recs []catalog.RejectedRecord) (storage.InsertStats, error) {
	cols := append(append([]string{}, catalog.Columns...), catalog.RejectReasonColumn)
	rows := make([][]any, len(recs))
	ids := make([]string, len(recs))
	for i, rec := range recs {
		rows[i] = sqliteRow(rec.Row())
		ids[i] = rec.ID
	}
	return r.insertRows(ctx, r.cfg.RejectTable, cols, rows, ids)
}

// insertRows executes per-row inserts inside one transaction. Constraint
// failures become per-row errors; anything else aborts the batch. The
// transaction still commits the surviving rows, matching the Postgres
// backend's report-and-continue semantics.
func (r *Repository) insertRows(ctx context.Context, table string, cols []string, rows [][]any, ids []string) (storage.InsertStats, error) {
	var stats storage.InsertStats
	if len(rows) == 0 {
		return stats, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(cols)), ",")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ident(table), strings.Join(cols, ","), placeholders)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return stats, fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			if isConstraintErr(err) {
				stats.RowErrors = append(stats.RowErrors, storage.RowError{
					Index: i,
					ID:    ids[i],
					Err:   fmt.Errorf("%w: %v", storage.ErrConstraintViolation, err),
				})
				continue
			}
			return stats, fmt.Errorf("sqlite: insert row %d: %w", i, err)
		}
		stats.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return storage.InsertStats{}, fmt.Errorf("sqlite: commit: %w", err)
	}
	return stats, nil
}

// CountRows reports the destination table's current row count.
func (r *Repository) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+ident(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", table, err)
	}
	return n, nil
}

// sqliteRow adapts a driver-ready row to SQLite types: dates render as
// YYYY-MM-DD text and string slices as JSON text.
func sqliteRow(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		switch t := v.(type) {
		case time.Time:
			out[i] = t.Format(catalog.DateLayout)
		case []string:
			b, _ := json.Marshal(t)
			out[i] = string(b)
		default:
			out[i] = v
		}
	}
	return out
}

// isConstraintErr reports whether err is a SQLite constraint failure.
func isConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "constraint")
}

// ident quotes an identifier for SQLite.
func ident(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }
