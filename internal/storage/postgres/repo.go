// Package postgres implements the Postgres persistence sink using pgx v5.
// Rows are inserted one at a time on a pooled connection so that a
// constraint conflict on one record is reported for that record alone
// instead of poisoning the whole batch; volumes here are one catalog export
// per run, well inside per-row insert territory.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cleanse/internal/catalog"
	"cleanse/internal/storage"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN         string // connection string for pgxpool
	DataTable   string // accepted-records table, e.g. "data"
	RejectTable string // rejected-records table, e.g. "data_reject"
}

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config

	insertData   string
	insertReject string
}

// NewRepository constructs a Repository and returns a Close function for
// cleanup. pgxpool connects lazily; callers should Ping before relying on
// the pool.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	r := &Repository{
		pool:         pool,
		cfg:          cfg,
		insertData:   buildInsert(cfg.DataTable, catalog.Columns),
		insertReject: buildInsert(cfg.RejectTable, append(append([]string{}, catalog.Columns...), catalog.RejectReasonColumn)),
	}
	return r, pool.Close, nil
}

// Ping verifies the pool can reach the server.
func (r *Repository) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

// InsertAccepted bulk-inserts accepted records into the data table.
func (r *Repository) InsertAccepted(ctx context.Context, recs []catalog.Record) (storage.InsertStats, error) {
	rows := make([][]any, len(recs))
	ids := make([]string, len(recs))
	for i, rec := range recs {
		rows[i] = rec.Row()
		ids[i] = rec.ID
	}
	return r.insertRows(ctx, r.insertData, rows, ids)
}

// InsertRejected bulk-inserts rejected records, with their reasons, into the
// reject table.
func (r *Repository) InsertRejected(ctx context.Context, recs []catalog.RejectedRecord) (storage.InsertStats, error) {
	rows := make([][]any, len(recs))
	ids := make([]string, len(recs))
	for i, rec := range recs {
		rows[i] = rec.Row()
		ids[i] = rec.ID
	}
	return r.insertRows(ctx, r.insertReject, rows, ids)
}

// insertRows executes the prepared insert for each row on one acquired
// connection. Integrity-constraint errors (SQLSTATE class 23) become
// per-row RowErrors; anything else aborts the batch.
func (r *Repository) insertRows(ctx context.Context, sql string, rows [][]any, ids []string) (storage.InsertStats, error) {
	var stats storage.InsertStats
	if len(rows) == 0 {
		return stats, nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return stats, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	for i, row := range rows {
		if _, err := conn.Exec(ctx, sql, row...); err != nil {
			if isConstraintErr(err) {
				stats.RowErrors = append(stats.RowErrors, storage.RowError{
					Index: i,
					ID:    ids[i],
					Err:   fmt.Errorf("%w: %v", storage.ErrConstraintViolation, err),
				})
				continue
			}
			return stats, fmt.Errorf("insert row %d: %w", i, err)
		}
		stats.Inserted++
	}
	return stats, nil
}

// CountRows reports the destination table's current row count.
func (r *Repository) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgIdent(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// isConstraintErr reports whether err is a SQLSTATE class 23 error
// (integrity constraint violation: unique, not-null, check, foreign key).
func isConstraintErr(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23")
}

// buildInsert renders "INSERT INTO t (c1,...) VALUES ($1,...)" with quoted
// identifiers.
func buildInsert(table string, cols []string) string {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgFQN(table), strings.Join(mapIdent(cols), ","), strings.Join(placeholders, ","))
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "public.data" to
// "public"."data". If no dot is present, returns a single quoted ident.
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

// mapIdent maps a list of column names to their quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
