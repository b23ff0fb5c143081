// Package pipeline sequences one cleansing run end to end: parse the source
// export, normalize every row, partition into accepted and rejected sets,
// then fan out to the four terminal operations (two database inserts, two
// backup files).
//
// The terminal operations have no data dependency on each other: each works
// on its own immutable record set, all four are always attempted, and their
// failures are collected into the run summary rather than short-circuiting
// one another. A database outage must never cost the audit backups, and an
// unwritable target directory must never block the database load.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"cleanse/internal/backup"
	"cleanse/internal/catalog"
	"cleanse/internal/config"
	"cleanse/internal/datasource/file"
	"cleanse/internal/metrics"
	csvparser "cleanse/internal/parser/csv"
	"cleanse/internal/storage"
	"cleanse/internal/transformer"
)

// Job labels this pipeline's metrics.
const Job = "cleanse"

// Terminal step names, as reported in the run summary.
const (
	StepPersistAccepted = "persist_accepted"
	StepPersistRejected = "persist_rejected"
	StepBackupAccepted  = "backup_accepted"
	StepBackupRejected  = "backup_rejected"
)

// Function variables used to introduce test seams. In production these point
// to real implementations; tests can override them.
var (
	openRepoFn = storage.OpenWithRetry
	nowFn      = time.Now
)

// StepResult records the outcome of one terminal operation.
type StepResult struct {
	Step string
	Err  error

	// Detail carries a human-oriented note: rows inserted, file path
	// written, row-conflict count.
	Detail string
}

// OK reports whether the step succeeded.
func (s StepResult) OK() bool { return s.Err == nil }

// Summary is the terminal report for one run.
type Summary struct {
	RowsRead          int
	RowsSkipped       int // CSV-level parse skips, before normalization
	Accepted          int
	RejectedDuplicate int
	RejectedInvalid   int

	// SourceChecksum is the xxh3 fingerprint of the input bytes, for
	// correlating a run with the exact export it consumed.
	SourceChecksum uint64

	// Steps holds one result per terminal operation, in a fixed order.
	Steps []StepResult

	// DataRows / RejectRows are post-load table counts when persistence
	// succeeded; -1 when unknown.
	DataRows   int64
	RejectRows int64

	AcceptedBackupPath string
	RejectedBackupPath string
}

// Rejected is the total size of the rejected set.
func (s Summary) Rejected() int { return s.RejectedDuplicate + s.RejectedInvalid }

// Failed reports whether any terminal operation failed. Row-level conflicts
// do not fail a step by themselves; they are surfaced in its detail.
func (s Summary) Failed() bool {
	for _, st := range s.Steps {
		if !st.OK() {
			return true
		}
	}
	return false
}

// Run executes the pipeline under cfg. The returned error is non-nil only
// for fatal conditions that prevent row processing entirely (unreadable
// source); terminal-operation failures land in the Summary instead.
func Run(ctx context.Context, cfg config.Config) (Summary, error) {
	summary := Summary{DataRows: -1, RejectRows: -1}
	start := nowFn()

	log.Printf("pipeline: starting cleansing run source=%s/%s target=%s storage=%s",
		cfg.SourcePath, cfg.SourceFile, cfg.TargetPath, cfg.StorageKind)

	// Parse. The source is opened, consumed fully, and released here; the
	// handle never outlives this block.
	parseStart := nowFn()
	res, checksum, err := parseSource(ctx, cfg)
	metrics.RecordStep(Job, "parse", err, nowFn().Sub(parseStart))
	if err != nil {
		return summary, err
	}
	summary.RowsRead = len(res.Rows)
	summary.RowsSkipped = res.Skipped
	summary.SourceChecksum = checksum
	metrics.RecordRow(Job, "rows_read", int64(summary.RowsRead))
	metrics.RecordRow(Job, "rows_skipped", int64(summary.RowsSkipped))
	log.Printf("pipeline: read %d rows (skipped %d), source checksum=%016x",
		summary.RowsRead, summary.RowsSkipped, checksum)

	// Normalize and partition. The seen-set is scoped to this run.
	normalized := transformer.NormalizeAll(res.Rows)
	accepted, rejected := transformer.Dedupe(normalized, transformer.NewSeenIDs())

	summary.Accepted = len(accepted)
	for _, r := range rejected {
		if r.Reason == transformer.DuplicateReason {
			summary.RejectedDuplicate++
		} else {
			summary.RejectedInvalid++
		}
	}
	metrics.RecordRow(Job, "accepted", int64(summary.Accepted))
	metrics.RecordRow(Job, "rejected_duplicate", int64(summary.RejectedDuplicate))
	metrics.RecordRow(Job, "rejected_invalid", int64(summary.RejectedInvalid))
	log.Printf("pipeline: accepted=%d rejected=%d (duplicates=%d, invalid=%d)",
		summary.Accepted, summary.Rejected(), summary.RejectedDuplicate, summary.RejectedInvalid)

	// Terminal operations. The repository is opened once under the bounded
	// retry policy; if that fails, both persistence steps fail with the
	// same unavailability error while the backups proceed regardless.
	ts := nowFn()
	repo, openErr := openRepoFn(ctx, storage.Config{
		Kind: cfg.StorageKind,
		DSN:  storageDSN(cfg),
	}, storage.RetryPolicy{
		Attempts: cfg.DB.ConnectAttempts,
		Delay:    cfg.DB.ConnectDelay,
	})
	if repo != nil {
		defer repo.Close()
	}

	writer := backup.NewWriter(cfg.TargetPath)

	var (
		mu      sync.Mutex
		results = map[string]StepResult{}
		record  = func(step string, started time.Time, err error, detail string) {
			metrics.RecordStep(Job, step, err, nowFn().Sub(started))
			mu.Lock()
			results[step] = StepResult{Step: step, Err: err, Detail: detail}
			mu.Unlock()
			if err != nil {
				log.Printf("pipeline: %s failed: %v", step, err)
			} else {
				log.Printf("pipeline: %s ok: %s", step, detail)
			}
		}
	)

	var g errgroup.Group
	g.Go(func() error {
		started := nowFn()
		detail, err := persistAccepted(ctx, repo, openErr, accepted)
		record(StepPersistAccepted, started, err, detail)
		return nil
	})
	g.Go(func() error {
		started := nowFn()
		detail, err := persistRejected(ctx, repo, openErr, rejected)
		record(StepPersistRejected, started, err, detail)
		return nil
	})
	g.Go(func() error {
		started := nowFn()
		path, err := writer.WriteAccepted(accepted, ts)
		mu.Lock()
		summary.AcceptedBackupPath = path
		mu.Unlock()
		record(StepBackupAccepted, started, err, "wrote "+path)
		return nil
	})
	g.Go(func() error {
		started := nowFn()
		path, err := writer.WriteRejected(res.Headers, rejected, ts)
		mu.Lock()
		summary.RejectedBackupPath = path
		mu.Unlock()
		record(StepBackupRejected, started, err, "wrote "+path)
		return nil
	})
	_ = g.Wait() // step goroutines collect their own failures

	for _, step := range []string{StepPersistAccepted, StepPersistRejected, StepBackupAccepted, StepBackupRejected} {
		summary.Steps = append(summary.Steps, results[step])
	}

	// Post-load verification, only meaningful when both inserts landed.
	if repo != nil && results[StepPersistAccepted].OK() && results[StepPersistRejected].OK() {
		if n, err := repo.CountRows(ctx, storage.DefaultDataTable); err == nil {
			summary.DataRows = n
		}
		if n, err := repo.CountRows(ctx, storage.DefaultRejectTable); err == nil {
			summary.RejectRows = n
		}
	}

	logSummary(summary, nowFn().Sub(start))
	return summary, nil
}

// parseSource opens the configured export, parses it, and fingerprints the
// raw bytes while they stream through.
func parseSource(ctx context.Context, cfg config.Config) (csvparser.Result, uint64, error) {
	src := file.NewLocalIn(cfg.SourcePath, cfg.SourceFile)
	rc, err := src.Open(ctx)
	if err != nil {
		return csvparser.Result{}, 0, err
	}
	defer rc.Close()

	h := xxh3.New()
	tee := io.TeeReader(rc, h)

	p := csvparser.NewParser(csvparser.Options{})
	res, err := p.Parse(tee)
	if err != nil {
		return csvparser.Result{}, 0, err
	}
	// The CSV reader stops at EOF, but drain explicitly so the fingerprint
	// always covers the whole file.
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return csvparser.Result{}, 0, fmt.Errorf("drain source: %w", err)
	}
	return res, h.Sum64(), nil
}

// storageDSN picks the DSN for the configured backend kind.
func storageDSN(cfg config.Config) string {
	if cfg.StorageKind == "sqlite" {
		return cfg.SQLiteDSN
	}
	return cfg.DB.DSN()
}

// persistAccepted loads the accepted set, reporting row conflicts in the
// detail without failing the step for them.
func persistAccepted(ctx context.Context, repo storage.Repository, openErr error, recs []catalog.Record) (string, error) {
	if openErr != nil {
		return "", openErr
	}
	stats, err := repo.InsertAccepted(ctx, recs)
	if err != nil {
		return "", err
	}
	logRowConflicts(StepPersistAccepted, stats)
	return fmt.Sprintf("inserted %d rows, %d conflicts", stats.Inserted, len(stats.RowErrors)), nil
}

// persistRejected loads the rejected set with reasons.
func persistRejected(ctx context.Context, repo storage.Repository, openErr error, recs []catalog.RejectedRecord) (string, error) {
	if openErr != nil {
		return "", openErr
	}
	stats, err := repo.InsertRejected(ctx, recs)
	if err != nil {
		return "", err
	}
	logRowConflicts(StepPersistRejected, stats)
	return fmt.Sprintf("inserted %d rows, %d conflicts", stats.Inserted, len(stats.RowErrors)), nil
}

// logRowConflicts surfaces per-row insert conflicts. Sink input is already
// unique, so a conflict means an upstream bug or a concurrent load of the
// same source; it must be visible, not swallowed.
func logRowConflicts(step string, stats storage.InsertStats) {
	for _, re := range stats.RowErrors {
		log.Printf("storage: %s: %v", step, re)
	}
	metrics.RecordRow(Job, "inserted", stats.Inserted)
	metrics.RecordRow(Job, "insert_conflicts", int64(len(stats.RowErrors)))
}

// logSummary emits the terminal report block.
func logSummary(s Summary, elapsed time.Duration) {
	log.Printf("pipeline: ================================================")
	log.Printf("pipeline: run complete in %s", elapsed.Truncate(time.Millisecond))
	log.Printf("pipeline: rows_read=%d skipped=%d accepted=%d rejected=%d (duplicates=%d invalid=%d)",
		s.RowsRead, s.RowsSkipped, s.Accepted, s.Rejected(), s.RejectedDuplicate, s.RejectedInvalid)
	if s.DataRows >= 0 {
		log.Printf("pipeline: table counts: data=%d data_reject=%d", s.DataRows, s.RejectRows)
	}
	for _, st := range s.Steps {
		status := "ok"
		if !st.OK() {
			status = "FAILED: " + st.Err.Error()
		}
		log.Printf("pipeline: step %-16s %s", st.Step, status)
	}
	log.Printf("pipeline: ================================================")
}
