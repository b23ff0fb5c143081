package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cleanse/internal/backup"
	"cleanse/internal/catalog"
	"cleanse/internal/config"
	"cleanse/internal/datasource"
	"cleanse/internal/storage"
	"cleanse/internal/transformer"
)

// stubRepo is an in-memory storage.Repository for pipeline tests.
type stubRepo struct {
	accepted []catalog.Record
	rejected []catalog.RejectedRecord

	acceptedErr error
	rejectedErr error
	closed      bool
}

func (s *stubRepo) InsertAccepted(_ context.Context, recs []catalog.Record) (storage.InsertStats, error) {
	if s.acceptedErr != nil {
		return storage.InsertStats{}, s.acceptedErr
	}
	s.accepted = append(s.accepted, recs...)
	return storage.InsertStats{Inserted: int64(len(recs))}, nil
}

func (s *stubRepo) InsertRejected(_ context.Context, recs []catalog.RejectedRecord) (storage.InsertStats, error) {
	if s.rejectedErr != nil {
		return storage.InsertStats{}, s.rejectedErr
	}
	s.rejected = append(s.rejected, recs...)
	return storage.InsertStats{Inserted: int64(len(recs))}, nil
}

func (s *stubRepo) CountRows(_ context.Context, table string) (int64, error) {
	if table == storage.DefaultRejectTable {
		return int64(len(s.rejected)), nil
	}
	return int64(len(s.accepted)), nil
}

func (s *stubRepo) Ping(context.Context) error { return nil }
func (s *stubRepo) Close()                     { s.closed = true }

// withStubRepo points the pipeline at repo (or at openErr) and freezes the
// clock for deterministic backup names. Restores both seams on cleanup.
func withStubRepo(t *testing.T, repo storage.Repository, openErr error) {
	t.Helper()
	prevOpen, prevNow := openRepoFn, nowFn
	openRepoFn = func(context.Context, storage.Config, storage.RetryPolicy) (storage.Repository, error) {
		return repo, openErr
	}
	nowFn = func() time.Time { return time.Date(2024, 4, 13, 15, 30, 0, 0, time.UTC) }
	t.Cleanup(func() { openRepoFn, nowFn = prevOpen, prevNow })
}

const sourceCSV = `dates,ids,names,monthly_listeners,popularity,followers,genres,first_release,last_release,num_releases,num_tracks,playlists_found,feat_track_ids
13/04/2024,a1,daft punk,"1,000,000",85,"9,200,000","['french house', 'electronic']",1997,2021,4,58,120,"['t1', 't2']"
14/04/2024,b2,justice,500000,80,2000000,['electro'],2003,2024,3,40,75,[]
15/04/2024,a1,daft punk,1000001,85,9200001,[],1997,2021,4,58,121,[]
notadate,c3,broken act,100,1,10,[],nan,None,0,0,0,[]
`

// writeSource materializes the test export and returns a matching Config.
func writeSource(t *testing.T, body string) config.Config {
	t.Helper()
	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "scrap.csv"), []byte(body), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return config.Config{
		DB:          config.DB{ConnectAttempts: 1},
		StorageKind: "postgres",
		SourcePath:  srcDir,
		SourceFile:  "scrap.csv",
		TargetPath:  filepath.Join(t.TempDir(), "target"),
	}
}

func stepByName(t *testing.T, s Summary, name string) StepResult {
	t.Helper()
	for _, st := range s.Steps {
		if st.Step == name {
			return st
		}
	}
	t.Fatalf("summary has no step %s", name)
	return StepResult{}
}

func TestRun_EndToEnd(t *testing.T) {
	repo := &stubRepo{}
	withStubRepo(t, repo, nil)
	cfg := writeSource(t, sourceCSV)

	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.RowsRead != 4 || summary.RowsSkipped != 0 {
		t.Errorf("rows read/skipped = %d/%d, want 4/0", summary.RowsRead, summary.RowsSkipped)
	}
	if summary.Accepted != 2 {
		t.Errorf("Accepted = %d, want 2", summary.Accepted)
	}
	if summary.RejectedDuplicate != 1 || summary.RejectedInvalid != 1 {
		t.Errorf("rejected dup/invalid = %d/%d, want 1/1",
			summary.RejectedDuplicate, summary.RejectedInvalid)
	}
	if summary.SourceChecksum == 0 {
		t.Errorf("SourceChecksum not populated")
	}
	if summary.Failed() {
		t.Fatalf("summary reports failure: %+v", summary.Steps)
	}
	if len(summary.Steps) != 4 {
		t.Fatalf("Steps = %d, want 4", len(summary.Steps))
	}

	// Sink contents.
	if len(repo.accepted) != 2 || repo.accepted[0].ID != "a1" || repo.accepted[1].ID != "b2" {
		t.Errorf("persisted accepted = %v", repo.accepted)
	}
	if len(repo.rejected) != 2 {
		t.Errorf("persisted rejected = %d, want 2", len(repo.rejected))
	}
	for _, r := range repo.rejected {
		if r.Record.ID == "a1" && r.Reason != transformer.DuplicateReason {
			t.Errorf("duplicate reason = %q", r.Reason)
		}
		if r.Record.ID == "c3" && !strings.Contains(r.Reason, "dates") {
			t.Errorf("invalid-date reason = %q", r.Reason)
		}
	}

	// Post-load verification from the stub's counts.
	if summary.DataRows != 2 || summary.RejectRows != 2 {
		t.Errorf("table counts = %d/%d, want 2/2", summary.DataRows, summary.RejectRows)
	}
	if !repo.closed {
		t.Errorf("repository not closed")
	}

	// Backup artifacts, named from the frozen clock.
	wantJSON := filepath.Join(cfg.TargetPath, "data_20240413153000.json")
	if summary.AcceptedBackupPath != wantJSON {
		t.Fatalf("AcceptedBackupPath = %s, want %s", summary.AcceptedBackupPath, wantJSON)
	}
	b, err := os.ReadFile(wantJSON)
	if err != nil {
		t.Fatalf("read accepted backup: %v", err)
	}
	var doc struct {
		RowCount int              `json:"row_count"`
		Data     []catalog.Record `json:"data"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal accepted backup: %v", err)
	}
	if doc.RowCount != 2 || len(doc.Data) != 2 {
		t.Fatalf("accepted backup row_count=%d len=%d, want 2/2", doc.RowCount, len(doc.Data))
	}
	if doc.Data[0].Name != "DAFT PUNK" {
		t.Errorf("backup name = %q, want DAFT PUNK", doc.Data[0].Name)
	}

	wantCSV := filepath.Join(cfg.TargetPath, "data_reject_20240413153000.csv")
	if summary.RejectedBackupPath != wantCSV {
		t.Fatalf("RejectedBackupPath = %s, want %s", summary.RejectedBackupPath, wantCSV)
	}
	f, err := os.Open(wantCSV)
	if err != nil {
		t.Fatalf("open reject backup: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read reject backup: %v", err)
	}
	if len(rows) != 3 { // header + 2 rejects
		t.Fatalf("reject backup rows = %d, want 3", len(rows))
	}
	if rows[0][0] != "dates" {
		t.Errorf("reject backup header = %v", rows[0])
	}
	// Raw, pre-normalization values survive in the reject backup.
	if rows[1][0] != "15/04/2024" || rows[2][0] != "notadate" {
		t.Errorf("reject backup dates = %q, %q", rows[1][0], rows[2][0])
	}
}

func TestRun_PersistenceDownStillWritesBackups(t *testing.T) {
	downErr := errors.New("connection refused")
	withStubRepo(t, nil, errors.Join(storage.ErrPersistenceUnavailable, downErr))
	cfg := writeSource(t, sourceCSV)

	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Failed() {
		t.Fatalf("summary should report failure")
	}

	for _, name := range []string{StepPersistAccepted, StepPersistRejected} {
		st := stepByName(t, summary, name)
		if st.OK() {
			t.Errorf("%s should fail when the sink is down", name)
		}
		if !errors.Is(st.Err, storage.ErrPersistenceUnavailable) {
			t.Errorf("%s error = %v, want ErrPersistenceUnavailable", name, st.Err)
		}
	}
	for _, name := range []string{StepBackupAccepted, StepBackupRejected} {
		if st := stepByName(t, summary, name); !st.OK() {
			t.Errorf("%s failed: %v", name, st.Err)
		}
	}
	if _, err := os.Stat(summary.AcceptedBackupPath); err != nil {
		t.Errorf("accepted backup missing: %v", err)
	}
	if _, err := os.Stat(summary.RejectedBackupPath); err != nil {
		t.Errorf("rejected backup missing: %v", err)
	}
	if summary.DataRows != -1 || summary.RejectRows != -1 {
		t.Errorf("table counts = %d/%d, want unknown (-1)", summary.DataRows, summary.RejectRows)
	}
}

func TestRun_UnwritableTargetStillPersists(t *testing.T) {
	repo := &stubRepo{}
	withStubRepo(t, repo, nil)
	cfg := writeSource(t, sourceCSV)

	// A file where the target directory should be makes every backup fail.
	if err := os.WriteFile(cfg.TargetPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Failed() {
		t.Fatalf("summary should report failure")
	}

	for _, name := range []string{StepBackupAccepted, StepBackupRejected} {
		st := stepByName(t, summary, name)
		if st.OK() {
			t.Errorf("%s should fail with unwritable target", name)
		}
		if !errors.Is(st.Err, backup.ErrWriteFailed) {
			t.Errorf("%s error = %v, want ErrWriteFailed", name, st.Err)
		}
	}
	for _, name := range []string{StepPersistAccepted, StepPersistRejected} {
		if st := stepByName(t, summary, name); !st.OK() {
			t.Errorf("%s failed: %v", name, st.Err)
		}
	}
	if len(repo.accepted) != 2 || len(repo.rejected) != 2 {
		t.Errorf("persisted %d/%d rows, want 2/2", len(repo.accepted), len(repo.rejected))
	}
}

func TestRun_OneInsertFailureDoesNotBlockTheOther(t *testing.T) {
	repo := &stubRepo{acceptedErr: errors.New("deadlock detected")}
	withStubRepo(t, repo, nil)
	cfg := writeSource(t, sourceCSV)

	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st := stepByName(t, summary, StepPersistAccepted); st.OK() {
		t.Errorf("persist_accepted should fail")
	}
	if st := stepByName(t, summary, StepPersistRejected); !st.OK() {
		t.Errorf("persist_rejected failed: %v", st.Err)
	}
	if len(repo.rejected) != 2 {
		t.Errorf("rejected rows persisted = %d, want 2", len(repo.rejected))
	}
	// Verification is skipped while any insert failed.
	if summary.DataRows != -1 {
		t.Errorf("DataRows = %d, want -1", summary.DataRows)
	}
}

func TestRun_UnreadableSource(t *testing.T) {
	withStubRepo(t, &stubRepo{}, nil)

	cfg := writeSource(t, sourceCSV)
	cfg.SourceFile = "missing.csv"

	_, err := Run(context.Background(), cfg)
	if err == nil {
		t.Fatalf("expected error for missing source")
	}
	if !errors.Is(err, datasource.ErrUnreadable) {
		t.Fatalf("error = %v, want ErrUnreadable", err)
	}
}

func TestRun_SkippedRowsCounted(t *testing.T) {
	withStubRepo(t, &stubRepo{}, nil)

	body := "dates,ids,names\n13/04/2024,a1,daft punk\nshort,row\n"
	cfg := writeSource(t, body)

	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.RowsRead != 1 || summary.RowsSkipped != 1 {
		t.Fatalf("rows read/skipped = %d/%d, want 1/1", summary.RowsRead, summary.RowsSkipped)
	}
}

func TestRun_HeaderOnlySource(t *testing.T) {
	repo := &stubRepo{}
	withStubRepo(t, repo, nil)

	cfg := writeSource(t, "dates,ids,names\n")

	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.RowsRead != 0 || summary.Accepted != 0 || summary.Rejected() != 0 {
		t.Fatalf("counts = %d/%d/%d, want zeros",
			summary.RowsRead, summary.Accepted, summary.Rejected())
	}
	if summary.Failed() {
		t.Fatalf("empty run should succeed: %+v", summary.Steps)
	}

	// Both backups still exist: an empty JSON document and a header-only CSV.
	b, err := os.ReadFile(summary.AcceptedBackupPath)
	if err != nil {
		t.Fatalf("read accepted backup: %v", err)
	}
	var doc struct {
		RowCount int `json:"row_count"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal accepted backup: %v", err)
	}
	if doc.RowCount != 0 {
		t.Fatalf("row_count = %d, want 0", doc.RowCount)
	}

	f, err := os.Open(summary.RejectedBackupPath)
	if err != nil {
		t.Fatalf("open reject backup: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read reject backup: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("reject backup rows = %d, want header only", len(rows))
	}
}

func TestRun_ChecksumStableForIdenticalBytes(t *testing.T) {
	withStubRepo(t, &stubRepo{}, nil)

	first, err := Run(context.Background(), writeSource(t, sourceCSV))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := Run(context.Background(), writeSource(t, sourceCSV))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.SourceChecksum != second.SourceChecksum {
		t.Fatalf("checksums differ: %016x vs %016x",
			first.SourceChecksum, second.SourceChecksum)
	}

	third, err := Run(context.Background(), writeSource(t, sourceCSV+"x\n"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if third.SourceChecksum == first.SourceChecksum {
		t.Fatalf("checksum did not change with the input")
	}
}

func TestSummary_Failed(t *testing.T) {
	t.Parallel()

	ok := Summary{Steps: []StepResult{{Step: "a"}, {Step: "b"}}}
	if ok.Failed() {
		t.Errorf("all-ok summary reports failure")
	}
	bad := Summary{Steps: []StepResult{{Step: "a"}, {Step: "b", Err: errors.New("boom")}}}
	if !bad.Failed() {
		t.Errorf("failing step not reported")
	}
}
