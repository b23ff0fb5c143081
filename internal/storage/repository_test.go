package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cleanse/internal/catalog"
)

// fakeRepo is a minimal in-memory Repository for factory and retry tests.
type fakeRepo struct {
	pingErr  error
	pings    int
	closed   int
	accepted []catalog.Record
	rejected []catalog.RejectedRecord
}

func (f *fakeRepo) InsertAccepted(_ context.Context, recs []catalog.Record) (InsertStats, error) {
	f.accepted = append(f.accepted, recs...)
	return InsertStats{Inserted: int64(len(recs))}, nil
}

func (f *fakeRepo) InsertRejected(_ context.Context, recs []catalog.RejectedRecord) (InsertStats, error) {
	f.rejected = append(f.rejected, recs...)
	return InsertStats{Inserted: int64(len(recs))}, nil
}

func (f *fakeRepo) CountRows(_ context.Context, table string) (int64, error) {
	if table == DefaultRejectTable {
		return int64(len(f.rejected)), nil
	}
	return int64(len(f.accepted)), nil
}

func (f *fakeRepo) Ping(context.Context) error {
	f.pings++
	return f.pingErr
}

func (f *fakeRepo) Close() { f.closed++ }

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(context.Background(), Config{Kind: "voltdb"})
	if err == nil {
		t.Fatalf("expected error for unregistered kind")
	}
	if got, want := err.Error(), "unsupported storage.kind=voltdb"; got != want {
		t.Fatalf("error = %q, want %q", got, want)
	}
}

func TestRegisterAndNew(t *testing.T) {
	repo := &fakeRepo{}
	Register("fake_registered", func(context.Context, Config) (Repository, error) {
		return repo, nil
	})

	got, err := New(context.Background(), Config{Kind: "fake_registered"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got != Repository(repo) {
		t.Fatalf("New returned a different repository")
	}

	kinds := ListKinds()
	found := false
	for _, k := range kinds {
		if k == "fake_registered" {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListKinds() = %v, missing fake_registered", kinds)
	}
	if !sortedAsc(kinds) {
		t.Fatalf("ListKinds() = %v, want sorted", kinds)
	}
}

func sortedAsc(ss []string) bool {
	for i := 1; i < len(ss); i++ {
		if ss[i-1] > ss[i] {
			return false
		}
	}
	return true
}

func TestConfig_TableDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	if got := cfg.DataTableName(); got != DefaultDataTable {
		t.Errorf("DataTableName() = %q, want %q", got, DefaultDataTable)
	}
	if got := cfg.RejectTableName(); got != DefaultRejectTable {
		t.Errorf("RejectTableName() = %q, want %q", got, DefaultRejectTable)
	}

	cfg = Config{DataTable: "staging", RejectTable: "staging_reject"}
	if got := cfg.DataTableName(); got != "staging" {
		t.Errorf("DataTableName() = %q, want staging", got)
	}
	if got := cfg.RejectTableName(); got != "staging_reject" {
		t.Errorf("RejectTableName() = %q, want staging_reject", got)
	}
}

func TestRowError(t *testing.T) {
	t.Parallel()

	inner := errors.New("null value in column \"dates\"")
	re := RowError{Index: 3, ID: "a1", Err: errors.Join(ErrConstraintViolation, inner)}

	if !errors.Is(re, ErrConstraintViolation) {
		t.Fatalf("RowError should unwrap to ErrConstraintViolation")
	}
	msg := re.Error()
	if !strings.Contains(msg, "row 3") || !strings.Contains(msg, "id=a1") {
		t.Fatalf("Error() = %q, want row index and id", msg)
	}
}
