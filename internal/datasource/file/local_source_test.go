package file

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"cleanse/internal/datasource"
)

func TestOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "scrap.csv")
	if err := os.WriteFile(path, []byte("ids\na1\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	src := NewLocalIn(dir, "scrap.csv")
	if src.Path() != path {
		t.Fatalf("Path() = %s, want %s", src.Path(), path)
	}

	rc, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "ids\na1\n" {
		t.Fatalf("content = %q", b)
	}
}

func TestOpen_Missing(t *testing.T) {
	t.Parallel()

	_, err := NewLocal(filepath.Join(t.TempDir(), "absent.csv")).Open(context.Background())
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	if !errors.Is(err, datasource.ErrUnreadable) {
		t.Errorf("error = %v, want ErrUnreadable", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want os.ErrNotExist in chain", err)
	}
}

func TestOpen_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocal("ignored").Open(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
