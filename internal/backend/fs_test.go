package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/holt/lattice/internal/apperr"
)

func tempFS(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestFSWriteAndRead(t *testing.T) {
	s := tempFS(t)
	ctx := context.Background()
	if err := s.Write(ctx, "note.md", "---\ntitle: A\n---\nbody\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(ctx, "note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "---\ntitle: A\n---\nbody\n" {
		t.Errorf("content mismatch: %q", got)
	}
}

func TestFSReadMissingIsNotFound(t *testing.T) {
	s := tempFS(t)
	_, err := s.Read(context.Background(), "absent.md")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFSListContainersAndDocuments(t *testing.T) {
	s := tempFS(t)
	ctx := context.Background()
	_ = s.Write(ctx, "root/a.md", "a")
	_ = s.Write(ctx, "root/sub/b.md", "b")
	_ = s.MakeDir(ctx, "root/empty")
	_ = s.Write(ctx, "root/skip.txt", "not a document")
	_ = s.Write(ctx, "root/.hidden/c.md", "hidden")

	entries, err := s.List(ctx, "root")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []Entry{
		{Path: "root/a.md"},
		{Path: "root/empty", IsContainer: true},
		{Path: "root/sub", IsContainer: true},
		{Path: "root/sub/b.md"},
	}
	if len(entries) != len(want) {
		t.Fatalf("entries = %+v, want %+v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entries[%d] = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestFSMoveRefusesOccupiedTarget(t *testing.T) {
	s := tempFS(t)
	ctx := context.Background()
	_ = s.Write(ctx, "a.md", "a")
	_ = s.Write(ctx, "b.md", "b")
	err := s.Move(ctx, "a.md", "b.md")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestFSMoveContainerCarriesChildren(t *testing.T) {
	s := tempFS(t)
	ctx := context.Background()
	_ = s.Write(ctx, "old/a.md", "a")
	if err := s.Move(ctx, "old", "renamed"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := s.Read(ctx, "renamed/a.md"); err != nil {
		t.Errorf("child not carried: %v", err)
	}
}

func TestFSRemoveContainerSubtree(t *testing.T) {
	s := tempFS(t)
	ctx := context.Background()
	_ = s.Write(ctx, "root/sub/a.md", "a")
	if err := s.Remove(ctx, "root"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Read(ctx, "root/sub/a.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("subtree survived: %v", err)
	}
}

func TestFSTraversalBlocked(t *testing.T) {
	s := tempFS(t)
	ctx := context.Background()
	for _, p := range []string{"../../etc/passwd", "../outside.md", "/etc/shadow"} {
		if _, err := s.Read(ctx, p); err == nil {
			t.Errorf("expected error for read %q", p)
		}
		if err := s.Write(ctx, p, "x"); err == nil {
			t.Errorf("expected error for write %q", p)
		}
	}
}

func TestFSAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := tempFS(t)
	ctx := context.Background()
	_ = s.Write(ctx, "atomic.md", "original")
	if err := s.Write(ctx, "atomic.md", "updated"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read(ctx, "atomic.md")
	if got != "updated" {
		t.Errorf("content = %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, ".lattice-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFSRejectsFileRoot(t *testing.T) {
	f, _ := os.CreateTemp("", "lattice-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	if _, err := NewFS(f.Name()); err == nil {
		t.Error("expected error when root is a file")
	}
}
