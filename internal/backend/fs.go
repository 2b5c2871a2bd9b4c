package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/holt/lattice/internal/apperr"
)

// FS implements Adapter against a local directory tree. Paths are
// slash-separated and relative to the project root.
type FS struct {
	root string // absolute path to the project directory
}

// NewFS creates an FS adapter rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("backend: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("backend: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("backend: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// safePath resolves a relative path against the root and rejects any
// result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("backend: absolute paths not allowed: %s: %w", rel, apperr.ErrValidation)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("backend: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("backend: path escapes project root: %s: %w", rel, apperr.ErrValidation)
	}
	return abs, nil
}

// List walks root and returns directories and .md documents, hidden
// entries excluded, in lexicographic path order.
func (f *FS) List(_ context.Context, root string) ([]Entry, error) {
	base, err := f.safePath(root)
	if err != nil {
		return nil, err
	}
	var out []Entry
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == base {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(f.root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			out = append(out, Entry{Path: rel, IsContainer: true})
			return nil
		}
		if strings.HasSuffix(d.Name(), ".md") {
			out = append(out, Entry{Path: rel})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("backend: list %s: %w", root, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("backend: list: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Read returns the raw document at path.
func (f *FS) Read(_ context.Context, path string) (string, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("backend: read %s: %w", path, apperr.ErrNotFound)
		}
		return "", fmt.Errorf("backend: read %s: %w", path, err)
	}
	return string(data), nil
}

// Write atomically persists raw: tmp file → fsync → rename. A failed
// write never clobbers the previous content.
func (f *FS) Write(_ context.Context, path string, raw string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("backend: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".lattice-tmp-*")
	if err != nil {
		return fmt.Errorf("backend: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(raw); err != nil {
		return fmt.Errorf("backend: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("backend: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("backend: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("backend: rename: %w", err)
	}
	success = true
	return nil
}

// Remove deletes a document or a container subtree.
func (f *FS) Remove(_ context.Context, path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("backend: remove %s: %w", path, apperr.ErrNotFound)
		}
		return fmt.Errorf("backend: remove %s: %w", path, err)
	}
	if info.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return fmt.Errorf("backend: remove %s: %w", path, err)
	}
	return nil
}

// Move renames oldPath to newPath, refusing to clobber an existing entry.
func (f *FS) Move(_ context.Context, oldPath, newPath string) error {
	absOld, err := f.safePath(oldPath)
	if err != nil {
		return err
	}
	absNew, err := f.safePath(newPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(absOld); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("backend: move %s: %w", oldPath, apperr.ErrNotFound)
	}
	if _, err := os.Stat(absNew); err == nil {
		return fmt.Errorf("backend: move target %s occupied: %w", newPath, apperr.ErrConflict)
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return fmt.Errorf("backend: mkdir for move: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return fmt.Errorf("backend: move: %w", err)
	}
	return nil
}

// MakeDir creates an empty container.
func (f *FS) MakeDir(_ context.Context, path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("backend: makedir %s: %w", path, err)
	}
	return nil
}
