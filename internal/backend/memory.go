package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/holt/lattice/internal/apperr"
	"github.com/holt/lattice/internal/graph"
)

// Memory is an in-memory Adapter for tests. Failure fields, when set,
// make the corresponding operation fail without touching state, which is
// exactly the behavior the store's rollback paths need to be tested
// against.
type Memory struct {
	mu    sync.Mutex
	files map[string]string
	dirs  map[string]struct{}

	FailList   error
	FailRead   error
	FailWrite  error
	FailRemove error
	FailMove   error
}

// NewMemory returns an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{
		files: make(map[string]string),
		dirs:  make(map[string]struct{}),
	}
}

// Seed stores a document without going through Write, for test setup.
func (m *Memory) Seed(path, raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = raw
	m.addParents(path)
}

// SeedDir stores a container, for test setup.
func (m *Memory) SeedDir(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[path] = struct{}{}
	m.addParents(path)
}

func (m *Memory) addParents(path string) {
	for {
		parent, ok := graph.ParentPath(path)
		if !ok {
			return
		}
		m.dirs[parent] = struct{}{}
		path = parent
	}
}

// List returns all entries under root in lexicographic order.
func (m *Memory) List(_ context.Context, root string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailList != nil {
		return nil, m.FailList
	}
	in := func(p string) bool {
		return root == "" || p == root || graph.IsDescendant(root, p)
	}
	var out []Entry
	for d := range m.dirs {
		if in(d) && d != root {
			out = append(out, Entry{Path: d, IsContainer: true})
		}
	}
	for f := range m.files {
		if in(f) {
			out = append(out, Entry{Path: f})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Read returns the document at path.
func (m *Memory) Read(_ context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRead != nil {
		return "", m.FailRead
	}
	raw, ok := m.files[path]
	if !ok {
		return "", fmt.Errorf("backend: read %s: %w", path, apperr.ErrNotFound)
	}
	return raw, nil
}

// Write stores the document, creating parent containers.
func (m *Memory) Write(_ context.Context, path, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrite != nil {
		return m.FailWrite
	}
	m.files[path] = raw
	m.addParents(path)
	return nil
}

// Remove deletes a document or a container subtree.
func (m *Memory) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRemove != nil {
		return m.FailRemove
	}
	if _, ok := m.files[path]; ok {
		delete(m.files, path)
		return nil
	}
	if _, ok := m.dirs[path]; ok {
		delete(m.dirs, path)
		for f := range m.files {
			if graph.IsDescendant(path, f) {
				delete(m.files, f)
			}
		}
		for d := range m.dirs {
			if graph.IsDescendant(path, d) {
				delete(m.dirs, d)
			}
		}
		return nil
	}
	return fmt.Errorf("backend: remove %s: %w", path, apperr.ErrNotFound)
}

// Move renames a document or container subtree.
func (m *Memory) Move(_ context.Context, oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailMove != nil {
		return m.FailMove
	}
	if _, ok := m.files[newPath]; ok {
		return fmt.Errorf("backend: move target %s occupied: %w", newPath, apperr.ErrConflict)
	}
	if _, ok := m.dirs[newPath]; ok {
		return fmt.Errorf("backend: move target %s occupied: %w", newPath, apperr.ErrConflict)
	}
	if raw, ok := m.files[oldPath]; ok {
		delete(m.files, oldPath)
		m.files[newPath] = raw
		m.addParents(newPath)
		return nil
	}
	if _, ok := m.dirs[oldPath]; !ok {
		return fmt.Errorf("backend: move %s: %w", oldPath, apperr.ErrNotFound)
	}
	delete(m.dirs, oldPath)
	m.dirs[newPath] = struct{}{}
	m.addParents(newPath)
	for f, raw := range m.files {
		if mapped, changed := graph.RenamePrefix(oldPath, newPath, f); changed {
			delete(m.files, f)
			m.files[mapped] = raw
		}
	}
	for d := range m.dirs {
		if mapped, changed := graph.RenamePrefix(oldPath, newPath, d); changed && mapped != d {
			delete(m.dirs, d)
			m.dirs[mapped] = struct{}{}
		}
	}
	return nil
}

// MakeDir creates an empty container.
func (m *Memory) MakeDir(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrite != nil {
		return m.FailWrite
	}
	m.dirs[path] = struct{}{}
	m.addParents(path)
	return nil
}

// Raw returns the stored document, for assertions in tests.
func (m *Memory) Raw(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.files[path]
	return raw, ok
}

// HasDir reports whether a container exists, for assertions in tests.
func (m *Memory) HasDir(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dirs[path]
	return ok
}

var _ Adapter = (*Memory)(nil)
