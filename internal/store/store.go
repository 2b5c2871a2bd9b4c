// Package store orchestrates the content graph: it loads entities through
// a backend adapter, materializes the in-memory snapshot with hard and
// soft links, and exposes CRUD operations with optimistic update and
// rollback.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/holt/lattice/internal/apperr"
	"github.com/holt/lattice/internal/backend"
	"github.com/holt/lattice/internal/codec"
	"github.com/holt/lattice/internal/graph"
)

// Node types recorded in metadata.
const (
	TypeFolder = "folder"
	TypeFile   = "file"
)

// loadConcurrency bounds parallel adapter reads during LoadAll.
const loadConcurrency = 8

// Event describes a completed mutation. Err is non-nil when the backend
// rejected the mutation and the snapshot was rolled back (or, for create,
// never touched).
type Event struct {
	Kind    string // "created", "updated", "removed", "moved"
	Path    string
	OldPath string // set for moves
	ID      string
	Err     error
}

// Observer receives events after every successful or rolled-back
// mutation. Observers run synchronously on the mutating goroutine and
// must not call back into mutating store methods.
type Observer func(Event)

// Store owns the graph snapshot. Readers only ever receive copies; the
// snapshot itself is mutated exclusively by Store methods.
type Store struct {
	adapter backend.Adapter
	root    string
	logger  *slog.Logger

	mu    sync.RWMutex
	nodes map[string]*graph.Node // by path
	byID  map[string]string      // id → path

	lmu   sync.Mutex
	locks map[string]*sync.Mutex // per-path mutation serialization

	omu       sync.RWMutex
	observers []Observer
}

// New creates a Store over the given adapter. root scopes which entries
// belong to the graph; entries outside it are never loaded.
func New(adapter backend.Adapter, root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		adapter: adapter,
		root:    root,
		logger:  logger,
		nodes:   make(map[string]*graph.Node),
		byID:    make(map[string]string),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Subscribe registers an observer for mutation events.
func (s *Store) Subscribe(fn Observer) {
	s.omu.Lock()
	s.observers = append(s.observers, fn)
	s.omu.Unlock()
}

func (s *Store) notify(ev Event) {
	s.omu.RLock()
	obs := append([]Observer(nil), s.observers...)
	s.omu.RUnlock()
	for _, fn := range obs {
		fn(ev)
	}
}

// lockPath serializes mutations per path: a second mutation for a path
// with one in flight queues behind it. Locks are retained for the life of
// the store; the map is bounded by the number of distinct paths touched.
func (s *Store) lockPath(path string) func() {
	s.lmu.Lock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	s.lmu.Unlock()
	l.Lock()
	return l.Unlock
}

// lockPaths locks two paths in sorted order to avoid lock inversion.
func (s *Store) lockPaths(a, b string) func() {
	if b < a {
		a, b = b, a
	}
	ua := s.lockPath(a)
	if a == b {
		return ua
	}
	ub := s.lockPath(b)
	return func() { ub(); ua() }
}

// LoadAll rebuilds the snapshot wholesale from the backend. Failure to
// list the root is fatal; failure to read a single entry is logged and
// the entry skipped.
func (s *Store) LoadAll(ctx context.Context) error {
	entries, err := s.adapter.List(ctx, s.root)
	if err != nil {
		return fmt.Errorf("store: load: %w", err)
	}

	results := make([]*graph.Node, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, e := range entries {
		if e.IsContainer {
			results[i] = &graph.Node{
				ID:          graph.NewID(),
				Path:        e.Path,
				IsContainer: true,
				Meta:        codec.NewMetadata(),
			}
			continue
		}
		g.Go(func() error {
			raw, readErr := s.adapter.Read(gctx, e.Path)
			if readErr != nil {
				s.logger.Warn("load: skipping unreadable entry",
					slog.String("path", e.Path),
					slog.String("error", readErr.Error()))
				return nil
			}
			results[i] = s.parseNode(e.Path, raw)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("store: load: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*graph.Node, len(results))
	s.byID = make(map[string]string, len(results))
	for _, n := range results {
		if n == nil {
			continue
		}
		if _, taken := s.byID[n.ID]; taken {
			// Duplicate id on disk; reassign so id uniqueness holds.
			fresh := graph.NewID()
			s.logger.Warn("load: duplicate node id reassigned",
				slog.String("path", n.Path),
				slog.String("id", n.ID),
				slog.String("new_id", fresh))
			n.ID = fresh
			n.Meta.Set(codec.KeyID, fresh)
		}
		s.nodes[n.Path] = n
		s.byID[n.ID] = n.Path
	}
	return nil
}

// parseNode decodes a raw document into a node, assigning a fresh id when
// the document carries none.
func (s *Store) parseNode(path, raw string) *graph.Node {
	doc := codec.Parse(raw)
	if doc.Fallback {
		s.logger.Warn("load: malformed frontmatter treated as body",
			slog.String("path", path))
	}
	id := doc.Meta.GetString(codec.KeyID)
	if id == "" {
		id = graph.NewID()
		doc.Meta.Set(codec.KeyID, id)
	}
	return &graph.Node{ID: id, Path: path, Meta: doc.Meta, Body: doc.Body}
}

// Create derives a file-safe name, assigns a fresh id, persists through
// the adapter, and only then reflects the node into the snapshot. A
// failed write leaves the snapshot untouched.
func (s *Store) Create(ctx context.Context, parentPath, name string, isContainer bool, initialMeta *codec.Metadata, initialBody string) (*graph.Node, error) {
	sanitized := graph.SanitizeName(name)
	if sanitized == "" || sanitized == "-" {
		return nil, fmt.Errorf("store: create: empty name after sanitizing %q: %w", name, apperr.ErrValidation)
	}
	if isContainer && initialMeta.Len() > 0 {
		return nil, fmt.Errorf("store: create %s: containers carry no document metadata: %w", name, apperr.ErrValidation)
	}

	if parentPath != "" {
		s.mu.RLock()
		parent, ok := s.nodes[parentPath]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("store: create: parent %s: %w", parentPath, apperr.ErrNotFound)
		}
		if !parent.IsContainer {
			return nil, fmt.Errorf("store: create: parent %s is not a container: %w", parentPath, apperr.ErrValidation)
		}
	}

	filename := sanitized
	if !isContainer && !strings.HasSuffix(filename, ".md") {
		filename += ".md"
	}
	path := filename
	if parentPath != "" {
		path = parentPath + graph.Separator + filename
	}

	unlock := s.lockPath(path)
	defer unlock()

	s.mu.RLock()
	_, occupied := s.nodes[path]
	s.mu.RUnlock()
	if occupied {
		return nil, fmt.Errorf("store: create: %s: %w", path, apperr.ErrConflict)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	title := strings.TrimSuffix(sanitized, ".md")
	node := &graph.Node{
		ID:          graph.NewID(),
		Path:        path,
		IsContainer: isContainer,
	}

	if isContainer {
		node.Meta = codec.NewMetadata()
		if err := s.adapter.MakeDir(ctx, path); err != nil {
			s.notify(Event{Kind: "created", Path: path, Err: err})
			return nil, fmt.Errorf("store: create %s: %w", path, err)
		}
	} else {
		meta := codec.NewMetadata()
		meta.Set(codec.KeyID, node.ID)
		meta.Set(codec.KeyTitle, title)
		meta.Set(codec.KeyType, TypeFile)
		meta.Set(codec.KeyCreated, now)
		meta.Set(codec.KeyModified, now)
		if initialMeta != nil {
			if err := applyPatch(meta, initialMeta); err != nil {
				return nil, err
			}
		}
		body := initialBody
		if body == "" {
			body = "# " + meta.GetString(codec.KeyTitle) + "\n\n"
		}
		node.Meta = meta
		node.Body = body

		if err := s.adapter.Write(ctx, path, codec.Serialize(meta, body)); err != nil {
			s.notify(Event{Kind: "created", Path: path, Err: err})
			return nil, fmt.Errorf("store: create %s: %w", path, err)
		}
	}

	s.mu.Lock()
	s.nodes[path] = node
	s.byID[node.ID] = path
	s.mu.Unlock()

	s.notify(Event{Kind: "created", Path: path, ID: node.ID})
	return node.Clone(), nil
}

// Update merges patch into the node's metadata (shallow at the top level,
// the task object deep-merged, nil values clearing keys), optionally
// replaces the body, reflects the change optimistically, then persists.
// On adapter failure the snapshot is rolled back to the pre-update value.
func (s *Store) Update(ctx context.Context, path string, patch *codec.Metadata, body *string) (*graph.Node, error) {
	unlock := s.lockPath(path)
	defer unlock()
	return s.updateLocked(ctx, path, patch, body)
}

// updateLocked is Update without acquiring the path lock; soft-link
// operations hold the lock across their read-modify-write.
func (s *Store) updateLocked(ctx context.Context, path string, patch *codec.Metadata, body *string) (*graph.Node, error) {
	s.mu.RLock()
	current, ok := s.nodes[path]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: update %s: %w", path, apperr.ErrNotFound)
	}
	if current.IsContainer {
		return nil, fmt.Errorf("store: update %s: containers carry no document: %w", path, apperr.ErrValidation)
	}

	undo := current.Clone()

	next := current.Clone()
	if patch != nil {
		if err := applyPatch(next.Meta, patch); err != nil {
			return nil, err
		}
	}
	next.Meta.Set(codec.KeyModified, time.Now().UTC().Format(time.RFC3339))
	if body != nil {
		next.Body = *body
	}

	// Optimistic: reflect before persisting.
	s.mu.Lock()
	s.nodes[path] = next
	s.mu.Unlock()

	if err := s.adapter.Write(ctx, path, codec.Serialize(next.Meta, next.Body)); err != nil {
		s.mu.Lock()
		s.nodes[path] = undo
		s.mu.Unlock()
		s.notify(Event{Kind: "updated", Path: path, ID: undo.ID, Err: err})
		return nil, fmt.Errorf("store: update %s: %w", path, err)
	}

	s.notify(Event{Kind: "updated", Path: path, ID: next.ID})
	return next.Clone(), nil
}

// applyPatch merges patch into meta: shallow at the top level, the task
// object deep-merged, nil values clearing keys. The id key is immutable.
// Keys and values that cannot survive a serialize/parse round trip are
// rejected here, before anything reaches the snapshot or the adapter.
func applyPatch(meta *codec.Metadata, patch *codec.Metadata) error {
	for _, key := range patch.Keys() {
		v, _ := patch.Get(key)
		if key == codec.KeyID {
			continue
		}
		if !codec.ValidKey(key) {
			return fmt.Errorf("store: metadata key %q is not serializable: %w", key, apperr.ErrValidation)
		}
		if v == nil {
			meta.Delete(key)
			continue
		}
		if key == codec.KeyTask {
			t, ok := v.(*codec.Task)
			if !ok {
				return fmt.Errorf("store: task patch has wrong type: %w", apperr.ErrValidation)
			}
			merged := meta.Task().Merge(t)
			if err := merged.Validate(); err != nil {
				return fmt.Errorf("store: task: %v: %w", err, apperr.ErrValidation)
			}
			meta.Set(codec.KeyTask, merged)
			continue
		}
		switch tv := v.(type) {
		case []string:
			for _, item := range tv {
				if !codec.ValidScalar(item) {
					return fmt.Errorf("store: metadata key %q: list item is not serializable: %w", key, apperr.ErrValidation)
				}
			}
			meta.Set(key, append([]string(nil), tv...))
		case string:
			if !codec.ValidScalar(tv) {
				return fmt.Errorf("store: metadata key %q: value is not serializable: %w", key, apperr.ErrValidation)
			}
			meta.Set(key, tv)
		default:
			meta.Set(key, v)
		}
	}
	return nil
}

// Remove optimistically drops the node (and, for containers, its whole
// subtree) from the snapshot, then issues the adapter delete. On failure
// the nodes are restored.
func (s *Store) Remove(ctx context.Context, path string) error {
	unlock := s.lockPath(path)
	defer unlock()

	s.mu.RLock()
	node, ok := s.nodes[path]
	var affected []*graph.Node
	if ok {
		affected = append(affected, node)
		if node.IsContainer {
			for p, n := range s.nodes {
				if graph.IsDescendant(path, p) {
					affected = append(affected, n)
				}
			}
		}
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("store: remove %s: %w", path, apperr.ErrNotFound)
	}

	undo := make([]*graph.Node, len(affected))
	for i, n := range affected {
		undo[i] = n.Clone()
	}

	s.mu.Lock()
	for _, n := range affected {
		delete(s.nodes, n.Path)
		delete(s.byID, n.ID)
	}
	s.mu.Unlock()

	if err := s.adapter.Remove(ctx, path); err != nil {
		s.mu.Lock()
		for _, n := range undo {
			s.nodes[n.Path] = n
			s.byID[n.ID] = n.Path
		}
		s.mu.Unlock()
		s.notify(Event{Kind: "removed", Path: path, ID: node.ID, Err: err})
		return fmt.Errorf("store: remove %s: %w", path, err)
	}

	s.notify(Event{Kind: "removed", Path: path, ID: node.ID})
	return nil
}

// Move renames a node; for containers every descendant is re-pathed, and
// a failure rolls back all of them. Ids never change.
func (s *Store) Move(ctx context.Context, oldPath, newPath string) error {
	if newPath == "" {
		return fmt.Errorf("store: move: empty target: %w", apperr.ErrValidation)
	}
	if oldPath == newPath || graph.IsDescendant(oldPath, newPath) {
		return fmt.Errorf("store: move %s into itself: %w", oldPath, apperr.ErrValidation)
	}

	unlock := s.lockPaths(oldPath, newPath)
	defer unlock()

	s.mu.RLock()
	node, ok := s.nodes[oldPath]
	_, occupied := s.nodes[newPath]
	var affected []*graph.Node
	if ok {
		affected = append(affected, node)
		if node.IsContainer {
			for p, n := range s.nodes {
				if graph.IsDescendant(oldPath, p) {
					affected = append(affected, n)
				}
			}
		}
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("store: move %s: %w", oldPath, apperr.ErrNotFound)
	}
	if occupied {
		return fmt.Errorf("store: move target %s occupied: %w", newPath, apperr.ErrConflict)
	}

	undo := make([]*graph.Node, len(affected))
	for i, n := range affected {
		undo[i] = n.Clone()
	}

	s.mu.Lock()
	for _, n := range affected {
		delete(s.nodes, n.Path)
	}
	for _, n := range affected {
		mapped, _ := graph.RenamePrefix(oldPath, newPath, n.Path)
		moved := n.Clone()
		moved.Path = mapped
		s.nodes[mapped] = moved
		s.byID[moved.ID] = mapped
	}
	s.mu.Unlock()

	if err := s.adapter.Move(ctx, oldPath, newPath); err != nil {
		s.mu.Lock()
		for _, n := range affected {
			mapped, _ := graph.RenamePrefix(oldPath, newPath, n.Path)
			delete(s.nodes, mapped)
		}
		for _, n := range undo {
			s.nodes[n.Path] = n
			s.byID[n.ID] = n.Path
		}
		s.mu.Unlock()
		s.notify(Event{Kind: "moved", Path: newPath, OldPath: oldPath, ID: node.ID, Err: err})
		return fmt.Errorf("store: move %s: %w", oldPath, err)
	}

	s.notify(Event{Kind: "moved", Path: newPath, OldPath: oldPath, ID: node.ID})
	return nil
}

// CreateSoftLink adds targetID to the source node's links, deduplicated.
// It is expressed purely as an update on the source path and inherits
// that path's serialization.
func (s *Store) CreateSoftLink(ctx context.Context, sourcePath, targetID string) error {
	s.mu.RLock()
	_, targetLive := s.byID[targetID]
	s.mu.RUnlock()
	if !targetLive {
		return fmt.Errorf("store: link target %s: %w", targetID, apperr.ErrNotFound)
	}

	unlock := s.lockPath(sourcePath)
	defer unlock()

	s.mu.RLock()
	source, ok := s.nodes[sourcePath]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("store: link source %s: %w", sourcePath, apperr.ErrNotFound)
	}

	links := source.Links()
	for _, l := range links {
		if l == targetID {
			return nil // already linked
		}
	}
	patch := codec.NewMetadata()
	patch.Set(codec.KeyLinks, append(append([]string(nil), links...), targetID))
	_, err := s.updateLocked(ctx, sourcePath, patch, nil)
	return err
}

// RemoveSoftLink removes targetID from the source node's links. Removing
// a link that does not exist is a no-op, not an error.
func (s *Store) RemoveSoftLink(ctx context.Context, sourcePath, targetID string) error {
	unlock := s.lockPath(sourcePath)
	defer unlock()

	s.mu.RLock()
	source, ok := s.nodes[sourcePath]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("store: link source %s: %w", sourcePath, apperr.ErrNotFound)
	}

	links := source.Links()
	filtered := make([]string, 0, len(links))
	for _, l := range links {
		if l != targetID {
			filtered = append(filtered, l)
		}
	}
	if len(filtered) == len(links) {
		return nil
	}
	patch := codec.NewMetadata()
	patch.Set(codec.KeyLinks, filtered)
	_, err := s.updateLocked(ctx, sourcePath, patch, nil)
	return err
}

// RefreshEntry ingests an external change to path: the document is
// re-read through the adapter and upserted into the snapshot. A vanished
// document is dropped. Used by the filesystem watcher.
func (s *Store) RefreshEntry(ctx context.Context, path string) error {
	unlock := s.lockPath(path)
	defer unlock()

	raw, err := s.adapter.Read(ctx, path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return s.dropLocked(path)
		}
		return fmt.Errorf("store: refresh %s: %w", path, err)
	}

	node := s.parseNode(path, raw)

	s.mu.Lock()
	prev, existed := s.nodes[path]
	if existed && node.Meta.GetString(codec.KeyID) == "" {
		// Keep the id stable when the file carries none.
		node.ID = prev.ID
		node.Meta.Set(codec.KeyID, prev.ID)
	}
	if existed && prev.ID != node.ID {
		delete(s.byID, prev.ID)
	}
	s.nodes[path] = node
	s.byID[node.ID] = path
	s.mu.Unlock()

	kind := "updated"
	if !existed {
		kind = "created"
	}
	s.notify(Event{Kind: kind, Path: path, ID: node.ID})
	return nil
}

// RefreshContainer ingests an externally created container at path. A
// path already live in the snapshot is left untouched.
func (s *Store) RefreshContainer(path string) {
	unlock := s.lockPath(path)
	defer unlock()

	s.mu.Lock()
	if _, ok := s.nodes[path]; ok {
		s.mu.Unlock()
		return
	}
	node := &graph.Node{
		ID:          graph.NewID(),
		Path:        path,
		IsContainer: true,
		Meta:        codec.NewMetadata(),
	}
	s.nodes[path] = node
	s.byID[node.ID] = path
	s.mu.Unlock()

	s.notify(Event{Kind: "created", Path: path, ID: node.ID})
}

// DropEntry removes a snapshot node whose backing entry vanished outside
// the store. No adapter call is made.
func (s *Store) DropEntry(path string) error {
	unlock := s.lockPath(path)
	defer unlock()
	return s.dropLocked(path)
}

func (s *Store) dropLocked(path string) error {
	s.mu.Lock()
	node, ok := s.nodes[path]
	if ok {
		delete(s.nodes, path)
		delete(s.byID, node.ID)
	}
	s.mu.Unlock()
	if ok {
		s.notify(Event{Kind: "removed", Path: path, ID: node.ID})
	}
	return nil
}

// Paths returns all live node paths, sorted.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.nodes))
	for p := range s.nodes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
