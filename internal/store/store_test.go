package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/holt/lattice/internal/apperr"
	"github.com/holt/lattice/internal/backend"
	"github.com/holt/lattice/internal/codec"
)

func testStore(t *testing.T) (*Store, *backend.Memory) {
	t.Helper()
	mem := backend.NewMemory()
	s := New(mem, "", nil)
	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	return s, mem
}

func mustCreate(t *testing.T, s *Store, parent, name string, container bool) string {
	t.Helper()
	n, err := s.Create(context.Background(), parent, name, container, nil, "")
	if err != nil {
		t.Fatalf("Create(%s, %s): %v", parent, name, err)
	}
	return n.Path
}

func TestLoadAllBuildsSnapshot(t *testing.T) {
	mem := backend.NewMemory()
	mem.SeedDir("root")
	mem.Seed("root/a.md", "---\nid: node-a\ntitle: A\nlinks: [node-b]\n---\nbody a")
	mem.Seed("root/b.md", "---\nid: node-b\ntitle: B\n---\nbody b")
	s := New(mem, "", nil)
	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	snap := s.Snapshot()
	if len(snap.HardEdges) != 2 {
		t.Errorf("hard edges = %+v, want 2", snap.HardEdges)
	}
	if len(snap.SoftEdges) != 1 || snap.SoftEdges[0].Source != "node-a" || snap.SoftEdges[0].Target != "node-b" {
		t.Errorf("soft edges = %+v", snap.SoftEdges)
	}
}

func TestLoadAllSkipsUnreadableEntry(t *testing.T) {
	mem := backend.NewMemory()
	mem.Seed("ok.md", "---\nid: node-ok\n---\n")
	s := New(mem, "", nil)
	mem.FailRead = fmt.Errorf("disk on fire: %w", apperr.ErrUnavailable)
	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll should tolerate per-entry failures: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0 (entry skipped)", s.Len())
	}
}

func TestLoadAllListFailureIsFatal(t *testing.T) {
	mem := backend.NewMemory()
	mem.FailList = fmt.Errorf("gone: %w", apperr.ErrUnavailable)
	s := New(mem, "", nil)
	if err := s.LoadAll(context.Background()); !errors.Is(err, apperr.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestCreateWritesThenReflects(t *testing.T) {
	s, mem := testStore(t)
	mustCreate(t, s, "", "root", true)
	path := mustCreate(t, s, "root", "My Note", false)
	if path != "root/My Note.md" {
		t.Errorf("path = %q", path)
	}
	raw, ok := mem.Raw(path)
	if !ok {
		t.Fatal("document not persisted")
	}
	doc := codec.Parse(raw)
	if doc.Meta.GetString(codec.KeyTitle) != "My Note" {
		t.Errorf("persisted title = %q", doc.Meta.GetString(codec.KeyTitle))
	}
	if doc.Meta.GetString(codec.KeyID) == "" {
		t.Error("persisted document lacks id")
	}
}

func TestCreateFailureLeavesSnapshotUntouched(t *testing.T) {
	s, mem := testStore(t)
	mem.FailWrite = fmt.Errorf("no space: %w", apperr.ErrUnavailable)
	_, err := s.Create(context.Background(), "", "doomed", false, nil, "")
	if !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("snapshot mutated on failed create: %d nodes", s.Len())
	}
}

func TestCreateRejectsEmptyName(t *testing.T) {
	s, _ := testStore(t)
	_, err := s.Create(context.Background(), "", "???", false, nil, "")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestCreateConflictOnOccupiedPath(t *testing.T) {
	s, _ := testStore(t)
	mustCreate(t, s, "", "dup", false)
	_, err := s.Create(context.Background(), "", "dup", false, nil, "")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestUpdateMergesShallowAndDeepTask(t *testing.T) {
	s, _ := testStore(t)
	path := mustCreate(t, s, "", "job", false)

	patch := codec.NewMetadata()
	task := &codec.Task{Assignee: "ada"}
	patch.Set(codec.KeyTask, task)
	patch.Set("custom", "kept")
	if _, err := s.Update(context.Background(), path, patch, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	second := codec.NewMetadata()
	second.Set(codec.KeyTask, &codec.Task{Status: codec.StatusDone})
	n, err := s.Update(context.Background(), path, second, nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	got := n.Meta.Task()
	if got.Status != codec.StatusDone || got.Assignee != "ada" {
		t.Errorf("task merge lost fields: %+v", got)
	}
	if n.Meta.GetString("custom") != "kept" {
		t.Errorf("shallow key lost: %q", n.Meta.GetString("custom"))
	}
}

func TestUpdateNilClearsKey(t *testing.T) {
	s, _ := testStore(t)
	path := mustCreate(t, s, "", "note", false)
	patch := codec.NewMetadata()
	patch.Set("tmp", "value")
	_, _ = s.Update(context.Background(), path, patch, nil)

	clear := codec.NewMetadata()
	clear.Set("tmp", nil)
	n, err := s.Update(context.Background(), path, clear, nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, ok := n.Meta.Get("tmp"); ok {
		t.Error("nil patch value should clear the key")
	}
}

func TestOptimisticRollbackRestoresExactMetadata(t *testing.T) {
	s, mem := testStore(t)
	path := mustCreate(t, s, "", "stable", false)

	before, err := s.Node(path)
	if err != nil {
		t.Fatal(err)
	}
	rawBefore, _ := mem.Raw(path)

	mem.FailWrite = fmt.Errorf("write refused: %w", apperr.ErrUnavailable)
	patch := codec.NewMetadata()
	patch.Set(codec.KeyTitle, "changed")
	if _, err := s.Update(context.Background(), path, patch, nil); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}

	after, err := s.Node(path)
	if err != nil {
		t.Fatal(err)
	}
	if !before.Meta.Equal(after.Meta) {
		t.Errorf("metadata drifted after rollback:\nbefore %v\nafter  %v", before.Meta.Keys(), after.Meta.Keys())
	}
	if before.Body != after.Body {
		t.Errorf("body drifted after rollback")
	}
	if rawAfter, _ := mem.Raw(path); rawAfter != rawBefore {
		t.Errorf("persisted content changed despite failed write")
	}
}

func TestRemoveRollbackRestoresSubtree(t *testing.T) {
	s, mem := testStore(t)
	mustCreate(t, s, "", "root", true)
	mustCreate(t, s, "root", "a", false)
	mustCreate(t, s, "root", "b", false)

	mem.FailRemove = fmt.Errorf("refused: %w", apperr.ErrUnavailable)
	if err := s.Remove(context.Background(), "root"); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if s.Len() != 3 {
		t.Errorf("Len = %d after rollback, want 3", s.Len())
	}
	if _, err := s.Node("root/a.md"); err != nil {
		t.Errorf("descendant lost after rollback: %v", err)
	}
}

func TestRemoveDropsIncidentEdges(t *testing.T) {
	s, _ := testStore(t)
	a := mustCreate(t, s, "", "a", false)
	b := mustCreate(t, s, "", "b", false)
	nb, _ := s.Node(b)
	if err := s.CreateSoftLink(context.Background(), a, nb.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if len(snap.SoftEdges) != 0 {
		t.Errorf("soft edges survive target removal: %+v", snap.SoftEdges)
	}
	// The stored link stays in metadata: it is inert, not deleted.
	na, _ := s.Node(a)
	if len(na.Links()) != 1 {
		t.Errorf("stored link should remain for self-healing, got %v", na.Links())
	}
}

func TestSoftLinkSelfHeals(t *testing.T) {
	s, mem := testStore(t)
	a := mustCreate(t, s, "", "a", false)
	b := mustCreate(t, s, "", "b", false)
	nb, _ := s.Node(b)
	_ = s.CreateSoftLink(context.Background(), a, nb.ID)
	_ = s.Remove(context.Background(), b)

	// Target reappears with the same id.
	mem.Seed("b.md", "---\nid: "+nb.ID+"\ntitle: b\n---\n")
	if err := s.RefreshEntry(context.Background(), "b.md"); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if len(snap.SoftEdges) != 1 {
		t.Errorf("link did not self-heal: %+v", snap.SoftEdges)
	}
}

func TestSoftLinkIdempotence(t *testing.T) {
	s, _ := testStore(t)
	a := mustCreate(t, s, "", "a", false)
	b := mustCreate(t, s, "", "b", false)
	nb, _ := s.Node(b)

	ctx := context.Background()
	if err := s.CreateSoftLink(ctx, a, nb.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateSoftLink(ctx, a, nb.ID); err != nil {
		t.Fatal(err)
	}
	na, _ := s.Node(a)
	if links := na.Links(); len(links) != 1 || links[0] != nb.ID {
		t.Errorf("links = %v, want single entry", links)
	}

	if err := s.RemoveSoftLink(ctx, a, nb.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveSoftLink(ctx, a, nb.ID); err != nil {
		t.Errorf("removing an absent link should be a no-op, got %v", err)
	}
	na, _ = s.Node(a)
	if links := na.Links(); links == nil || len(links) != 0 {
		t.Errorf("links = %v, want present-but-empty", links)
	}
}

func TestMoveContainerRepathsDescendants(t *testing.T) {
	s, _ := testStore(t)
	mustCreate(t, s, "", "old", true)
	mustCreate(t, s, "old", "a", false)
	aBefore, _ := s.Node("old/a.md")

	if err := s.Move(context.Background(), "old", "renamed"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := s.Node("old/a.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("old path still resolves")
	}
	aAfter, err := s.Node("renamed/a.md")
	if err != nil {
		t.Fatalf("new path missing: %v", err)
	}
	if aAfter.ID != aBefore.ID {
		t.Errorf("id changed on move: %q → %q", aBefore.ID, aAfter.ID)
	}
}

func TestMoveRollbackIsAllOrNothing(t *testing.T) {
	s, mem := testStore(t)
	mustCreate(t, s, "", "old", true)
	mustCreate(t, s, "old", "a", false)
	mustCreate(t, s, "old", "b", false)

	mem.FailMove = fmt.Errorf("refused: %w", apperr.ErrUnavailable)
	if err := s.Move(context.Background(), "old", "new"); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
	for _, p := range []string{"old", "old/a.md", "old/b.md"} {
		if _, err := s.Node(p); err != nil {
			t.Errorf("path %s lost after rollback: %v", p, err)
		}
	}
	if _, err := s.Node("new/a.md"); err == nil {
		t.Error("partial rename visible after rollback")
	}
}

func TestPathUniquenessAfterMixedOperations(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	mustCreate(t, s, "", "root", true)
	mustCreate(t, s, "root", "a", false)
	mustCreate(t, s, "root", "b", false)
	_ = s.Move(ctx, "root/a.md", "root/c.md")
	_ = s.Remove(ctx, "root/b.md")
	mustCreate(t, s, "root", "b", false)

	seen := make(map[string]struct{})
	for _, p := range s.Paths() {
		if _, dup := seen[p]; dup {
			t.Fatalf("duplicate path %q", p)
		}
		seen[p] = struct{}{}
	}
}

func TestHardLinkTreeTerminatesAtRoots(t *testing.T) {
	s, _ := testStore(t)
	mustCreate(t, s, "", "root", true)
	mustCreate(t, s, "root", "mid", true)
	mustCreate(t, s, "root/mid", "leaf", false)

	snap := s.Snapshot()
	parentOf := make(map[string]string)
	for _, e := range snap.HardEdges {
		parentOf[e.Target] = e.Source
	}
	for _, n := range snap.Nodes {
		seen := map[string]struct{}{}
		cur := n.ID
		for {
			if _, cyc := seen[cur]; cyc {
				t.Fatalf("cycle reached from %s", n.Path)
			}
			seen[cur] = struct{}{}
			next, ok := parentOf[cur]
			if !ok {
				break // reached a root
			}
			cur = next
		}
	}
}

func TestObserverFiresOnSuccessAndRollback(t *testing.T) {
	s, mem := testStore(t)
	path := mustCreate(t, s, "", "watched", false)

	var mu sync.Mutex
	var events []Event
	s.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	patch := codec.NewMetadata()
	patch.Set(codec.KeyTitle, "new")
	_, _ = s.Update(context.Background(), path, patch, nil)

	mem.FailWrite = fmt.Errorf("refused: %w", apperr.ErrUnavailable)
	_, _ = s.Update(context.Background(), path, patch, nil)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Err != nil {
		t.Errorf("first event should be a success: %+v", events[0])
	}
	if events[1].Err == nil {
		t.Errorf("second event should carry the rollback error")
	}
}

func TestPerPathMutationSerialization(t *testing.T) {
	s, _ := testStore(t)
	path := mustCreate(t, s, "", "contended", false)

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			patch := codec.NewMetadata()
			patch.Set(fmt.Sprintf("k%02d", i), "v")
			_, _ = s.Update(context.Background(), path, patch, nil)
		}(i)
	}
	wg.Wait()

	n, _ := s.Node(path)
	// Serialized updates must not lose each other's patches.
	for i := 0; i < workers; i++ {
		key := fmt.Sprintf("k%02d", i)
		if n.Meta.GetString(key) != "v" {
			t.Errorf("lost update for %s", key)
		}
	}
}

func TestUpdateContainerRejected(t *testing.T) {
	s, _ := testStore(t)
	mustCreate(t, s, "", "dir", true)
	_, err := s.Update(context.Background(), "dir", codec.NewMetadata(), nil)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s, _ := testStore(t)
	path := mustCreate(t, s, "", "iso", false)
	snap := s.Snapshot()
	snap.Nodes[0].Meta.Set(codec.KeyTitle, "tampered")

	n, _ := s.Node(path)
	if n.Meta.GetString(codec.KeyTitle) == "tampered" {
		t.Error("snapshot mutation leaked into the store")
	}
}

func TestUpdateRejectsUnserializableMetadata(t *testing.T) {
	s, mem := testStore(t)
	path := mustCreate(t, s, "", "safe", false)
	before, _ := mem.Raw(path)

	cases := []struct {
		name  string
		patch func(*codec.Metadata)
	}{
		{"newline in value", func(m *codec.Metadata) {
			m.Set(codec.KeyTitle, "x\n---\ninjected: yes")
		}},
		{"newline in key", func(m *codec.Metadata) {
			m.Set("a\nb", "v")
		}},
		{"colon in key", func(m *codec.Metadata) {
			m.Set("a:b", "v")
		}},
		{"newline in list item", func(m *codec.Metadata) {
			m.Set("tags", []string{"ok", "bad\nline"})
		}},
		{"newline in task description", func(m *codec.Metadata) {
			m.Set(codec.KeyTask, &codec.Task{Description: "line1\nline2"})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			patch := codec.NewMetadata()
			tc.patch(patch)
			_, err := s.Update(context.Background(), path, patch, nil)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
			raw, _ := mem.Raw(path)
			if raw != before {
				t.Error("rejected patch reached the adapter")
			}
			n, _ := s.Node(path)
			if n.Meta.GetString(codec.KeyTitle) != "safe" {
				t.Errorf("rejected patch mutated the snapshot: title = %q", n.Meta.GetString(codec.KeyTitle))
			}
		})
	}
}

func TestCreateRejectsUnserializableInitialMetadata(t *testing.T) {
	s, _ := testStore(t)
	meta := codec.NewMetadata()
	meta.Set(codec.KeyTitle, "x\ny")
	_, err := s.Create(context.Background(), "", "bad", false, meta, "")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if s.Len() != 0 {
		t.Errorf("snapshot mutated on rejected create: %d nodes", s.Len())
	}
}

func TestCreateContainerRejectsMetadata(t *testing.T) {
	s, _ := testStore(t)
	meta := codec.NewMetadata()
	meta.Set(codec.KeyTitle, "Folder")
	_, err := s.Create(context.Background(), "", "dir", true, meta, "")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
	if _, err := s.Create(context.Background(), "", "dir", true, nil, ""); err != nil {
		t.Errorf("container create without metadata should pass: %v", err)
	}
}
