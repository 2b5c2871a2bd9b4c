package graph

import (
	"strings"
	"testing"
)

func TestParentPath(t *testing.T) {
	cases := []struct {
		path   string
		parent string
		ok     bool
	}{
		{"root", "", false},
		{"root/a.md", "root", true},
		{"root/sub/deep.md", "root/sub", true},
	}
	for _, tc := range cases {
		parent, ok := ParentPath(tc.path)
		if parent != tc.parent || ok != tc.ok {
			t.Errorf("ParentPath(%q) = %q, %v; want %q, %v", tc.path, parent, ok, tc.parent, tc.ok)
		}
	}
}

func TestIsDescendant(t *testing.T) {
	if !IsDescendant("root", "root/a.md") {
		t.Error("direct child should be a descendant")
	}
	if !IsDescendant("root", "root/sub/b.md") {
		t.Error("deep child should be a descendant")
	}
	if IsDescendant("root", "root") {
		t.Error("a node is not its own descendant")
	}
	if IsDescendant("root", "rooted/a.md") {
		t.Error("sibling prefix must not match")
	}
}

func TestRenamePrefix(t *testing.T) {
	got, changed := RenamePrefix("root/old", "root/new", "root/old/a.md")
	if !changed || got != "root/new/a.md" {
		t.Errorf("got %q, changed %v", got, changed)
	}
	got, changed = RenamePrefix("root/old", "root/new", "root/old")
	if !changed || got != "root/new" {
		t.Errorf("self rename: got %q, changed %v", got, changed)
	}
	got, changed = RenamePrefix("root/old", "root/new", "root/older/a.md")
	if changed || got != "root/older/a.md" {
		t.Errorf("unrelated path mutated: %q, %v", got, changed)
	}
}

func TestNewID_UniqueAndOpaque(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewID()
		if !strings.HasPrefix(id, "node-") {
			t.Fatalf("unexpected id shape: %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id after %d iterations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Chapter One", "Chapter One"},
		{`bad<>:"/\|?*chars`, "bad-chars"},
		{"  trimmed  ", "trimmed"},
		{"a--b---c", "a-b-c"},
	}
	for _, tc := range cases {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
