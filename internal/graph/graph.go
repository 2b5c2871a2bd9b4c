// Package graph defines the node and edge types of the content graph and
// the path rules that derive the containment hierarchy.
package graph

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/holt/lattice/internal/codec"
)

// Separator is the path separator between a container and its entries.
const Separator = "/"

// Node is one addressable entity. ID is assigned once at creation and
// never changes; Path changes on move/rename. Containers carry no body.
type Node struct {
	ID          string
	Path        string
	IsContainer bool
	Meta        *codec.Metadata
	Body        string
}

// Edge is a directed edge between two node ids.
type Edge struct {
	Source string
	Target string
}

// Label returns the node's display label: the metadata title when present,
// otherwise the final path segment without the document extension.
func (n *Node) Label() string {
	if t := n.Meta.GetString(codec.KeyTitle); t != "" {
		return t
	}
	return strings.TrimSuffix(BaseName(n.Path), ".md")
}

// Links returns the soft-link target ids stored in the node's metadata.
func (n *Node) Links() []string {
	return n.Meta.StringList(codec.KeyLinks)
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	c.Meta = n.Meta.Clone()
	return &c
}

// ParentPath derives a node's parent from its path by dropping the last
// segment. Root nodes (no separator) have no parent.
func ParentPath(path string) (string, bool) {
	idx := strings.LastIndex(path, Separator)
	if idx < 0 {
		return "", false
	}
	return path[:idx], true
}

// BaseName returns the final path segment.
func BaseName(path string) string {
	if idx := strings.LastIndex(path, Separator); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// IsDescendant reports whether path lies strictly under ancestor.
func IsDescendant(ancestor, path string) bool {
	return strings.HasPrefix(path, ancestor+Separator)
}

// RenamePrefix remaps path when it equals oldPrefix or lies under it.
// The second return is false when path is unaffected.
func RenamePrefix(oldPrefix, newPrefix, path string) (string, bool) {
	if path == oldPrefix {
		return newPrefix, true
	}
	if IsDescendant(oldPrefix, path) {
		return newPrefix + path[len(oldPrefix):], true
	}
	return path, false
}

// NewID generates a fresh collision-resistant node id. Ids are opaque and
// never derived from the (mutable) path.
func NewID() string {
	frag := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("node-%d-%s", time.Now().Unix(), frag)
}

var (
	invalidNameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	dashRuns         = regexp.MustCompile(`-+`)
)

// SanitizeName converts a display name into a file-safe name: invalid
// characters become dashes and dash runs collapse.
func SanitizeName(name string) string {
	s := invalidNameChars.ReplaceAllString(name, "-")
	s = strings.TrimSpace(s)
	return dashRuns.ReplaceAllString(s, "-")
}
