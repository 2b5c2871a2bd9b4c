package store

import (
	"fmt"
	"sort"

	"github.com/holt/lattice/internal/apperr"
	"github.com/holt/lattice/internal/graph"
)

// Snapshot is an immutable view of the materialized graph: every live
// node, the derived hard-link tree, and the resolvable soft links. All
// slices are copies; mutating them never touches the store.
type Snapshot struct {
	Nodes     []graph.Node
	HardEdges []graph.Edge // parent id → child id, derived from paths
	SoftEdges []graph.Edge // source id → target id, dangling targets omitted
}

// Snapshot materializes the current graph state. Nodes are sorted by
// path, edges by (source, target), so two snapshots of the same state
// compare equal.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Nodes: make([]graph.Node, 0, len(s.nodes))}
	for _, n := range s.nodes {
		c := n.Clone()
		snap.Nodes = append(snap.Nodes, *c)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].Path < snap.Nodes[j].Path })

	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		if parent, ok := graph.ParentPath(n.Path); ok {
			if pn, live := s.nodes[parent]; live {
				snap.HardEdges = append(snap.HardEdges, graph.Edge{Source: pn.ID, Target: n.ID})
			}
		}
		for _, target := range n.Links() {
			// Dangling soft links stay in metadata but are inert here;
			// they self-heal when the target reappears.
			if _, live := s.byID[target]; live {
				snap.SoftEdges = append(snap.SoftEdges, graph.Edge{Source: n.ID, Target: target})
			}
		}
	}
	sortEdges(snap.HardEdges)
	sortEdges(snap.SoftEdges)
	return snap
}

func sortEdges(edges []graph.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
}

// Node returns a copy of the node at path.
func (s *Store) Node(path string) (*graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[path]
	if !ok {
		return nil, fmt.Errorf("store: node %s: %w", path, apperr.ErrNotFound)
	}
	return n.Clone(), nil
}

// NodeByID returns a copy of the node with the given id.
func (s *Store) NodeByID(id string) (*graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	path, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("store: node id %s: %w", id, apperr.ErrNotFound)
	}
	return s.nodes[path].Clone(), nil
}

// Len returns the number of live nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}
