// Package layout computes deterministic 2D positions for graph
// visualization. It is a pure function over node and edge sets: inputs
// are never mutated and equal inputs produce identical positions
// regardless of the order the collections arrive in.
package layout

import (
	"fmt"
	"sort"

	"github.com/holt/lattice/internal/apperr"
	"github.com/holt/lattice/internal/graph"
)

// Mode selects the layout algorithm and direction.
type Mode string

const (
	TopDown   Mode = "top-down"
	BottomUp  Mode = "bottom-up"
	LeftRight Mode = "left-right"
	RightLeft Mode = "right-left"
	Expanded  Mode = "expanded"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case TopDown, BottomUp, LeftRight, RightLeft, Expanded:
		return Mode(s), nil
	case "":
		return TopDown, nil
	}
	return "", fmt.Errorf("layout: unknown mode %q: %w", s, apperr.ErrValidation)
}

// Node is the structural shape the engine needs: identity, a display
// label for deterministic ordering, and containment.
type Node struct {
	ID          string
	Label       string
	IsContainer bool
}

// Position is a computed 2D coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Options control spacing. Zero values fall back to defaults.
type Options struct {
	RankSpacing    float64 // distance between ranks (ranked) / levels (expanded)
	NodeSpacing    float64 // distance between siblings within a rank
	LeafSpacing    float64 // vertical increment for stacked leaves (expanded)
	BranchOffset   float64 // horizontal step for alternating containers (expanded)
	OrderingSweeps int     // barycenter passes; more sweeps, fewer crossings
}

func (o Options) withDefaults() Options {
	if o.RankSpacing <= 0 {
		o.RankSpacing = 120
	}
	if o.NodeSpacing <= 0 {
		o.NodeSpacing = 160
	}
	if o.LeafSpacing <= 0 {
		o.LeafSpacing = 60
	}
	if o.BranchOffset <= 0 {
		o.BranchOffset = 280
	}
	if o.OrderingSweeps <= 0 {
		o.OrderingSweeps = 4
	}
	return o
}

// Compute lays out the graph. Hard edges drive the structure; soft edges
// are accepted for signature completeness but do not influence ranking.
// Disconnected nodes become additional roots rather than being dropped.
func Compute(nodes []Node, hardEdges, softEdges []graph.Edge, mode Mode, opts Options) (map[string]Position, error) {
	mode, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	sorted := append([]Node(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	if mode == Expanded {
		return expanded(sorted, hardEdges, opts), nil
	}
	return ranked(sorted, hardEdges, mode, opts), nil
}

// structure indexes nodes and derives sorted child adjacency and the
// root set from the hard edges. Edges referencing unknown ids are
// ignored.
type structure struct {
	nodes     map[string]Node
	children  map[string][]string
	hasParent map[string]bool
	roots     []string
}

func buildStructure(sorted []Node, hardEdges []graph.Edge) structure {
	st := structure{
		nodes:     make(map[string]Node, len(sorted)),
		children:  make(map[string][]string),
		hasParent: make(map[string]bool),
	}
	for _, n := range sorted {
		st.nodes[n.ID] = n
	}
	edges := append([]graph.Edge(nil), hardEdges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	for _, e := range edges {
		if _, ok := st.nodes[e.Source]; !ok {
			continue
		}
		if _, ok := st.nodes[e.Target]; !ok {
			continue
		}
		st.children[e.Source] = append(st.children[e.Source], e.Target)
		st.hasParent[e.Target] = true
	}
	for _, n := range sorted {
		if !st.hasParent[n.ID] {
			st.roots = append(st.roots, n.ID)
		}
	}
	return st
}

// siblingOrder sorts ids: containers first, then by label, then by id.
func (st structure) siblingOrder(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := st.nodes[ids[i]], st.nodes[ids[j]]
		if a.IsContainer != b.IsContainer {
			return a.IsContainer
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.ID < b.ID
	})
}

// ranked implements the layered layout: longest-path ranking along hard
// edges, barycenter ordering within ranks, then coordinate assignment.
// The direction only transposes the final coordinate mapping.
func ranked(sorted []Node, hardEdges []graph.Edge, mode Mode, opts Options) map[string]Position {
	st := buildStructure(sorted, hardEdges)

	// Rank by longest path from a root. Hard links form a tree per the
	// entity model; the visited guard keeps a malformed input from
	// recursing forever.
	rank := make(map[string]int, len(sorted))
	var assign func(id string, r int, onPath map[string]bool)
	assign = func(id string, r int, onPath map[string]bool) {
		if onPath[id] {
			return
		}
		if cur, ok := rank[id]; !ok || r > cur {
			rank[id] = r
		}
		onPath[id] = true
		for _, c := range st.children[id] {
			assign(c, r+1, onPath)
		}
		delete(onPath, id)
	}
	for _, root := range st.roots {
		assign(root, 0, make(map[string]bool))
	}

	// Bucket per rank with a deterministic initial order: depth-first
	// from sorted roots, children in sibling order.
	maxRank := 0
	for _, r := range rank {
		if r > maxRank {
			maxRank = r
		}
	}
	layers := make([][]string, maxRank+1)
	seen := make(map[string]bool, len(sorted))
	var place func(id string)
	place = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		layers[rank[id]] = append(layers[rank[id]], id)
		kids := append([]string(nil), st.children[id]...)
		st.siblingOrder(kids)
		for _, c := range kids {
			place(c)
		}
	}
	for _, root := range st.roots {
		place(root)
	}

	parents := make(map[string][]string)
	for p, kids := range st.children {
		for _, c := range kids {
			parents[c] = append(parents[c], p)
		}
	}

	// Barycenter sweeps: order each rank by the mean index of its
	// neighbors in the adjacent rank, alternating direction.
	index := func(layer []string) map[string]int {
		m := make(map[string]int, len(layer))
		for i, id := range layer {
			m[id] = i
		}
		return m
	}
	reorder := func(layer []string, neighbors map[string][]string, pos map[string]int) {
		bary := make(map[string]float64, len(layer))
		for _, id := range layer {
			ns := neighbors[id]
			if len(ns) == 0 {
				bary[id] = float64(pos[id])
				continue
			}
			sum := 0.0
			for _, n := range ns {
				sum += float64(pos[n])
			}
			bary[id] = sum / float64(len(ns))
		}
		sort.SliceStable(layer, func(i, j int) bool { return bary[layer[i]] < bary[layer[j]] })
	}
	for sweep := 0; sweep < opts.OrderingSweeps; sweep++ {
		if sweep%2 == 0 {
			for r := 1; r <= maxRank; r++ {
				reorder(layers[r], parents, index(layers[r-1]))
			}
		} else {
			for r := maxRank - 1; r >= 0; r-- {
				reorder(layers[r], st.children, index(layers[r+1]))
			}
		}
	}

	// Coordinates: ranks along one axis, centered siblings along the other.
	out := make(map[string]Position, len(sorted))
	for r, layer := range layers {
		width := float64(len(layer)-1) * opts.NodeSpacing
		for i, id := range layer {
			main := float64(i)*opts.NodeSpacing - width/2
			depth := float64(r) * opts.RankSpacing
			out[id] = orient(mode, main, depth)
		}
	}
	return out
}

// orient maps (in-rank offset, rank depth) into final coordinates.
func orient(mode Mode, main, depth float64) Position {
	switch mode {
	case BottomUp:
		return Position{X: main, Y: -depth}
	case LeftRight:
		return Position{X: depth, Y: main}
	case RightLeft:
		return Position{X: -depth, Y: main}
	default: // TopDown
		return Position{X: main, Y: depth}
	}
}

// expanded implements the alternating layout: container children swing
// left and right of the parent at growing offsets, leaves stack
// vertically beneath it. Recursion is depth-first with deterministic
// sibling order.
func expanded(sorted []Node, hardEdges []graph.Edge, opts Options) map[string]Position {
	st := buildStructure(sorted, hardEdges)
	out := make(map[string]Position, len(sorted))

	var maxY float64
	var walk func(id string, x, y float64)
	walk = func(id string, x, y float64) {
		if _, placed := out[id]; placed {
			return
		}
		out[id] = Position{X: x, Y: y}
		if y > maxY {
			maxY = y
		}

		kids := append([]string(nil), st.children[id]...)
		st.siblingOrder(kids)

		containerIdx := 0
		leafIdx := 0
		for _, c := range kids {
			if st.nodes[c].IsContainer {
				// 1st left, 2nd right, 3rd further left, 4th further right…
				step := float64(containerIdx/2 + 1)
				dx := opts.BranchOffset * step
				if containerIdx%2 == 0 {
					dx = -dx
				}
				containerIdx++
				walk(c, x+dx, y+opts.RankSpacing)
			} else {
				leafIdx++
				ly := y + opts.LeafSpacing*float64(leafIdx)
				out[c] = Position{X: x, Y: ly}
				if ly > maxY {
					maxY = ly
				}
			}
		}
	}

	roots := append([]string(nil), st.roots...)
	st.siblingOrder(roots)
	for _, root := range roots {
		startY := 0.0
		if len(out) > 0 {
			startY = maxY + opts.RankSpacing
		}
		walk(root, 0, startY)
	}
	return out
}
