package layout

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"github.com/holt/lattice/internal/apperr"
	"github.com/holt/lattice/internal/graph"
)

func sampleTree() ([]Node, []graph.Edge) {
	nodes := []Node{
		{ID: "root", Label: "Root", IsContainer: true},
		{ID: "a", Label: "Alpha"},
		{ID: "b", Label: "Beta"},
		{ID: "sub", Label: "Sub", IsContainer: true},
		{ID: "c", Label: "Gamma"},
	}
	edges := []graph.Edge{
		{Source: "root", Target: "a"},
		{Source: "root", Target: "b"},
		{Source: "root", Target: "sub"},
		{Source: "sub", Target: "c"},
	}
	return nodes, edges
}

func TestTopDownRanks(t *testing.T) {
	nodes, edges := sampleTree()
	pos, err := Compute(nodes, edges, nil, TopDown, Options{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(pos) != len(nodes) {
		t.Fatalf("positions = %d, want %d", len(pos), len(nodes))
	}
	if pos["root"].Y >= pos["a"].Y {
		t.Errorf("root y=%v not above child a y=%v", pos["root"].Y, pos["a"].Y)
	}
	if pos["a"].Y != pos["b"].Y || pos["a"].Y != pos["sub"].Y {
		t.Errorf("siblings not co-ranked: a=%v b=%v sub=%v", pos["a"].Y, pos["b"].Y, pos["sub"].Y)
	}
	if pos["c"].Y <= pos["sub"].Y {
		t.Errorf("grandchild c y=%v not below sub y=%v", pos["c"].Y, pos["sub"].Y)
	}
	if pos["a"].X == pos["b"].X {
		t.Errorf("siblings a and b share x=%v", pos["a"].X)
	}
}

func TestDeterminismUnderShuffledInput(t *testing.T) {
	nodes, edges := sampleTree()
	want, err := Compute(nodes, edges, nil, TopDown, Options{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		ns := append([]Node(nil), nodes...)
		es := append([]graph.Edge(nil), edges...)
		rng.Shuffle(len(ns), func(a, b int) { ns[a], ns[b] = ns[b], ns[a] })
		rng.Shuffle(len(es), func(a, b int) { es[a], es[b] = es[b], es[a] })

		got, err := Compute(ns, es, nil, TopDown, Options{})
		if err != nil {
			t.Fatalf("Compute shuffled: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("shuffle %d: positions differ\ngot  %v\nwant %v", i, got, want)
		}
	}
}

func TestModeTransposition(t *testing.T) {
	nodes, edges := sampleTree()
	td, _ := Compute(nodes, edges, nil, TopDown, Options{})
	bu, _ := Compute(nodes, edges, nil, BottomUp, Options{})
	lr, _ := Compute(nodes, edges, nil, LeftRight, Options{})
	rl, _ := Compute(nodes, edges, nil, RightLeft, Options{})

	for id, p := range td {
		if got := bu[id]; got.X != p.X || got.Y != -p.Y {
			t.Errorf("%s: bottom-up = %v, want {%v %v}", id, got, p.X, -p.Y)
		}
		if got := lr[id]; got.X != p.Y || got.Y != p.X {
			t.Errorf("%s: left-right = %v, want {%v %v}", id, got, p.Y, p.X)
		}
		if got := rl[id]; got.X != -p.Y || got.Y != p.X {
			t.Errorf("%s: right-left = %v, want {%v %v}", id, got, -p.Y, p.X)
		}
	}
}

func TestDisconnectedNodesArePlaced(t *testing.T) {
	nodes, edges := sampleTree()
	nodes = append(nodes, Node{ID: "island", Label: "Island"})
	pos, err := Compute(nodes, edges, nil, TopDown, Options{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if _, ok := pos["island"]; !ok {
		t.Fatal("disconnected node missing from layout")
	}
	if pos["island"].Y != pos["root"].Y {
		t.Errorf("island y=%v, want root rank y=%v", pos["island"].Y, pos["root"].Y)
	}
}

func TestExpandedAlternation(t *testing.T) {
	nodes := []Node{
		{ID: "root", Label: "Root", IsContainer: true},
		{ID: "c1", Label: "Aaa", IsContainer: true},
		{ID: "c2", Label: "Bbb", IsContainer: true},
		{ID: "c3", Label: "Ccc", IsContainer: true},
		{ID: "l1", Label: "Leaf1"},
		{ID: "l2", Label: "Leaf2"},
	}
	edges := []graph.Edge{
		{Source: "root", Target: "c1"},
		{Source: "root", Target: "c2"},
		{Source: "root", Target: "c3"},
		{Source: "root", Target: "l1"},
		{Source: "root", Target: "l2"},
	}
	opts := Options{BranchOffset: 100, RankSpacing: 50, LeafSpacing: 10}
	pos, err := Compute(nodes, edges, nil, Expanded, opts)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if pos["root"] != (Position{X: 0, Y: 0}) {
		t.Errorf("root = %v, want origin", pos["root"])
	}
	// Containers alternate in label order: c1 left, c2 right, c3 further left.
	if pos["c1"].X != -100 || pos["c2"].X != 100 || pos["c3"].X != -200 {
		t.Errorf("container x: c1=%v c2=%v c3=%v, want -100/100/-200",
			pos["c1"].X, pos["c2"].X, pos["c3"].X)
	}
	if pos["c1"].Y != 50 || pos["c2"].Y != 50 || pos["c3"].Y != 50 {
		t.Errorf("container y: c1=%v c2=%v c3=%v, want 50 each",
			pos["c1"].Y, pos["c2"].Y, pos["c3"].Y)
	}
	// Leaves stack directly beneath the parent.
	if pos["l1"] != (Position{X: 0, Y: 10}) || pos["l2"] != (Position{X: 0, Y: 20}) {
		t.Errorf("leaves = %v / %v, want stacked at x=0", pos["l1"], pos["l2"])
	}
}

func TestExpandedSeparatesRoots(t *testing.T) {
	nodes := []Node{
		{ID: "r1", Label: "One", IsContainer: true},
		{ID: "r2", Label: "Two", IsContainer: true},
		{ID: "leaf", Label: "Leaf"},
	}
	edges := []graph.Edge{{Source: "r1", Target: "leaf"}}
	pos, err := Compute(nodes, edges, nil, Expanded, Options{RankSpacing: 50, LeafSpacing: 10})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if pos["r2"].Y <= pos["leaf"].Y {
		t.Errorf("second root y=%v overlaps first tree (leaf y=%v)", pos["r2"].Y, pos["leaf"].Y)
	}
}

func TestComputeDoesNotMutateInput(t *testing.T) {
	nodes, edges := sampleTree()
	nodesCopy := append([]Node(nil), nodes...)
	edgesCopy := append([]graph.Edge(nil), edges...)

	if _, err := Compute(nodes, edges, nil, Expanded, Options{}); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !reflect.DeepEqual(nodes, nodesCopy) {
		t.Error("node slice mutated")
	}
	if !reflect.DeepEqual(edges, edgesCopy) {
		t.Error("edge slice mutated")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != TopDown {
		t.Errorf("empty mode = %q, %v, want top-down default", m, err)
	}
	if _, err := ParseMode("diagonal"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown mode: err = %v, want ErrValidation", err)
	}
}

func TestSoftEdgesDoNotAffectRanking(t *testing.T) {
	nodes, edges := sampleTree()
	soft := []graph.Edge{{Source: "c", Target: "a"}, {Source: "a", Target: "b"}}
	plain, _ := Compute(nodes, edges, nil, TopDown, Options{})
	withSoft, _ := Compute(nodes, edges, soft, TopDown, Options{})
	if !reflect.DeepEqual(plain, withSoft) {
		t.Errorf("soft edges changed positions:\nplain %v\nsoft  %v", plain, withSoft)
	}
}
