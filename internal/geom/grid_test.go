package geom

import "testing"

func TestGridInvariants(t *testing.T) {
	if _, err := NewGrid([3]float64{}, 0, [3]int64{0, 0, 0}, [3]int64{1, 1, 1}); err == nil {
		t.Fatal("expected error for non-positive spacing")
	}
	if _, err := NewGrid([3]float64{}, 1, [3]int64{1, 0, 0}, [3]int64{1, 1, 1}); err == nil {
		t.Fatal("expected error for lo >= hi")
	}
	g, err := NewGrid([3]float64{}, 1, [3]int64{0, 0, 0}, [3]int64{4, 4, 4})
	if err != nil {
		t.Fatal(err)
	}
	if g.NumVertices(0) != 5 || g.NumCells(0) != 4 {
		t.Fatalf("unexpected NumVertices/NumCells: %d %d", g.NumVertices(0), g.NumCells(0))
	}
}

func TestNodeChildAndMicro(t *testing.T) {
	n := Node{Coords: [3]int64{1, 0, 0}, Level: 2}
	lo, hi := n.ToMicro()
	if lo != [3]int64{4, 0, 0} || hi != [3]int64{8, 4, 4} {
		t.Fatalf("unexpected micro range: %v %v", lo, hi)
	}
	c := n.Child(5) // binary 101 -> x low bit 1, y low bit 0, z low bit 1
	want := Node{Coords: [3]int64{3, 0, 1}, Level: 1}
	if c != want {
		t.Fatalf("Child(5) = %+v, want %+v", c, want)
	}
}

func TestForEachNodeSkipsOutsideDims(t *testing.T) {
	dims := [3]int64{4, 4, 4}
	visited := 0
	ForEachNode(dims, 3, func(n Node) bool {
		visited++
		return true
	})
	if visited == 0 {
		t.Fatal("expected at least the root to be visited")
	}

	// Empty dims leave every node, the root included, outside: nothing is visited.
	visitedNone := 0
	ForEachNode([3]int64{0, 0, 0}, 3, func(n Node) bool {
		visitedNone++
		return true
	})
	if visitedNone != 0 {
		t.Fatalf("expected zero visits for empty dims, got %d", visitedNone)
	}
}

func TestForEachNodeStopsRecursionWhenVisitorDeclines(t *testing.T) {
	dims := [3]int64{8, 8, 8}
	visited := 0
	ForEachNode(dims, 4, func(n Node) bool {
		visited++
		return false // never recurse
	})
	if visited != 1 {
		t.Fatalf("expected exactly the root visited once, got %d", visited)
	}
}
