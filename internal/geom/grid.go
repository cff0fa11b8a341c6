// Package geom implements the integer spatial arithmetic shared by the
// bucketing and splat-tree stages: the reconstruction grid, octree node
// coordinates, and Morton codes.
package geom

import (
	"math"

	"github.com/MohamedGNabail/mlsgpu/internal/errs"
)

// Grid is a uniform reconstruction lattice: a reference point, a cell
// spacing, and integer extents [Lo, Hi) per axis.
type Grid struct {
	Reference [3]float64
	Spacing   float64
	Lo        [3]int64
	Hi        [3]int64
}

// NewGrid validates and constructs a Grid. Spacing must be positive and each
// axis's Lo must be strictly less than its Hi.
func NewGrid(reference [3]float64, spacing float64, lo, hi [3]int64) (Grid, error) {
	if spacing <= 0 {
		return Grid{}, errs.NewStateError("grid spacing must be positive, got %v", spacing)
	}
	for i := 0; i < 3; i++ {
		if lo[i] >= hi[i] {
			return Grid{}, errs.NewStateError("grid axis %d: lo (%d) must be < hi (%d)", i, lo[i], hi[i])
		}
	}
	return Grid{Reference: reference, Spacing: spacing, Lo: lo, Hi: hi}, nil
}

// NumVertices returns hi_i - lo_i + 1 for axis i.
func (g Grid) NumVertices(axis int) int64 { return g.Hi[axis] - g.Lo[axis] + 1 }

// NumCells returns hi_i - lo_i for axis i.
func (g Grid) NumCells(axis int) int64 { return g.Hi[axis] - g.Lo[axis] }

// MaxNumCells returns the largest NumCells across all three axes.
func (g Grid) MaxNumCells() int64 {
	m := g.NumCells(0)
	if c := g.NumCells(1); c > m {
		m = c
	}
	if c := g.NumCells(2); c > m {
		m = c
	}
	return m
}

// WorldToVertex converts a world-space coordinate on the given axis to the
// nearest vertex index of this grid (not clamped to the grid's extents).
func (g Grid) WorldToVertex(axis int, world float64) int64 {
	return int64(math.Floor((world-g.Reference[axis])/g.Spacing + 0.5))
}

// SubGrid returns the sub-grid covering [lo, hi) on each axis, inheriting
// this grid's spacing and reference point.
func (g Grid) SubGrid(lo, hi [3]int64) (Grid, error) {
	return NewGrid(g.Reference, g.Spacing, lo, hi)
}

// Node is an octree cell: integer coordinates at a given level. Its side
// length in microblocks is 2^Level. Node is an immutable value type.
type Node struct {
	Coords [3]int64
	Level  int
}

// ToMicro returns the node's microblock range [lo, hi) on each axis.
func (n Node) ToMicro() (lo, hi [3]int64) {
	side := int64(1) << uint(n.Level)
	for i := 0; i < 3; i++ {
		lo[i] = n.Coords[i] * side
		hi[i] = lo[i] + side
	}
	return lo, hi
}

// ToCells multiplies the microblock range by microSize and, if grid is
// non-nil, clamps the result to grid.NumCells per axis.
func (n Node) ToCells(microSize int64, grid *Grid) (lo, hi [3]int64) {
	microLo, microHi := n.ToMicro()
	for i := 0; i < 3; i++ {
		lo[i] = microLo[i] * microSize
		hi[i] = microHi[i] * microSize
		if grid != nil {
			if max := grid.NumCells(i); hi[i] > max {
				hi[i] = max
			}
			if lo[i] > hi[i] {
				lo[i] = hi[i]
			}
		}
	}
	return lo, hi
}

// Child returns the octant idx in [0,8) of this node, one level down.
// Octant bit layout is (x,y,z) low bits, matching the Morton child order
// used by ForEachNode.
func (n Node) Child(idx int) Node {
	if idx < 0 || idx >= 8 {
		panic("geom: child index out of [0,8)")
	}
	if n.Level == 0 {
		panic("geom: child of a level-0 node")
	}
	child := Node{Level: n.Level - 1}
	for i := 0; i < 3; i++ {
		bit := int64((idx >> uint(i)) & 1)
		child.Coords[i] = n.Coords[i]*2 + bit
	}
	return child
}

// ForEachNode recursively visits the virtual octree top-down from a single
// root at level levels-1, covering [0,dims) on each axis in microblock
// units. A node is skipped iff its microblock range lies entirely outside
// [0,dims). visit returns whether to recurse into the node's children.
// Traversal order is deterministic: Morton order, child index 0..7 =
// (x,y,z) low bits, which is also Node.Child's convention.
func ForEachNode(dims [3]int64, levels int, visit func(Node) bool) {
	if levels <= 0 {
		return
	}
	root := Node{Level: levels - 1}
	forEachNode(root, dims, visit)
}

func forEachNode(n Node, dims [3]int64, visit func(Node) bool) {
	lo, hi := n.ToMicro()
	for i := 0; i < 3; i++ {
		if hi[i] <= 0 || lo[i] >= dims[i] {
			return
		}
	}
	if !visit(n) {
		return
	}
	if n.Level == 0 {
		return
	}
	for idx := 0; idx < 8; idx++ {
		forEachNode(n.Child(idx), dims, visit)
	}
}
