// Package splattree builds the per-bucket, GPU-resident octree that indexes
// a bucket's splats: a CPU-side construction step that ships a flat
// commands array and a start-offset image to the device.
package splattree

import (
	"sort"

	"github.com/MohamedGNabail/mlsgpu/internal/geom"
	"github.com/MohamedGNabail/mlsgpu/internal/splat"
)

// Entry is one (level, code, splatIndex) triple emitted for a splat at the
// level where its influence box spans at most two cells per axis. Level 0
// is the bucket's finest cell resolution; higher levels are coarser.
type Entry struct {
	Level      int
	Code       uint64
	SplatIndex int
}

// BuildEntries computes, for every splat in the bucket (indexed by its
// position in splats, relative to the bucket's grid), the level at which
// its influence box spans at most two cells per axis, and emits one Entry
// per cell it covers at that level.
func BuildEntries(splats []splat.Splat, grid geom.Grid) []Entry {
	var entries []Entry
	for i, s := range splats {
		lo, hi, ok := cellBoxAtLevel0(s, grid)
		if !ok {
			continue
		}
		level := 0
		for hi[0]-lo[0] > 1 || hi[1]-lo[1] > 1 || hi[2]-lo[2] > 1 {
			level++
			for a := 0; a < 3; a++ {
				lo[a] >>= 1
				hi[a] >>= 1
			}
		}
		for x := lo[0]; x <= hi[0]; x++ {
			for y := lo[1]; y <= hi[1]; y++ {
				for z := lo[2]; z <= hi[2]; z++ {
					entries = append(entries, Entry{
						Level:      level,
						Code:       geom.MakeCode(uint64(x), uint64(y), uint64(z)),
						SplatIndex: i,
					})
				}
			}
		}
	}
	// Stable sort: level ascending, then code descending, so that entries
	// sharing a (level, code) slot land contiguously and splats within a
	// slot keep their original relative order.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Level != entries[j].Level {
			return entries[i].Level < entries[j].Level
		}
		return entries[i].Code > entries[j].Code
	})
	return entries
}

func cellBoxAtLevel0(s splat.Splat, grid geom.Grid) (lo, hi [3]int64, ok bool) {
	ok = true
	wlo := s.BoundsLower()
	whi := s.BoundsUpper()
	for i := 0; i < 3; i++ {
		loV := grid.WorldToVertex(i, wlo[i]) - grid.Lo[i]
		hiV := grid.WorldToVertex(i, whi[i]) - grid.Lo[i]
		n := grid.NumCells(i)
		if hiV < 0 || loV >= n || n <= 0 {
			ok = false
		}
		if loV < 0 {
			loV = 0
		}
		if hiV >= n {
			hiV = n - 1
		}
		lo[i], hi[i] = loV, hiV
	}
	return lo, hi, ok
}

// sentinel values recorded in Commands: runEnd terminates a run with no
// parent to fall back to; jumpUp is encoded as -2-parentStart.
const runEnd = int64(-1)

func jumpUp(parentStart int32) int64 { return -2 - int64(parentStart) }

// Tree is the built splat-tree: a flat commands program plus the set of
// (level,code) start offsets used to build the finest-level lookup image.
type Tree struct {
	Commands []int64
	starts   map[levelCode]int32
	maxLevel int
}

type levelCode struct {
	level int
	code  uint64
}

// Build constructs the commands array from BuildEntries' sorted output, per
// §4.6 step 4: iterate levels coarse-to-fine (outer, i.e. from the highest
// level present down to 0) and codes descending (inner, already the sort
// order within a level). Each non-empty (level,code) slot's run ends with
// -1 if no coarser ancestor slot exists yet, or a jump-up pointer to the
// nearest non-empty ancestor's start otherwise -- climbing code>>=3 one
// level at a time exactly like Lookup does, since the immediate parent
// level is often empty (splats of very different radii each contribute
// entries only at their one natural level) -- which is why parent levels
// must be built before their children.
func Build(entries []Entry) *Tree {
	t := &Tree{starts: make(map[levelCode]int32)}
	if len(entries) == 0 {
		return t
	}

	// Group entries by (level, code); since entries are already sorted
	// level-ascending/code-descending, a group is a contiguous run.
	type group struct {
		level int
		code  uint64
		start int
		end   int
	}
	var groups []group
	for i := 0; i < len(entries); {
		j := i + 1
		for j < len(entries) && entries[j].Level == entries[i].Level && entries[j].Code == entries[i].Code {
			j++
		}
		groups = append(groups, group{level: entries[i].Level, code: entries[i].Code, start: i, end: j})
		i = j
	}

	maxLevel := entries[len(entries)-1].Level
	t.maxLevel = maxLevel

	// groupsByLevel lets us walk levels from maxLevel down to 0 even though
	// groups is naturally ordered ascending.
	byLevel := make(map[int][]group)
	for _, g := range groups {
		byLevel[g.level] = append(byLevel[g.level], g)
	}

	for level := maxLevel; level >= 0; level-- {
		lg := byLevel[level]
		// lg is already code-descending within the level (inherited from
		// the overall sort), matching "codes descending (inner)".
		for _, g := range lg {
			offset := int32(len(t.Commands))
			for _, e := range entries[g.start:g.end] {
				t.Commands = append(t.Commands, int64(e.SplatIndex))
			}
			if parentStart, ok := t.nearestAncestorStart(level, g.code); ok {
				t.Commands = append(t.Commands, jumpUp(parentStart))
			} else {
				t.Commands = append(t.Commands, runEnd)
			}
			t.starts[levelCode{level, g.code}] = offset
		}
	}
	return t
}

// nearestAncestorStart searches upward from level+1 for the nearest
// non-empty ancestor of (level,code), the same climb Lookup performs, so a
// run's terminator jumps to whichever coarser slot would actually answer a
// Lookup falling through this one rather than just the immediate parent.
func (t *Tree) nearestAncestorStart(level int, code uint64) (int32, bool) {
	ancestorCode := code >> 3
	for ancestorLevel := level + 1; ancestorLevel <= t.maxLevel; ancestorLevel++ {
		if start, ok := t.starts[levelCode{ancestorLevel, ancestorCode}]; ok {
			return start, true
		}
		ancestorCode >>= 3
	}
	return 0, false
}

// Lookup returns the commands-array offset for the finest-level cell
// (x,y,z), walking up through coarser ancestors (code >>= 3 per level) when
// the cell has no direct entry. -1 means no ancestor at any level covers
// this cell (lookup outside the splat tree's coverage).
func (t *Tree) Lookup(x, y, z uint64) int32 {
	code := geom.MakeCode(x, y, z)
	for level := 0; level <= t.maxLevel; level++ {
		if start, ok := t.starts[levelCode{level, code}]; ok {
			return start
		}
		code >>= 3
	}
	return -1
}

// Image materializes Lookup over every cell of a dims[0] x dims[1] x dims[2]
// finest-level grid, the 3-D start-offset image shipped to the device for
// O(1) lookup from MakeCode(x,y,z).
func (t *Tree) Image(dims [3]int64) []int32 {
	img := make([]int32, dims[0]*dims[1]*dims[2])
	idx := 0
	for z := int64(0); z < dims[2]; z++ {
		for y := int64(0); y < dims[1]; y++ {
			for x := int64(0); x < dims[0]; x++ {
				img[idx] = t.Lookup(uint64(x), uint64(y), uint64(z))
				idx++
			}
		}
	}
	return img
}
