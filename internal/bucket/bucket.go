// Package bucket implements the recursive out-of-core octree partitioning
// that subdivides a grid into buckets small enough to reconstruct on a GPU,
// without ever materializing the whole splat set in memory.
package bucket

import (
	"github.com/MohamedGNabail/mlsgpu/internal/blob"
	"github.com/MohamedGNabail/mlsgpu/internal/errs"
	"github.com/MohamedGNabail/mlsgpu/internal/geom"
	"github.com/MohamedGNabail/mlsgpu/internal/splat"
)

// Source hands back the splats named by a Range. A single in-memory
// implementation (SliceSource) is provided for tests and small jobs; the
// out-of-core driver supplies one backed by the disk reader stage instead.
type Source interface {
	Splats(r splat.Range) []splat.Splat
}

// BlobSource is a Source that can additionally replay a pre-built
// FastBlobSet index (internal/blob) in place of a per-splat scan for the
// root-level histogram and partition passes (spec §4.3's fast path). Runs
// must be in ascending FirstSplat order and share the fileID every returned
// splat.Range should carry.
type BlobSource interface {
	Source
	splat.BlobCapable
	BlobRuns() (runs []blob.Info, fileID uint32, internalBucketSize int64, indexSpacing float64)
}

// SliceSource is a Source backed by a single in-memory slice, indexed by
// absolute splat id (FileID is ignored). It exists for tests and for small
// enough jobs that the whole input already fits in RAM.
type SliceSource []splat.Splat

func (s SliceSource) Splats(r splat.Range) []splat.Splat {
	return s[r.StartIndex : r.StartIndex+r.Count]
}

// Processor receives one emitted bucket: the ranges of splats it contains,
// their total count, and the sub-grid it covers.
type Processor func(ranges []splat.Range, splatCount int, bucketGrid geom.Grid) error

// SplatRangeCounter is the per-node histogram accumulator from §4.4 step 4:
// how many ranges and splats touch a node's conservative bounding box.
type SplatRangeCounter struct {
	RangeCount int
	SplatCount int
}

// Limits bounds a single bucket(): splatCount <= MaxSplats and every side of
// the bucket's sub-grid <= MaxCells. MaxSplit bounds the per-level histogram
// memory by constraining how many microblocks a level may tile; it must be
// at least 8 (one octree split) or recursion on a cell that still exceeds
// MaxCells cannot make progress.
type Limits struct {
	MaxSplats int
	MaxCells  int64
	MaxSplit  int
}

// Bucket recursively subdivides grid into buckets satisfying limits,
// reading splat data for ranges through src, and invokes process once per
// emitted bucket. It returns errs.DensityError if a single microblock holds
// more than limits.MaxSplats splats, since no further subdivision can help.
// Only the root call may use src's blob fast path (if it has one); every
// recursive sub-call always falls back to the per-splat scan, since a
// sub-grid's origin is no longer guaranteed aligned to the index's
// internalBucketSize tiling.
func Bucket(src Source, ranges []splat.Range, grid geom.Grid, limits Limits, process Processor) error {
	total := totalCount(ranges)
	if total == 0 {
		return nil
	}
	return bucketRecurse(src, ranges, grid, limits, process, true)
}

func totalCount(ranges []splat.Range) int {
	n := 0
	for _, r := range ranges {
		n += int(r.Count)
	}
	return n
}

func bucketRecurse(src Source, ranges []splat.Range, grid geom.Grid, limits Limits, process Processor, topLevel bool) error {
	total := totalCount(ranges)
	if total == 0 {
		return nil
	}

	// Base case (§4.4 step 1).
	if total <= limits.MaxSplats && grid.MaxNumCells() <= limits.MaxCells {
		return process(ranges, total, grid)
	}

	maxDim := grid.MaxNumCells()
	microSize := chooseMicroSize(maxDim, limits.MaxSplit)
	levels := macroLevels(maxDim, microSize)
	// dims is expressed in microblock units, matching Node.ToMicro's index
	// space, so ForEachNode's "entirely outside [0,dims)" skip test lines
	// up with the coordinate frame Node actually traverses in.
	dims := [3]int64{
		ceilDiv(grid.NumCells(0), microSize),
		ceilDiv(grid.NumCells(1), microSize),
		ceilDiv(grid.NumCells(2), microSize),
	}

	var runs []blob.Info
	var fileID uint32
	var internalBucketSize int64
	fastPath := false
	if topLevel {
		if bs, ok := src.(BlobSource); ok {
			runs, fileID, internalBucketSize, fastPath = blobFastPathRuns(bs, grid, microSize)
		}
	}

	// Histogram pass (§4.4 step 4): stream every splat range (or, on the
	// fast path, every pre-built blob run) incrementing counters at every
	// node whose conservative bounding box intersects it, stopping at
	// microblock level.
	counts := make(map[geom.Node]*SplatRangeCounter)
	if fastPath {
		for _, run := range runs {
			lo, hi, ok := runCellBox(run, grid, microSize, internalBucketSize)
			if !ok {
				continue
			}
			visitIntersecting(levels, microSize, &grid, lo, hi, func(n geom.Node) {
				c, ok := counts[n]
				if !ok {
					c = &SplatRangeCounter{}
					counts[n] = c
				}
				c.SplatCount += int(run.Count())
				c.RangeCount++
			})
		}
	} else {
		seenRanges := make(map[geom.Node]map[int]struct{})
		for ri, r := range ranges {
			splats := src.Splats(r)
			for _, s := range splats {
				lo, hi, ok := localCellBox(s, grid)
				if !ok {
					continue
				}
				visitIntersecting(levels, microSize, &grid, lo, hi, func(n geom.Node) {
					c, ok := counts[n]
					if !ok {
						c = &SplatRangeCounter{}
						counts[n] = c
					}
					c.SplatCount++
					seen := seenRanges[n]
					if seen == nil {
						seen = make(map[int]struct{})
						seenRanges[n] = seen
					}
					if _, already := seen[ri]; !already {
						seen[ri] = struct{}{}
						c.RangeCount++
					}
				})
			}
		}
	}

	// Pick cells (§4.4 step 5): top-down traversal, a cell is picked iff its
	// side <= maxCells and its splat count <= maxSplats, or it is a forced
	// leaf (microblock); zero-splat cells are pruned.
	var picked []pickedCell
	var densityErr error
	geom.ForEachNode(dims, levels, func(n geom.Node) bool {
		if densityErr != nil {
			return false
		}
		c := counts[n]
		if c == nil || c.SplatCount == 0 {
			return false // pruned: no splats touch this cell
		}
		lo, hi := n.ToCells(microSize, &grid)
		side := maxSide(lo, hi)
		isMicro := n.Level == 0
		if side <= limits.MaxCells && c.SplatCount <= limits.MaxSplats || isMicro {
			if isMicro && c.SplatCount > limits.MaxSplats {
				densityErr = errs.NewDensityError(c.SplatCount)
				return false
			}
			picked = append(picked, pickedCell{node: n, lo: lo, hi: hi, count: c.SplatCount})
			return false // picked cells are leaves of this traversal
		}
		return true // keep descending
	})
	if densityErr != nil {
		return densityErr
	}
	if len(picked) == 0 {
		return nil
	}

	// Partition pass (§4.4 step 6): stream splats again (or, on the fast
	// path, every blob run again), routing each into the output-range
	// buffer slot of every picked cell its box intersects. A run's box
	// applies to every splat it covers by blob.Build's coalescing
	// guarantee, so a whole run can be routed without reading a single
	// splat off disk.
	collectors := make([]*splat.Collector, len(picked))
	for i := range collectors {
		collectors[i] = splat.NewCollector(nil)
	}
	if fastPath {
		for _, run := range runs {
			lo, hi, ok := runCellBox(run, grid, microSize, internalBucketSize)
			if !ok {
				continue
			}
			for pi, p := range picked {
				if boxesIntersect(lo, hi, p.lo, p.hi) {
					for id := run.FirstSplat; id <= run.LastSplat; id++ {
						collectors[pi].Add(fileID, id)
					}
				}
			}
		}
	} else {
		for _, r := range ranges {
			splats := src.Splats(r)
			for i, s := range splats {
				lo, hi, ok := localCellBox(s, grid)
				if !ok {
					continue
				}
				id := r.StartIndex + uint64(i)
				for pi, p := range picked {
					if boxesIntersect(lo, hi, p.lo, p.hi) {
						collectors[pi].Add(r.FileID, id)
					}
				}
			}
		}
	}

	// Recurse (§4.4 step 7) on each picked cell with its sub-slice of
	// ranges and a sub-grid covering exactly the cell. Sub-calls never use
	// the blob fast path (topLevel=false): a sub-grid's origin is no longer
	// guaranteed aligned to internalBucketSize.
	for i, p := range picked {
		subGrid, err := grid.SubGrid(
			[3]int64{grid.Lo[0] + p.lo[0], grid.Lo[1] + p.lo[1], grid.Lo[2] + p.lo[2]},
			[3]int64{grid.Lo[0] + p.hi[0], grid.Lo[1] + p.hi[1], grid.Lo[2] + p.hi[2]},
		)
		if err != nil {
			// A degenerate (zero-width) picked cell cannot be subdivided
			// further; emit it directly instead of recursing into an
			// invalid grid.
			if err := process(collectors[i].Ranges(), p.count, grid); err != nil {
				return err
			}
			continue
		}
		if err := bucketRecurse(src, collectors[i].Ranges(), subGrid, limits, process, false); err != nil {
			return err
		}
	}
	return nil
}

// blobFastPathRuns reports whether bs's blob index may stand in for a
// per-splat scan of grid at this recursion's microSize, per §4.3. It
// additionally requires grid.Lo to be a multiple of microSize on every
// axis (on top of blob.FastPathEligible's internalBucketSize-alignment
// check), since that is what lets runCellBox translate the index's
// absolute, reference-relative coordinates into this grid's local cell
// coordinates with a plain subtraction.
func blobFastPathRuns(bs BlobSource, grid geom.Grid, microSize int64) (runs []blob.Info, fileID uint32, internalBucketSize int64, ok bool) {
	if !bs.BlobFastPathAvailable() {
		return nil, 0, 0, false
	}
	runs, fileID, internalBucketSize, indexSpacing := bs.BlobRuns()
	if !blob.FastPathEligible(grid, indexSpacing, microSize, internalBucketSize) {
		return nil, 0, 0, false
	}
	for i := 0; i < 3; i++ {
		if grid.Lo[i]%microSize != 0 {
			return nil, 0, 0, false
		}
	}
	return runs, fileID, internalBucketSize, true
}

// runCellBox converts a blob run's box (recorded in internalBucketSize
// units, relative to the index's grid reference) into grid-local inclusive
// cell indices, the same convention localCellBox returns. ok is false iff
// the box lies entirely outside grid.
func runCellBox(run blob.Info, grid geom.Grid, microSize, internalBucketSize int64) (lo, hi [3]int64, ok bool) {
	absLower, absUpper := blob.Rescale(run.Lower, run.Upper, microSize, internalBucketSize)
	ok = true
	for i := 0; i < 3; i++ {
		microLo := int64(absLower[i]) - grid.Lo[i]/microSize
		microHi := int64(absUpper[i]) - grid.Lo[i]/microSize
		loV := microLo * microSize
		hiV := (microHi+1)*microSize - 1
		n := grid.NumCells(i)
		if hiV < 0 || loV >= n {
			ok = false
		}
		if loV < 0 {
			loV = 0
		}
		if hiV > n-1 {
			hiV = n - 1
		}
		lo[i], hi[i] = loV, hiV
	}
	return lo, hi, ok
}

type pickedCell struct {
	node  geom.Node
	lo    [3]int64
	hi    [3]int64
	count int
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 1
	}
	return (a + b - 1) / b
}

func maxSide(lo, hi [3]int64) int64 {
	m := hi[0] - lo[0]
	for i := 1; i < 3; i++ {
		if s := hi[i] - lo[i]; s > m {
			m = s
		}
	}
	return m
}

// chooseMicroSize picks the smallest power-of-two microSize such that
// tiling maxDim with it needs at most limits.MaxSplit cubes, saturating
// instead of overflowing for gigantic cells.
func chooseMicroSize(maxDim int64, maxSplit int) int64 {
	if maxDim <= 1 {
		return 1
	}
	for shift := uint(0); ; shift++ {
		microSize := int64(1) << shift
		tilesPerAxis := (maxDim + microSize - 1) / microSize
		total := saturatingCube(tilesPerAxis)
		if total <= int64(maxSplit) || microSize >= maxDim {
			return microSize
		}
	}
}

func saturatingCube(v int64) int64 {
	const cap = int64(1) << 40
	if v > cap {
		return cap * cap
	}
	sq := v * v
	if sq > cap {
		return cap * cap
	}
	cube := sq * v
	if cube < 0 {
		return cap * cap
	}
	return cube
}

// macroLevels computes ceil(log2(maxDim/microSize)) + 1, the octree depth
// (in microblock units) needed to cover maxDim.
func macroLevels(maxDim, microSize int64) int {
	ratio := (maxDim + microSize - 1) / microSize
	levels := 1
	covered := int64(1)
	for covered < ratio {
		covered *= 2
		levels++
	}
	return levels
}

// localCellBox returns splat s's influence box in grid-local cell indices
// (inclusive), clamped conceptually by the ok flag: ok is false iff the box
// lies entirely outside the grid.
func localCellBox(s splat.Splat, grid geom.Grid) (lo, hi [3]int64, ok bool) {
	ok = true
	wlo := s.BoundsLower()
	whi := s.BoundsUpper()
	for i := 0; i < 3; i++ {
		loV := grid.WorldToVertex(i, wlo[i]) - grid.Lo[i]
		hiV := grid.WorldToVertex(i, whi[i]) - grid.Lo[i]
		n := grid.NumCells(i)
		if hiV < 0 || loV >= n {
			ok = false
		}
		if loV < 0 {
			loV = 0
		}
		if hiV > n-1 {
			hiV = n - 1
		}
		lo[i], hi[i] = loV, hiV
	}
	return lo, hi, ok
}

// visitIntersecting descends the virtual octree top-down from the single
// root at level levels-1, invoking visit for every node (down to the
// microblock level) whose cell range intersects [lo,hi].
func visitIntersecting(levels int, microSize int64, grid *geom.Grid, lo, hi [3]int64, visit func(geom.Node)) {
	if levels <= 0 {
		return
	}
	root := geom.Node{Level: levels - 1}
	visitNode(root, microSize, grid, lo, hi, visit)
}

func visitNode(n geom.Node, microSize int64, grid *geom.Grid, lo, hi [3]int64, visit func(geom.Node)) {
	nLo, nHi := n.ToCells(microSize, grid)
	if !boxesIntersect(lo, hi, nLo, nHi) {
		return
	}
	visit(n)
	if n.Level == 0 {
		return
	}
	for idx := 0; idx < 8; idx++ {
		visitNode(n.Child(idx), microSize, grid, lo, hi, visit)
	}
}

// boxesIntersect tests a splat's inclusive cell box [lo,hi] against a
// node's half-open cell range [nLo,nHi), a conservative box-vs-box test
// with no sphere refinement, per §4.4 step 4.
func boxesIntersect(lo, hi [3]int64, nLo, nHi [3]int64) bool {
	for i := 0; i < 3; i++ {
		if hi[i] < nLo[i] || lo[i] >= nHi[i] {
			return false
		}
	}
	return true
}
