// Package pipeline wires the out-of-core stages together: CopyGroup ships
// loaded buckets to whichever device has the most spare capacity,
// DeviceWorkerGroup drives one GPU's splat-tree-build/MLS/Marching-Cubes
// cycle per SubItem, and MesherGroup serializes the resulting mesh blocks
// into the output sink.
package pipeline

import (
	"context"

	"github.com/MohamedGNabail/mlsgpu/internal/geom"
	"github.com/MohamedGNabail/mlsgpu/internal/splat"
)

// MeshBlock is one device's triangle output for a single SubItem.
type MeshBlock struct {
	ChunkID  splat.ChunkID
	Vertices []float32
	Indices  []uint32
}

// MeshAccumulator receives the mesh blocks routed to one chunk.
type MeshAccumulator interface {
	Add(block MeshBlock) error
}

// MeshSink hands back the accumulator for a chunk. The pipeline guarantees
// at most one concurrent call per chunkId (enforced by MesherGroup being a
// single worker).
type MeshSink interface {
	Output(chunk splat.ChunkID, worker int) (MeshAccumulator, error)
}

// Device is the seam to the external command-queue/splat-tree-builder/MLS
// functor/Marching-Cubes collaborators, individually out of scope for this
// core but required so DeviceWorkerGroup has something to drive.
type Device interface {
	Name() string
	BuildSplatTree(ctx context.Context, splats []splat.Splat, ready <-chan struct{}) error
	ExtractSurface(ctx context.Context, grid geom.Grid, expanded [3]int) (MeshBlock, error)
	Reset()
}

// CopyWork is one loaded bucket handed to CopyGroup.Process: its splats
// have already been read off disk (or the blob fast path) into memory.
type CopyWork struct {
	ChunkID splat.ChunkID
	Grid    geom.Grid
	Splats  []splat.Splat
}

// SubItem is one bucket queued for device processing: a slice of the
// pinned staging buffer, plus the progress accounting the spec requires.
type SubItem struct {
	ChunkID        splat.ChunkID
	Grid           geom.Grid
	Splats         []splat.Splat
	FirstSplat     uint64
	NumSplats      int
	ProgressSplats int
}

// SubItemBatch is one flushed pinned-buffer's worth of SubItems, the unit
// DeviceWorkerGroup's item pool actually recycles.
type SubItemBatch struct {
	Items     []SubItem
	CopyEvent chan struct{}
}

// countInsideGrid returns how many splats have a position strictly inside
// grid's half-open vertex extents, the progressSplats accounting used only
// for the progress meter (spec §4.8 step 2).
func countInsideGrid(splats []splat.Splat, grid geom.Grid) int {
	n := 0
	for _, s := range splats {
		inside := true
		for i := 0; i < 3; i++ {
			v := grid.WorldToVertex(i, s.Position[i])
			if v < grid.Lo[i] || v >= grid.Hi[i] {
				inside = false
				break
			}
		}
		if inside {
			n++
		}
	}
	return n
}

// expandedSize rounds grid's vertex counts up to wgSize on each axis, the
// MLS compute work-group size (spec §4.9 step 2).
func expandedSize(grid geom.Grid, wgSize int) [3]int {
	var out [3]int
	for i := 0; i < 3; i++ {
		n := int(grid.NumVertices(i))
		out[i] = ((n + wgSize - 1) / wgSize) * wgSize
	}
	return out
}
