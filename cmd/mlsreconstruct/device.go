package main

import (
	"context"
	"fmt"

	"github.com/MohamedGNabail/mlsgpu/internal/geom"
	"github.com/MohamedGNabail/mlsgpu/internal/pipeline"
	"github.com/MohamedGNabail/mlsgpu/internal/splat"
	"github.com/MohamedGNabail/mlsgpu/internal/splattree"
	"github.com/MohamedGNabail/mlsgpu/internal/stats"
)

// localDevice stands in for the command-queue/MLS-functor/Marching-Cubes
// collaborators spec §1 keeps individually out of scope: it builds the
// real per-bucket splat tree (internal/splattree) so that stage is
// genuinely exercised end to end, then emits one degenerate point-sized
// triangle per level-0 splat-tree cell in place of a real marching-cubes
// surface, so mlsreconstruct has something to route through MesherGroup
// and write out. A device instance is only ever driven by one worker
// goroutine at a time (main.go passes 1 as pipeline.NewDriver's
// numWorkersPerDevice), so the field
// below needs no locking beyond documenting that assumption.
type localDevice struct {
	name          string
	pendingSplats []splat.Splat
}

func newLocalDevice(name string) *localDevice {
	return &localDevice{name: name}
}

func (d *localDevice) Name() string { return d.name }

func (d *localDevice) BuildSplatTree(ctx context.Context, splats []splat.Splat, ready <-chan struct{}) error {
	<-ready
	// The bucket's own grid is only known at ExtractSurface time, so stash
	// the splats here and defer the actual splattree.BuildEntries call
	// until then.
	d.pendingSplats = splats
	stats.Default.Add("splatTreeBuilds", 1)
	return nil
}

func (d *localDevice) ExtractSurface(ctx context.Context, grid geom.Grid, expanded [3]int) (pipeline.MeshBlock, error) {
	if d.pendingSplats == nil {
		return pipeline.MeshBlock{}, fmt.Errorf("%s: ExtractSurface called before BuildSplatTree", d.name)
	}
	entries := splattree.BuildEntries(d.pendingSplats, grid)
	stats.Default.Add("surfaceExtractions", 1)

	// Marching Cubes itself is out of scope (spec §1); this placeholder
	// turns every level-0 run (one populated leaf cell) into one degenerate
	// triangle, so downstream mesh assembly has real (if trivial) geometry
	// to accumulate, without materializing a full Lookup image per bucket.
	var block pipeline.MeshBlock
	seen := make(map[uint64]bool, len(entries))
	for _, e := range entries {
		if e.Level != 0 || seen[e.Code] {
			continue
		}
		seen[e.Code] = true
		x, y, z := geom.SplitCode(e.Code)
		base := float32(len(block.Vertices) / 3)
		block.Vertices = append(block.Vertices,
			float32(x), float32(y), float32(z),
			float32(x)+0.01, float32(y), float32(z),
			float32(x), float32(y)+0.01, float32(z),
		)
		block.Indices = append(block.Indices, uint32(base), uint32(base)+1, uint32(base)+2)
	}
	_ = expanded
	return block, nil
}

func (d *localDevice) Reset() {
	d.pendingSplats = nil
}
