package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/MohamedGNabail/mlsgpu/internal/pipeline"
	"github.com/MohamedGNabail/mlsgpu/internal/splat"
)

// objSink writes each chunk's accumulated mesh blocks to its own Wavefront
// OBJ file under outDir, named by chunk coordinate. It is only ever called
// from MesherGroup's single worker, but guards its chunk map anyway since
// Output's signature does not promise that to callers outside this package.
type objSink struct {
	outDir string
	mu     sync.Mutex
	open   map[splat.ChunkID]*objAccumulator
}

func newObjSink(outDir string) *objSink {
	return &objSink{outDir: outDir, open: make(map[splat.ChunkID]*objAccumulator)}
}

func (s *objSink) Output(chunk splat.ChunkID, worker int) (pipeline.MeshAccumulator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.open[chunk]; ok {
		return acc, nil
	}
	name := fmt.Sprintf("chunk_%d_%d_%d_%d.obj", chunk.Generation, chunk.Coords[0], chunk.Coords[1], chunk.Coords[2])
	f, err := os.Create(filepath.Join(s.outDir, name))
	if err != nil {
		return nil, err
	}
	acc := &objAccumulator{f: f}
	s.open[chunk] = acc
	return acc, nil
}

// Close flushes and closes every chunk file this sink has opened.
func (s *objSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, acc := range s.open {
		if err := acc.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// objAccumulator appends one mesh block's vertices and faces to a single
// chunk's OBJ file, tracking the running vertex-index offset across blocks.
type objAccumulator struct {
	f           *os.File
	vertexCount uint32
}

func (a *objAccumulator) Add(block pipeline.MeshBlock) error {
	for i := 0; i+2 < len(block.Vertices); i += 3 {
		if _, err := fmt.Fprintf(a.f, "v %f %f %f\n", block.Vertices[i], block.Vertices[i+1], block.Vertices[i+2]); err != nil {
			return err
		}
	}
	for i := 0; i+2 < len(block.Indices); i += 3 {
		// OBJ face indices are 1-based and global to the file.
		a0 := a.vertexCount + block.Indices[i] + 1
		a1 := a.vertexCount + block.Indices[i+1] + 1
		a2 := a.vertexCount + block.Indices[i+2] + 1
		if _, err := fmt.Fprintf(a.f, "f %d %d %d\n", a0, a1, a2); err != nil {
			return err
		}
	}
	a.vertexCount += uint32(len(block.Vertices) / 3)
	return nil
}
