package blob

import (
	"io"
	"sync"

	"github.com/MohamedGNabail/mlsgpu/internal/geom"
	"github.com/MohamedGNabail/mlsgpu/internal/splat"
)

// bufferSplats is the size of the streaming buffer the parallel builder
// slices across worker goroutines, per §4.3 "buffers of 64K splats".
const bufferSplats = 64 * 1024

// Box is an inclusive axis-aligned box in internal-bucket units, used to
// accumulate the global bounding box across the whole splat stream.
type Box struct {
	Lower [3]int32
	Upper [3]int32
	valid bool
}

func (b *Box) absorb(lower, upper [3]int32) {
	if !b.valid {
		b.Lower, b.Upper, b.valid = lower, upper, true
		return
	}
	for i := 0; i < 3; i++ {
		if lower[i] < b.Lower[i] {
			b.Lower[i] = lower[i]
		}
		if upper[i] > b.Upper[i] {
			b.Upper[i] = upper[i]
		}
	}
}

// BuildResult summarizes one parallel blob-build pass.
type BuildResult struct {
	Global         Box
	NonFiniteCount uint64
	BlobCount      uint64
}

// Build streams splats from a contiguous in-memory buffer (the caller is
// responsible for refilling it 64K-splats at a time from the real source),
// slices each buffer by worker id into contiguous sub-slices (so on-disk
// blob order still matches ascending splat id once reassembled), computes
// each sub-slice's blob runs concurrently, and appends them to out in
// worker-index order -- the "N threads produce a vector, a serial reducer
// appends them in order" fork-join shape from the design notes, done here
// with a plain sync.WaitGroup rather than any OpenMP-style pragma.
func Build(splats []splat.Splat, startID uint64, grid geom.Grid, internalBucketSize int64, numWorkers int, out *Writer) (BuildResult, error) {
	var result BuildResult
	if len(splats) == 0 || numWorkers <= 0 {
		return result, nil
	}
	if numWorkers > len(splats) {
		numWorkers = len(splats)
	}

	type slice struct {
		blobs     []Info
		box       Box
		nonFinite uint64
	}
	slices := make([]slice, numWorkers)

	base := len(splats) / numWorkers
	extra := len(splats) % numWorkers
	var wg sync.WaitGroup
	offset := 0
	for w := 0; w < numWorkers; w++ {
		n := base
		if w < extra {
			n++
		}
		sub := splats[offset : offset+n]
		subStart := startID + uint64(offset)
		wg.Add(1)
		go func(w int, sub []splat.Splat, subStart uint64) {
			defer wg.Done()
			blobs, box, nonFinite := buildSlice(sub, subStart, grid, internalBucketSize)
			slices[w] = slice{blobs: blobs, box: box, nonFinite: nonFinite}
		}(w, sub, subStart)
		offset += n
	}
	wg.Wait()

	for _, s := range slices {
		for _, b := range s.blobs {
			if err := out.Append(b); err != nil {
				return result, err
			}
			result.BlobCount++
		}
		if s.box.valid {
			result.Global.absorb(s.box.Lower, s.box.Upper)
		}
		result.NonFiniteCount += s.nonFinite
	}
	return result, nil
}

// buildSlice coalesces one contiguous, already-ordered sub-slice of splats
// into blob runs. The first record of the slice always starts a fresh blob
// (it has no predecessor within this slice), matching the §4.3
// parallel-build note.
func buildSlice(splats []splat.Splat, startID uint64, grid geom.Grid, internalBucketSize int64) ([]Info, Box, uint64) {
	var blobs []Info
	var box Box
	var nonFinite uint64
	var cur Info
	haveCur := false

	flush := func() {
		if haveCur {
			blobs = append(blobs, cur)
			box.absorb(cur.Lower, cur.Upper)
			haveCur = false
		}
	}

	for i, s := range splats {
		id := startID + uint64(i)
		if !s.Finite() {
			nonFinite++
			continue
		}
		lower, upper, ok := SplatBucketBox(s, grid, internalBucketSize)
		if !ok {
			continue
		}
		if haveCur && cur.Lower == lower && cur.Upper == upper && id == cur.LastSplat+1 {
			cur.LastSplat = id
			continue
		}
		flush()
		cur = Info{FirstSplat: id, LastSplat: id, Lower: lower, Upper: upper}
		haveCur = true
	}
	flush()
	return blobs, box, nonFinite
}

// Drain reads a splat source to EOF in bufferSplats-sized chunks, calling
// Build on each chunk in turn so the stream never holds the whole input in
// memory.
func Drain(src splat.Source, startID uint64, grid geom.Grid, internalBucketSize int64, numWorkers int, out *Writer) (BuildResult, error) {
	var total BuildResult
	buf := make([]splat.Splat, bufferSplats)
	ids := make([]uint64, bufferSplats)
	id := startID
	for {
		n, err := src.Read(ids, buf)
		if n > 0 {
			res, buildErr := Build(buf[:n], id, grid, internalBucketSize, numWorkers, out)
			if buildErr != nil {
				return total, buildErr
			}
			total.BlobCount += res.BlobCount
			total.NonFiniteCount += res.NonFiniteCount
			if res.Global.valid {
				total.Global.absorb(res.Global.Lower, res.Global.Upper)
			}
			id += uint64(n)
		}
		if err == io.EOF || n < len(buf) {
			break
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
