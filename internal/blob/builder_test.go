package blob

import (
	"bytes"
	"io"
	"testing"

	"github.com/golang/snappy"

	"github.com/MohamedGNabail/mlsgpu/internal/geom"
	"github.com/MohamedGNabail/mlsgpu/internal/splat"
)

func TestBuildSliceColinearSplatsScenario(t *testing.T) {
	grid, err := geom.NewGrid([3]float64{0, 0, 0}, 1, [3]int64{0, 0, 0}, [3]int64{100, 100, 100})
	if err != nil {
		t.Fatal(err)
	}
	splats := []splat.Splat{
		{Position: [3]float64{0, 0, 10}, Normal: [3]float64{0, 0, 1}, Radius: 0.1},
		{Position: [3]float64{0, 0, 11}, Normal: [3]float64{0, 0, 1}, Radius: 0.1},
		{Position: [3]float64{0, 0, 12}, Normal: [3]float64{0, 0, 1}, Radius: 0.1},
	}

	blobs, box, nonFinite := buildSlice(splats, 0, grid, 1)
	if nonFinite != 0 {
		t.Fatalf("unexpected non-finite drops: %d", nonFinite)
	}
	if len(blobs) != 3 {
		t.Fatalf("expected 3 blobs for 3 colinear splats with distinct boxes, got %d: %+v", len(blobs), blobs)
	}
	if !box.valid {
		t.Fatal("expected a valid accumulated box")
	}

	var buf writeBuf
	w := NewWriter(&buf)
	for _, b := range blobs {
		if err := w.Append(b); err != nil {
			t.Fatal(err)
		}
	}
	// The Writer compresses through snappy, so the record sizes and tags are
	// checked on the decompressed record stream.
	raw, err := io.ReadAll(snappy.NewReader(bytes.NewReader(buf.data)))
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != fullRecordSize+2*diffRecordSize {
		t.Fatalf("expected 1 full + 2 differential records (%d bytes), got %d bytes",
			fullRecordSize+2*diffRecordSize, len(raw))
	}
	isDiff, _ := PeekTag(raw[:4])
	if isDiff {
		t.Fatal("first record must be full")
	}
	isDiff, _ = PeekTag(raw[fullRecordSize:])
	if !isDiff {
		t.Fatal("second record must be differential")
	}
	isDiff, _ = PeekTag(raw[fullRecordSize+diffRecordSize:])
	if !isDiff {
		t.Fatal("third record must be differential")
	}

	r := NewReader(&buf)
	for i, want := range blobs {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("record %d = %+v, want %+v", i, got, want)
		}
	}
}

func TestBuildDropsNonFiniteSplats(t *testing.T) {
	grid, _ := geom.NewGrid([3]float64{0, 0, 0}, 1, [3]int64{0, 0, 0}, [3]int64{100, 100, 100})
	splats := []splat.Splat{
		{Position: [3]float64{1, 1, 1}, Normal: [3]float64{0, 0, 1}, Radius: 0.5},
		{Position: [3]float64{2, 2, 2}, Normal: [3]float64{0, 0, 1}, Radius: 0}, // radius must be > 0
	}
	blobs, _, nonFinite := buildSlice(splats, 0, grid, 1)
	if nonFinite != 1 {
		t.Fatalf("expected 1 non-finite drop, got %d", nonFinite)
	}
	if len(blobs) != 1 {
		t.Fatalf("expected 1 blob from the remaining finite splat, got %d", len(blobs))
	}
}

func TestBuildParallelPreservesOrder(t *testing.T) {
	grid, _ := geom.NewGrid([3]float64{0, 0, 0}, 1, [3]int64{0, 0, 0}, [3]int64{1000, 1000, 1000})
	const n = 4000
	splats := make([]splat.Splat, n)
	for i := range splats {
		z := float64(i%50) * 2 // repeat box pattern so blobs coalesce predictably
		splats[i] = splat.Splat{Position: [3]float64{10, 10, z + 10}, Normal: [3]float64{0, 0, 1}, Radius: 0.1}
	}

	var buf writeBuf
	w := NewWriter(&buf)
	res, err := Build(splats, 0, grid, 1, 4, w)
	if err != nil {
		t.Fatal(err)
	}
	if res.BlobCount == 0 {
		t.Fatal("expected at least one blob")
	}

	r := NewReader(&buf)
	var lastEnd int64 = -1
	count := 0
	for {
		b, err := r.Next()
		if err != nil {
			break
		}
		count++
		if int64(b.FirstSplat) <= lastEnd {
			t.Fatalf("blob %d out of order: firstSplat %d <= previous lastSplat %d", count, b.FirstSplat, lastEnd)
		}
		lastEnd = int64(b.LastSplat)
	}
	if uint64(count) != res.BlobCount {
		t.Fatalf("replayed %d blobs, builder reported %d", count, res.BlobCount)
	}
	if lastEnd != n-1 {
		t.Fatalf("last blob should end at splat %d, got %d", n-1, lastEnd)
	}
}
