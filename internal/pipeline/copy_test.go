package pipeline

import (
	"testing"

	"github.com/MohamedGNabail/mlsgpu/internal/geom"
	"github.com/MohamedGNabail/mlsgpu/internal/splat"
)

func makeTestSplats(n int) []splat.Splat {
	out := make([]splat.Splat, n)
	for i := range out {
		out[i] = splat.Splat{
			Position: [3]float64{float64(i), float64(i), float64(i)},
			Normal:   [3]float64{0, 0, 1},
			Radius:   0.1,
		}
	}
	return out
}

func TestCopyGroupRingBufferReclaimsAfterFlush(t *testing.T) {
	grid, err := geom.NewGrid([3]float64{0, 0, 0}, 1, [3]int64{0, 0, 0}, [3]int64{16, 16, 16})
	if err != nil {
		t.Fatal(err)
	}
	dev := &fakeDevice{name: "fake0"}
	mesher := NewMesherGroup(&fakeSink{}, 2)
	mesher.Start()
	defer mesher.Stop()
	dwg := NewDeviceWorkerGroup(dev, mesher, 1, 2, 10)
	dwg.Start()
	defer dwg.Stop()

	cg := NewCopyGroup(10, []*DeviceWorkerGroup{dwg})

	if cg.ring.Capacity() != 10*splatByteSize {
		t.Fatalf("ring capacity = %d, want %d", cg.ring.Capacity(), 10*splatByteSize)
	}

	work := CopyWork{Grid: grid, Splats: makeTestSplats(6)}
	if err := cg.Process(work); err != nil {
		t.Fatal(err)
	}
	if got, want := cg.ring.Used(), 6*splatByteSize; got != want {
		t.Fatalf("Used() after one Process = %d, want %d", got, want)
	}

	// A second batch that would overflow the 10-splat budget must force a
	// flush, freeing the first batch's allocation before accepting the new
	// one -- the observable effect of the budget invariant actually being
	// enforced by ringbuf rather than a bare length check.
	work2 := CopyWork{Grid: grid, Splats: makeTestSplats(7)}
	if err := cg.Process(work2); err != nil {
		t.Fatal(err)
	}
	if got, want := cg.ring.Used(), 7*splatByteSize; got != want {
		t.Fatalf("Used() after overflowing Process = %d, want %d (expected the first batch to have been flushed and freed)", got, want)
	}

	if err := cg.Finish(); err != nil {
		t.Fatal(err)
	}
	if got := cg.ring.Used(); got != 0 {
		t.Fatalf("Used() after Finish = %d, want 0", got)
	}
}

func TestCopyGroupRejectsOversizeBucket(t *testing.T) {
	grid, err := geom.NewGrid([3]float64{0, 0, 0}, 1, [3]int64{0, 0, 0}, [3]int64{16, 16, 16})
	if err != nil {
		t.Fatal(err)
	}
	dev := &fakeDevice{name: "fake0"}
	mesher := NewMesherGroup(&fakeSink{}, 2)
	mesher.Start()
	defer mesher.Stop()
	dwg := NewDeviceWorkerGroup(dev, mesher, 1, 2, 4)
	dwg.Start()
	defer dwg.Stop()

	cg := NewCopyGroup(4, []*DeviceWorkerGroup{dwg})
	work := CopyWork{Grid: grid, Splats: makeTestSplats(5)}
	if err := cg.Process(work); err == nil {
		t.Fatal("expected an error processing a bucket larger than maxDeviceItemSplats")
	}
}
