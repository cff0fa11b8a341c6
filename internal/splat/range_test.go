package splat

import "testing"

func TestCollectorCoalescesContiguousIDs(t *testing.T) {
	c := NewCollector(nil)
	ids := []uint64{5, 6, 7, 10, 11, 20}
	for _, id := range ids {
		if err := c.Add(1, id); err != nil {
			t.Fatal(err)
		}
	}
	ranges := c.Ranges()
	want := []Range{
		{FileID: 1, StartIndex: 5, Count: 3},
		{FileID: 1, StartIndex: 10, Count: 2},
		{FileID: 1, StartIndex: 20, Count: 1},
	}
	if len(ranges) != len(want) {
		t.Fatalf("got %d ranges, want %d: %+v", len(ranges), len(want), ranges)
	}
	for i := range want {
		if ranges[i] != want[i] {
			t.Errorf("range %d = %+v, want %+v", i, ranges[i], want[i])
		}
	}
}

func TestCollectorSeparatesDifferentFiles(t *testing.T) {
	c := NewCollector(nil)
	c.Add(1, 0)
	c.Add(2, 1) // different file, must not coalesce even though index is contiguous
	ranges := c.Ranges()
	if len(ranges) != 2 {
		t.Fatalf("expected 2 ranges across files, got %d: %+v", len(ranges), ranges)
	}
}

func TestRangeCounterTotals(t *testing.T) {
	var rc Counter
	for _, id := range []uint64{0, 1, 2, 100} {
		if err := rc.Add(0, id); err != nil {
			t.Fatal(err)
		}
	}
	rc.Flush()
	if rc.Splats != 4 {
		t.Fatalf("Splats = %d, want 4", rc.Splats)
	}
	if rc.Ranges != 2 {
		t.Fatalf("Ranges = %d, want 2", rc.Ranges)
	}
}

func TestChunkGeneratorStableMapping(t *testing.T) {
	g := NewGenerator()
	a := g.ChunkFor([3]int64{1, 2, 3})
	b := g.ChunkFor([3]int64{4, 5, 6})
	aAgain := g.ChunkFor([3]int64{1, 2, 3})
	if a.Generation == b.Generation {
		t.Fatal("distinct coords must get distinct generations")
	}
	if a != aAgain {
		t.Fatalf("same coords must map to the same ChunkID: %+v vs %+v", a, aAgain)
	}
	if !a.Less(b) {
		t.Fatal("first-seen chunk should have the lower generation")
	}
}
