package blob

import (
	"io"
	"testing"
)

func TestFullRecordRoundTrip(t *testing.T) {
	b := Info{FirstSplat: 12345, LastSplat: 12399, Lower: [3]int32{-7, 2, 1000}, Upper: [3]int32{-5, 9, 1001}}
	var buf [fullRecordSize]byte
	EncodeFull(buf[:], b)
	got := DecodeFull(buf[:])
	if got != b {
		t.Fatalf("round trip = %+v, want %+v", got, b)
	}
	isDiff, err := PeekTag(buf[:4])
	if err != nil {
		t.Fatal(err)
	}
	if isDiff {
		t.Fatal("full record must not carry the differential tag")
	}
}

func TestDifferentialRecordRoundTrip(t *testing.T) {
	prev := Info{FirstSplat: 0, LastSplat: 9, Lower: [3]int32{10, 10, 10}, Upper: [3]int32{11, 11, 11}}
	cur := Info{FirstSplat: 10, LastSplat: 14, Lower: [3]int32{7, 13, 9}, Upper: [3]int32{8, 13, 10}}
	if !CanDifferential(&prev, cur) {
		t.Fatal("expected cur to be legally differential-encodable")
	}
	var buf [diffRecordSize]byte
	EncodeDifferential(buf[:], prev, cur)
	isDiff, err := PeekTag(buf[:])
	if err != nil {
		t.Fatal(err)
	}
	if !isDiff {
		t.Fatal("expected differential tag bit set")
	}
	got := DecodeDifferential(buf[:], prev)
	if got != cur {
		t.Fatalf("round trip = %+v, want %+v", got, cur)
	}
}

func TestDifferentialBoundary(t *testing.T) {
	prev := Info{FirstSplat: 0, LastSplat: 0, Lower: [3]int32{0, 0, 0}, Upper: [3]int32{0, 0, 0}}

	// delta = -4 with size 2 (upper-lower=1) is representable.
	cur := Info{FirstSplat: 1, LastSplat: 1, Lower: [3]int32{-4, -4, -4}, Upper: [3]int32{-3, -3, -3}}
	if !CanDifferential(&prev, cur) {
		t.Fatal("delta -4 with size 2 must be representable")
	}

	// delta = -5 forces a full record.
	cur2 := Info{FirstSplat: 1, LastSplat: 1, Lower: [3]int32{-5, 0, 0}, Upper: [3]int32{-4, 0, 0}}
	if CanDifferential(&prev, cur2) {
		t.Fatal("delta -5 must force a full record")
	}

	// non-contiguous firstSplat forces a full record even if the box fits.
	cur3 := Info{FirstSplat: 5, LastSplat: 5, Lower: [3]int32{0, 0, 0}, Upper: [3]int32{0, 0, 0}}
	if CanDifferential(&prev, cur3) {
		t.Fatal("non-contiguous blob must force a full record")
	}

	// box size 3 is not representable.
	cur4 := Info{FirstSplat: 1, LastSplat: 1, Lower: [3]int32{0, 0, 0}, Upper: [3]int32{2, 0, 0}}
	if CanDifferential(&prev, cur4) {
		t.Fatal("box size 3 must force a full record")
	}

	// splat count at the 2^19 legality boundary.
	big := Info{FirstSplat: 1, LastSplat: 1 + (1<<19 - 2), Lower: [3]int32{0, 0, 0}, Upper: [3]int32{0, 0, 0}}
	if !CanDifferential(&prev, big) {
		t.Fatal("count just under 2^19 must be representable")
	}
	tooBig := Info{FirstSplat: 1, LastSplat: 1 + (1<<19 - 1), Lower: [3]int32{0, 0, 0}, Upper: [3]int32{0, 0, 0}}
	if CanDifferential(&prev, tooBig) {
		t.Fatal("count == 2^19 must force a full record")
	}
}

func TestStreamRoundTrip(t *testing.T) {
	blobs := []Info{
		{FirstSplat: 0, LastSplat: 2, Lower: [3]int32{0, 0, 0}, Upper: [3]int32{0, 0, 0}},
		{FirstSplat: 3, LastSplat: 3, Lower: [3]int32{1, 0, 0}, Upper: [3]int32{1, 0, 0}},
		{FirstSplat: 4, LastSplat: 100, Lower: [3]int32{-100, -100, -100}, Upper: [3]int32{50, 50, 50}}, // forces full
	}

	var buf writeBuf
	w := NewWriter(&buf)
	for _, b := range blobs {
		if err := w.Append(b); err != nil {
			t.Fatal(err)
		}
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
	if _, err := r.Next(); err == nil {
		t.Fatal("expected EOF after last record")
	}
}

// writeBuf is a trivial growable byte buffer implementing io.Writer/io.Reader
// without pulling in bytes.Buffer's extra surface, since the teacher's style
// favors small local helpers over importing more than is needed.
type writeBuf struct {
	data []byte
	pos  int
}

func (b *writeBuf) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *writeBuf) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
