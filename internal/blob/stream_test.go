package blob

import (
	"bytes"
	"io"
	"testing"
)

func TestWriterReaderRoundTripThroughSnappy(t *testing.T) {
	infos := []Info{
		{FirstSplat: 0, LastSplat: 9, Lower: [3]int32{0, 0, 0}, Upper: [3]int32{4, 4, 4}},
		{FirstSplat: 10, LastSplat: 14, Lower: [3]int32{1, 0, 0}, Upper: [3]int32{4, 4, 4}},
		{FirstSplat: 15, LastSplat: 34, Lower: [3]int32{-2, -2, -2}, Upper: [3]int32{2, 2, 2}},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, info := range infos {
		if err := w.Append(info); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf)
	for i, want := range infos {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("record %d: got %+v, want %+v", i, got, want)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after last record, got %v", err)
	}
}
