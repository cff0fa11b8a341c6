package blob

import (
	"bufio"
	"io"

	"github.com/golang/snappy"

	"github.com/MohamedGNabail/mlsgpu/internal/errs"
)

// Writer appends Info records to an underlying byte stream, choosing the
// differential encoding whenever CanDifferential allows it and falling back
// to a full record otherwise. It keeps only the immediately preceding Info
// in memory, since that is all §4.3's legality check needs. Records are
// compressed through a snappy writer, the same wrapper shape as the
// teacher's CompStream around a net.Conn, here around the blob segment's
// temp file instead.
type Writer struct {
	w    *snappy.Writer
	prev *Info
	buf  [fullRecordSize]byte
}

// NewWriter wraps w in a buffered snappy writer; no preceding record means
// the first Append always emits a full record. Build appends every slice
// through one shared Writer, so only the first record of the whole stream is
// guaranteed full: a later slice's first record is differential whenever
// CanDifferential allows it.
func NewWriter(w io.Writer) *Writer { return &Writer{w: snappy.NewBufferedWriter(w)} }

// Append encodes and writes one blob record, flushing immediately so a
// concurrent Reader started against the same underlying file observes it
// (mirrors CompStream.Write's per-call Flush).
func (w *Writer) Append(b Info) error {
	if CanDifferential(w.prev, b) {
		EncodeDifferential(w.buf[:diffRecordSize], *w.prev, b)
		if _, err := w.w.Write(w.buf[:diffRecordSize]); err != nil {
			return errs.NewIoError("blob stream", err)
		}
	} else {
		EncodeFull(w.buf[:fullRecordSize], b)
		if _, err := w.w.Write(w.buf[:fullRecordSize]); err != nil {
			return errs.NewIoError("blob stream", err)
		}
	}
	if err := w.w.Flush(); err != nil {
		return errs.NewIoError("blob stream", err)
	}
	stored := b
	w.prev = &stored
	return nil
}

// Close flushes and releases the snappy writer's internal buffers.
func (w *Writer) Close() error {
	return w.w.Close()
}

// Reader replays a blob record stream, reconstructing each Info from
// whichever encoding the writer chose. It reads through a snappy reader
// matching the Writer's compression.
type Reader struct {
	r    *bufio.Reader
	prev *Info
}

// NewReader wraps r in a snappy reader for sequential blob record replay.
func NewReader(r io.Reader) *Reader { return &Reader{r: bufio.NewReader(snappy.NewReader(r))} }

// Next decodes the next record, returning io.EOF once the stream is
// exhausted. A decoder that ignores the writer's encoding choice and always
// reconstructs from the tag yields identical output to the original
// sequence, by construction: the tag alone selects the branch below.
func (r *Reader) Next() (Info, error) {
	head := make([]byte, diffRecordSize)
	if _, err := io.ReadFull(r.r, head); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Info{}, errs.NewFormatError("blob stream: truncated record header")
		}
		return Info{}, err
	}
	isDiff, err := PeekTag(head)
	if err != nil {
		return Info{}, err
	}
	var b Info
	if isDiff {
		if r.prev == nil {
			return Info{}, errs.NewFormatError("blob stream: differential record with no preceding full record")
		}
		b = DecodeDifferential(head, *r.prev)
	} else {
		rest := make([]byte, fullRecordSize-diffRecordSize)
		if _, err := io.ReadFull(r.r, rest); err != nil {
			return Info{}, errs.NewFormatError("blob stream: truncated full record")
		}
		full := append(append([]byte{}, head...), rest...)
		b = DecodeFull(full)
	}
	stored := b
	r.prev = &stored
	return b, nil
}
