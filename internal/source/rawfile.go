// Package source provides a minimal splat.Source reading a flat binary
// file of fixed-width records (position, normal, radius as little-endian
// float64s) — a stand-in for the real PLY reader, which this core reaches
// only through the splat.Source interface per spec §1's external
// collaborators list.
package source

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"sync"

	"github.com/MohamedGNabail/mlsgpu/internal/blob"
	"github.com/MohamedGNabail/mlsgpu/internal/errs"
	"github.com/MohamedGNabail/mlsgpu/internal/geom"
	"github.com/MohamedGNabail/mlsgpu/internal/splat"
)

const recordSize = 7 * 8 // 7 float64 fields

// RawFile reads splats from a single flat binary file, skipping non-finite
// records and counting them, per the splat stream contract (spec §6). A
// RawFile opened with Open is a sequential splat.Source (the blob indexer
// and the legacy ReadAll both drive it this way); one opened with
// OpenIndexed is instead a random-access bucket.Source, seeking to each
// splat's previously-recorded offset so a bucketing run never needs the
// whole file's splats in memory at once.
type RawFile struct {
	f                *os.File
	r                *bufio.Reader
	fileID           uint32
	nextIndex        uint64
	nonFiniteDropped uint64

	offsets []int64

	errMu sync.Mutex
	err   error

	blobMu             sync.Mutex
	blobRuns           []blob.Info
	blobInternalBucket int64
	blobIndexSpacing   float64
}

// Open opens path for sequential streaming read as fileID's splat source.
func Open(path string, fileID uint32) (*RawFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.NewIoError(path, err)
	}
	return &RawFile{f: f, r: bufio.NewReaderSize(f, 1<<20), fileID: fileID}, nil
}

// OpenIndexed opens path for random-access reads against a pre-built
// splat-index -> byte-offset table (see ScanBounds), making it a
// bucket.Source whose Splats calls never hold more than the requested
// range's worth of splats in memory.
func OpenIndexed(path string, fileID uint32, offsets []int64) (*RawFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.NewIoError(path, err)
	}
	return &RawFile{f: f, fileID: fileID, offsets: offsets}, nil
}

// Close releases the underlying file handle.
func (s *RawFile) Close() error { return s.f.Close() }

func decodeRecord(buf []byte) splat.Splat {
	var vals [7]float64
	for i := range vals {
		vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return splat.Splat{
		Position: [3]float64{vals[0], vals[1], vals[2]},
		Normal:   [3]float64{vals[3], vals[4], vals[5]},
		Radius:   vals[6],
	}
}

// Read fills splats with up to len(splats) entries, skipping non-finite
// ones, and returns the number written. n < len(splats) signals EOF.
func (s *RawFile) Read(ids []uint64, splats []splat.Splat) (n int, err error) {
	var buf [recordSize]byte
	for n < len(splats) {
		if _, err := io.ReadFull(s.r, buf[:]); err != nil {
			if err == io.EOF {
				return n, nil
			}
			return n, errs.NewIoError("rawfile", err)
		}
		sp := decodeRecord(buf[:])
		id := splat.MakeID(s.fileID, s.nextIndex, 40)
		s.nextIndex++
		if !sp.Finite() {
			s.nonFiniteDropped++
			continue
		}
		splats[n] = sp
		ids[n] = uint64(id)
		n++
	}
	return n, nil
}

// NonFiniteDropped reports how many records have been skipped so far for
// failing Splat.Finite.
func (s *RawFile) NonFiniteDropped() uint64 { return s.nonFiniteDropped }

// Splats implements bucket.Source by seeking directly to each requested
// finite splat's recorded byte offset, decoding one record at a time: the
// out-of-core path never buffers the file's splats, only the compact
// offset index built once by ScanBounds. A read or out-of-range failure is
// recorded (see Err) and truncates the returned slice, mirroring the
// NonFiniteDropped after-the-fact reporting pattern Read already uses,
// since the bucket.Source interface itself has no error return.
func (s *RawFile) Splats(r splat.Range) []splat.Splat {
	out := make([]splat.Splat, 0, r.Count)
	var buf [recordSize]byte
	for i := uint64(0); i < r.Count; i++ {
		idx := r.StartIndex + i
		if idx >= uint64(len(s.offsets)) {
			s.setErr(errs.NewRangeError("rawfile: splat index %d out of range (%d indexed)", idx, len(s.offsets)))
			break
		}
		if _, err := s.f.ReadAt(buf[:], s.offsets[idx]); err != nil {
			s.setErr(errs.NewIoError("rawfile", err))
			break
		}
		out = append(out, decodeRecord(buf[:]))
	}
	return out
}

// Err reports the first failure Splats has observed, if any. Callers using
// a RawFile as a bucket.Source must check it once after bucket.Bucket
// returns.
func (s *RawFile) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *RawFile) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// ScanBounds makes one bounded-memory streaming pass over path: it records
// every finite splat's byte offset (never its data) and the running
// world-space bounding box, so a caller can build a grid and a random-access
// index (OpenIndexed) without ever holding the file's splats in memory.
func ScanBounds(path string) (offsets []int64, lower, upper [3]float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, lower, upper, errs.NewIoError(path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)
	var buf [recordSize]byte
	var off int64
	first := true
	for {
		if _, rerr := io.ReadFull(r, buf[:]); rerr != nil {
			if rerr == io.EOF {
				break
			}
			return nil, lower, upper, errs.NewIoError(path, rerr)
		}
		recordOff := off
		off += recordSize
		sp := decodeRecord(buf[:])
		if !sp.Finite() {
			continue
		}
		offsets = append(offsets, recordOff)
		for i := 0; i < 3; i++ {
			if first || sp.Position[i] < lower[i] {
				lower[i] = sp.Position[i]
			}
			if first || sp.Position[i] > upper[i] {
				upper[i] = sp.Position[i]
			}
		}
		first = false
	}
	return offsets, lower, upper, nil
}

// BuildBlobIndex drains a fresh sequential read of path through
// blob.Drain/blob.Build into an in-memory snappy stream, then replays it
// back into a []blob.Info slice -- the actual FastBlobSet round trip
// (internal/blob's Writer/Reader), not just its box arithmetic. The result
// holds only one entry per coalesced run, not per splat, so it stays small
// even for a file with many splats. grid must be the same grid (same
// Reference/Spacing) bucket.Bucket will later be called against; numWorkers
// matches blob.Build's fork-join splat slicing.
func BuildBlobIndex(path string, fileID uint32, grid geom.Grid, internalBucketSize int64, numWorkers int) ([]blob.Info, error) {
	seq, err := Open(path, fileID)
	if err != nil {
		return nil, err
	}
	defer seq.Close()

	var buf bytes.Buffer
	w := blob.NewWriter(&buf)
	if _, err := blob.Drain(seq, 0, grid, internalBucketSize, numWorkers, w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	rd := blob.NewReader(&buf)
	var runs []blob.Info
	for {
		info, nerr := rd.Next()
		if nerr == io.EOF {
			break
		}
		if nerr != nil {
			return nil, nerr
		}
		runs = append(runs, info)
	}
	return runs, nil
}

// AdoptBlobIndex attaches a pre-built blob run index (from BuildBlobIndex)
// to this RawFile, making it satisfy bucket.BlobSource for the root-level
// bucket.Bucket call it will be passed to.
func (s *RawFile) AdoptBlobIndex(runs []blob.Info, internalBucketSize int64, indexSpacing float64) {
	s.blobMu.Lock()
	s.blobRuns = runs
	s.blobInternalBucket = internalBucketSize
	s.blobIndexSpacing = indexSpacing
	s.blobMu.Unlock()
}

// BlobFastPathAvailable implements splat.BlobCapable.
func (s *RawFile) BlobFastPathAvailable() bool {
	s.blobMu.Lock()
	defer s.blobMu.Unlock()
	return len(s.blobRuns) > 0
}

// BlobRuns implements bucket.BlobSource.
func (s *RawFile) BlobRuns() (runs []blob.Info, fileID uint32, internalBucketSize int64, indexSpacing float64) {
	s.blobMu.Lock()
	defer s.blobMu.Unlock()
	return s.blobRuns, s.fileID, s.blobInternalBucket, s.blobIndexSpacing
}

// ReadAll drains the whole file into memory. Kept for small jobs and
// covered by this package's own tests; the CLI itself now streams instead
// (see ScanBounds/OpenIndexed), since this is exactly the whole-file
// materialization the out-of-core design exists to avoid.
func ReadAll(path string, fileID uint32) ([]splat.Splat, error) {
	src, err := Open(path, fileID)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var all []splat.Splat
	buf := make([]splat.Splat, 4096)
	ids := make([]uint64, 4096)
	for {
		n, err := src.Read(ids, buf)
		if err != nil {
			return nil, err
		}
		all = append(all, buf[:n]...)
		if n < len(buf) {
			break
		}
	}
	return all, nil
}
