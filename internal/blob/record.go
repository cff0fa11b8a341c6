// Package blob implements the FastBlobSet on-disk index: a differentially
// coded sequence of splat-to-bucket coverage boxes, so later passes can
// stream buckets without re-scanning every splat.
package blob

import (
	"encoding/binary"

	"github.com/MohamedGNabail/mlsgpu/internal/errs"
)

// Info is a maximal run of consecutive splats sharing an identical bucket
// coverage box: firstSplat, lastSplat (inclusive), and the box
// [lower,upper] (inclusive on both ends).
type Info struct {
	FirstSplat uint64
	LastSplat  uint64
	Lower      [3]int32
	Upper      [3]int32
}

// Count returns the number of splats this blob covers.
func (b Info) Count() uint64 { return b.LastSplat - b.FirstSplat + 1 }

const (
	fullRecordSize = 40
	diffRecordSize = 4
	diffTagBit     = uint32(1) << 31

	// deltaMin/deltaMax bound the signed 3-bit delta field per axis:
	// [-4, +3].
	deltaMin = -4
	deltaMax = 3

	// countFieldMask is the 19-bit splat-count field's bit mask (bits
	// 12..30): it can represent stored values 0..2^19-1.
	countFieldMask = 1<<19 - 1

	// maxLegalStoredCount is the largest stored count-1 value the §4.3
	// legality rule permits: the spec requires the blob's splat count be
	// strictly < 2^19, i.e. count-1 <= 2^19-2, one less than the field's
	// raw bit capacity.
	maxLegalStoredCount = 1<<19 - 2
)

// CanDifferential reports whether cur is legally encodable as a
// differential record relative to prev, per the §4.3 legality rules:
// prev exists, cur's box has size 1 or 2 per axis, each lower[i] is within
// [prev.Upper[i]-4, prev.Upper[i]+3], cur's splat count is < 2^19, and
// cur.FirstSplat == prev.LastSplat+1 (blobs are contiguous in splat id).
func CanDifferential(prev *Info, cur Info) bool {
	if prev == nil {
		return false
	}
	if cur.FirstSplat != prev.LastSplat+1 {
		return false
	}
	if cur.Count()-1 > maxLegalStoredCount {
		return false
	}
	for i := 0; i < 3; i++ {
		size := cur.Upper[i] - cur.Lower[i]
		if size != 0 && size != 1 {
			return false
		}
		delta := int64(cur.Lower[i]) - int64(prev.Upper[i])
		if delta < deltaMin || delta > deltaMax {
			return false
		}
	}
	return true
}

// EncodeFull writes the 40-byte full record for b into dst, which must have
// length >= 40. Both 64-bit fields are written as hi-word-then-lo-word (each
// word little-endian), so the leading 4 bytes of the record carry the
// firstSplat high word -- whose top bit is the full/differential
// discriminator bit 31 read back by PeekTag.
func EncodeFull(dst []byte, b Info) {
	putU64HiLo(dst[0:8], b.FirstSplat)
	putU64HiLo(dst[8:16], b.LastSplat)
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(dst[16+4*i:], uint32(b.Lower[i]))
	}
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(dst[28+4*i:], uint32(b.Upper[i]))
	}
}

func putU64HiLo(dst []byte, v uint64) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(v>>32))
	binary.LittleEndian.PutUint32(dst[4:8], uint32(v))
}

func getU64HiLo(src []byte) uint64 {
	hi := binary.LittleEndian.Uint32(src[0:4])
	lo := binary.LittleEndian.Uint32(src[4:8])
	return uint64(hi)<<32 | uint64(lo)
}

// DecodeFull reads a 40-byte full record from src (len(src) >= 40).
func DecodeFull(src []byte) Info {
	var b Info
	b.FirstSplat = getU64HiLo(src[0:8])
	b.LastSplat = getU64HiLo(src[8:16])
	for i := 0; i < 3; i++ {
		b.Lower[i] = int32(binary.LittleEndian.Uint32(src[16+4*i:]))
	}
	for i := 0; i < 3; i++ {
		b.Upper[i] = int32(binary.LittleEndian.Uint32(src[28+4*i:]))
	}
	return b
}

// EncodeDifferential writes the 4-byte differential record for cur
// (relative to prev) into dst (len(dst) >= 4). Callers must first confirm
// CanDifferential(prev, cur).
func EncodeDifferential(dst []byte, prev Info, cur Info) {
	var payload uint32
	for i := 0; i < 3; i++ {
		delta := int32(cur.Lower[i]) - int32(prev.Upper[i])
		size := cur.Upper[i] - cur.Lower[i]
		payload |= (uint32(delta) & 0x7) << uint(4*i)
		payload |= uint32(size&1) << uint(4*i+3)
	}
	count := cur.Count() - 1
	payload |= uint32(count&countFieldMask) << 12
	payload |= diffTagBit
	binary.LittleEndian.PutUint32(dst, payload)
}

// DecodeDifferential reconstructs the Info carried by a 4-byte differential
// record, given the previous blob's reconstructed box.
func DecodeDifferential(src []byte, prev Info) Info {
	payload := binary.LittleEndian.Uint32(src)
	var b Info
	for i := 0; i < 3; i++ {
		field := (payload >> uint(4*i)) & 0x7
		delta := int32(int8(field<<5) >> 5) // sign-extend 3-bit field
		size := int32((payload >> uint(4*i+3)) & 1)
		b.Lower[i] = prev.Upper[i] + delta
		b.Upper[i] = b.Lower[i] + size
	}
	count := (payload >> 12) & countFieldMask
	b.FirstSplat = prev.LastSplat + 1
	b.LastSplat = b.FirstSplat + uint64(count)
	return b
}

// PeekTag reads the discriminator bit from the first 4 bytes of a record
// without knowing its full length: false means a 40-byte full record
// follows, true means a 4-byte differential record.
func PeekTag(src []byte) (bool, error) {
	if len(src) < 4 {
		return false, errs.NewIoError("blob", errShortRead)
	}
	word := binary.LittleEndian.Uint32(src[0:4])
	return word&diffTagBit != 0, nil
}

var errShortRead = errShort("short read decoding blob record tag")

type errShort string

func (e errShort) Error() string { return string(e) }
