package blob

import (
	"github.com/MohamedGNabail/mlsgpu/internal/geom"
	"github.com/MohamedGNabail/mlsgpu/internal/splat"
)

// SplatBucketBox computes the inclusive box of internalBucketSize-sized
// buckets that splat s's influence region touches, in the given grid's
// vertex units. ok is false when the splat's influence box lies entirely
// outside the grid, in which case it contributes to no blob.
func SplatBucketBox(s splat.Splat, grid geom.Grid, internalBucketSize int64) (lower, upper [3]int32, ok bool) {
	lo := s.BoundsLower()
	hi := s.BoundsUpper()
	ok = true
	for i := 0; i < 3; i++ {
		loV := grid.WorldToVertex(i, lo[i])
		hiV := grid.WorldToVertex(i, hi[i])
		if hiV < grid.Lo[i] || loV > grid.Hi[i] {
			ok = false
		}
		lower[i] = int32(floorDiv(loV, internalBucketSize))
		upper[i] = int32(floorDiv(hiV, internalBucketSize))
	}
	return lower, upper, ok
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// FastPathEligible reports whether a blob stream built at internalBucketSize
// may be used in place of a per-splat scan at bucketSize against grid, per
// §4.3: bucketSize must be a multiple of internalBucketSize, the grid
// spacing must match the index's, the grid reference must be the origin,
// and the grid's lower extents must be multiples of internalBucketSize.
func FastPathEligible(grid geom.Grid, indexSpacing float64, bucketSize, internalBucketSize int64) bool {
	if internalBucketSize <= 0 || bucketSize%internalBucketSize != 0 {
		return false
	}
	if grid.Spacing != indexSpacing {
		return false
	}
	if grid.Reference != ([3]float64{0, 0, 0}) {
		return false
	}
	for i := 0; i < 3; i++ {
		if grid.Lo[i]%internalBucketSize != 0 {
			return false
		}
	}
	return true
}

// Rescale converts a blob box recorded in internalBucketSize units into the
// caller's final bucketSize units, as the replay path does at emit time.
func Rescale(lower, upper [3]int32, bucketSize, internalBucketSize int64) (outLower, outUpper [3]int32) {
	factor := bucketSize / internalBucketSize
	for i := 0; i < 3; i++ {
		outLower[i] = int32(int64(lower[i]) / factor)
		outUpper[i] = int32(int64(upper[i]) / factor)
	}
	return outLower, outUpper
}
