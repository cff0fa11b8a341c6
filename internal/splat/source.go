package splat

// Source is the splat stream contract: read(out[], ids[], count) ->
// actualCount, with actualCount < count signalling EOF. Implementations
// must skip non-finite splats and report their count separately, and must
// prefix each ID with a stable per-file id (see MakeID).
type Source interface {
	// Read fills splats (and the matching ids) with up to len(splats)
	// entries, returning the number actually read.
	Read(ids []uint64, splats []Splat) (n int, err error)
	// NonFiniteDropped reports the running count of splats skipped for
	// failing Splat.Finite.
	NonFiniteDropped() uint64
}

// BlobCapable is the small capability trait a Source may additionally
// satisfy: a source that can hand back a pre-built blob index stream
// instead of requiring a full splat re-scan. Callers type-assert for this
// once at construction, not per call, per the design note on dispatching
// FileSet/FastBlobSet/Subset policies.
type BlobCapable interface {
	// BlobFastPathAvailable reports whether this source currently has a
	// usable blob index to replay (see blob.FastPathEligible).
	BlobFastPathAvailable() bool
}
