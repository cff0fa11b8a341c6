package splat

import "github.com/MohamedGNabail/mlsgpu/internal/errs"

// Range names a contiguous run of splats in one input file: fileID,
// startIndex, count. start+count-1 must not overflow a 64-bit splat index.
type Range struct {
	FileID     uint32
	StartIndex uint64
	Count      uint64
}

// End returns the index one past the last splat in the range.
func (r Range) End() uint64 { return r.StartIndex + r.Count }

// Append extends r by one splat at id if id is contiguous with r's current
// end (same file, id == start+count); it returns the extended range and
// true, or r unchanged and false if id starts a new range. An overflow of
// start+count is a RangeError, since it violates the Range invariant.
func (r Range) Append(fileID uint32, id uint64) (Range, bool, error) {
	if r.Count == 0 {
		return Range{FileID: fileID, StartIndex: id, Count: 1}, true, nil
	}
	if fileID != r.FileID || id != r.StartIndex+r.Count {
		return r, false, nil
	}
	if r.StartIndex+r.Count < r.Count {
		return r, false, errs.NewRangeError("range append overflow at file %d index %d", fileID, id)
	}
	r.Count++
	return r, true, nil
}

// Counter maintains running totals (number of ranges, number of splats)
// plus the "current" range being extended, matching spec section 4.5's
// RangeCounter.
type Counter struct {
	Ranges int
	Splats uint64

	current Range
	hasCur  bool
}

// Add folds one more splat id into the counter, opening a new range when
// the id is not contiguous with the current one.
func (c *Counter) Add(fileID uint32, id uint64) error {
	if c.hasCur {
		ext, ok, err := c.current.Append(fileID, id)
		if err != nil {
			return err
		}
		if ok {
			c.current = ext
			c.Splats++
			return nil
		}
		c.Ranges++
	}
	c.current = Range{FileID: fileID, StartIndex: id, Count: 1}
	c.hasCur = true
	c.Splats++
	return nil
}

// Flush closes out the current range (if any), folding it into Ranges, and
// resets the counter to accept a fresh run.
func (c *Counter) Flush() {
	if c.hasCur {
		c.Ranges++
		c.hasCur = false
		c.current = Range{}
	}
}

// Collector writes coalesced ranges to a random-access sink (e.g. a slice
// being built with append, or a pre-sized buffer indexed by a running
// offset) as new splat ids are folded in.
type Collector struct {
	current Range
	hasCur  bool
	out     []Range
}

// NewCollector returns a Collector appending to an (optionally pre-sized)
// backing slice.
func NewCollector(out []Range) *Collector {
	return &Collector{out: out[:0]}
}

// Add folds one splat id into the collector, coalescing with the
// in-progress range when contiguous, else flushing it and starting a new
// one.
func (c *Collector) Add(fileID uint32, id uint64) error {
	if c.hasCur {
		ext, ok, err := c.current.Append(fileID, id)
		if err != nil {
			return err
		}
		if ok {
			c.current = ext
			return nil
		}
		c.out = append(c.out, c.current)
	}
	c.current = Range{FileID: fileID, StartIndex: id, Count: 1}
	c.hasCur = true
	return nil
}

// Ranges returns the coalesced ranges collected so far, flushing any
// in-progress range first. The returned slice aliases the Collector's
// internal buffer and is invalidated by further Add calls.
func (c *Collector) Ranges() []Range {
	if c.hasCur {
		c.out = append(c.out, c.current)
		c.hasCur = false
	}
	return c.out
}
