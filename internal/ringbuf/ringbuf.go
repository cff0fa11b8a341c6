// Package ringbuf implements CircularBuffer, the contiguous byte arena the
// pipeline stages use to stage splat and command data between disk reads
// and device uploads without ever growing the heap.
package ringbuf

import (
	"sync"

	"github.com/MohamedGNabail/mlsgpu/internal/errs"
)

// Allocation is a contiguous, caller-owned span of a CircularBuffer. Callers
// must call Free exactly once when done with the bytes.
type Allocation struct {
	buf    *CircularBuffer
	Offset int
	Size   int
	freed  bool
}

// Bytes returns the allocation's backing slice. It is valid only until Free
// is called.
func (a *Allocation) Bytes() []byte {
	return a.buf.data[a.Offset : a.Offset+a.Size]
}

// CircularBuffer is a fixed-capacity byte arena allocated in FIFO order:
// allocations reserve the next contiguous span starting at an internal
// cursor, wrapping to the front of the array when the tail doesn't have
// room; frees coalesce only from the front of the outstanding queue, so
// out-of-order frees are legal but do not reclaim space until every older
// allocation has also been freed.
type CircularBuffer struct {
	mu   sync.Mutex
	cond sync.Cond

	data     []byte
	capacity int
	cursor   int // next physical offset a reservation may start at
	used     int // bytes held by outstanding (not yet reclaimed) allocations
	queue    []*Allocation
	closed   bool
}

// New allocates a CircularBuffer with the given byte capacity.
func New(capacity int) *CircularBuffer {
	b := &CircularBuffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
	b.cond = sync.Cond{L: &b.mu}
	return b
}

// Alloc reserves size contiguous bytes, blocking until enough space is free.
// It returns errs.RangeError if size exceeds the buffer's total capacity,
// and errs.StateError if the buffer has been closed.
func (b *CircularBuffer) Alloc(size int) (*Allocation, error) {
	if size <= 0 {
		return nil, errs.NewRangeError("ringbuf: alloc size must be positive, got %d", size)
	}
	if size > b.capacity {
		return nil, errs.NewRangeError("ringbuf: alloc size %d exceeds capacity %d", size, b.capacity)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.closed {
			return nil, errs.NewStateError("ringbuf: alloc on a closed buffer")
		}
		if offset, ok := b.tryReserve(size); ok {
			a := &Allocation{buf: b, Offset: offset, Size: size}
			b.queue = append(b.queue, a)
			b.used += size
			return a, nil
		}
		b.cond.Wait()
	}
}

// tryReserve finds the first-fit contiguous span of size bytes, preferring
// the run from cursor to the physical end of the array before wrapping to
// the front. When nothing is outstanding the cursor restarts at 0. Either
// candidate span is taken only if no outstanding allocation occupies it.
// Must hold b.mu.
func (b *CircularBuffer) tryReserve(size int) (offset int, ok bool) {
	if b.used+size > b.capacity {
		return 0, false
	}
	if len(b.queue) == 0 {
		b.cursor = 0
	}
	if b.cursor+size <= b.capacity {
		offset = b.cursor
	} else {
		// The tail doesn't fit; wrap to the front.
		offset = 0
	}
	if b.wouldOverlap(offset, size) {
		return 0, false
	}
	b.cursor = offset + size
	if b.cursor == b.capacity {
		b.cursor = 0
	}
	return offset, true
}

// wouldOverlap reports whether reserving size bytes at offset would collide
// with any outstanding allocation still queued.
func (b *CircularBuffer) wouldOverlap(offset, size int) bool {
	for _, a := range b.queue {
		if a.freed {
			continue
		}
		if a.Offset < offset+size && offset < a.Offset+a.Size {
			return true
		}
	}
	return false
}

// Free releases a, making its bytes eligible for reuse once every
// allocation made before it has also been freed.
func (b *CircularBuffer) Free(a *Allocation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a.freed = true
	b.reclaim()
	b.cond.Broadcast()
}

// reclaim pops a contiguous run of freed allocations off the front of the
// queue, the only point at which used space actually shrinks. Must hold
// b.mu.
func (b *CircularBuffer) reclaim() {
	i := 0
	for i < len(b.queue) && b.queue[i].freed {
		b.used -= b.queue[i].Size
		i++
	}
	if i > 0 {
		b.queue = b.queue[i:]
	}
}

// Close marks the buffer closed: outstanding allocations remain valid, but
// further Allocs fail and blocked Allocs wake with an error.
func (b *CircularBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Capacity returns the buffer's total byte capacity.
func (b *CircularBuffer) Capacity() int { return b.capacity }

// Used returns the number of bytes currently held by outstanding
// allocations (including freed ones still awaiting front-coalescing).
func (b *CircularBuffer) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
