package process

import "fmt"

// Default region sizes follow the BEAM convention of starting small and
// growing (or stealing) on demand.
const (
	DefaultStackSize = 1024
	DefaultHeapSize  = 512
)

// ErrOutOfMemory is returned when a bump allocation does not fit even after
// reclaiming the region.
var ErrOutOfMemory = fmt.Errorf("process: out of memory")

// region is a bump allocator over a fixed backing buffer.  There is no
// individual free; space is reclaimed only in bulk via reset.
type region struct {
	buf []byte
	ptr int
}

func newRegion(size int) region {
	return region{buf: make([]byte, size)}
}

// alloc returns the pre-bump slice of the requested size and advances the
// pointer, or nil when the request does not fit.  It never partially
// allocates.
func (r *region) alloc(size int) []byte {
	if size < 0 || r.ptr+size > len(r.buf) {
		return nil
	}
	out := r.buf[r.ptr : r.ptr+size : r.ptr+size]
	r.ptr += size
	return out
}

func (r *region) reset()         { r.ptr = 0 }
func (r *region) remaining() int { return len(r.buf) - r.ptr }
func (r *region) release()      { r.buf, r.ptr = nil, 0 }

// AllocStack bump-allocates size bytes from the process stack region.  When
// the request does not fit the region is reclaimed once and the allocation
// retried; a request that still does not fit fails with ErrOutOfMemory.  The
// call never blocks.
func (p *Process) AllocStack(size int) ([]byte, error) {
	return p.alloc(&p.stack, size)
}

// AllocHeap bump-allocates size bytes from the process heap region with the
// same reclaim-and-retry-once semantics as AllocStack.
func (p *Process) AllocHeap(size int) ([]byte, error) {
	return p.alloc(&p.heap, size)
}

func (p *Process) alloc(r *region, size int) ([]byte, error) {
	if p.released.Load() {
		return nil, ErrReleased
	}
	if out := r.alloc(size); out != nil {
		return out, nil
	}
	// Bounded recovery: reclaim in bulk, then retry exactly once.
	p.ReclaimAll()
	if out := r.alloc(size); out != nil {
		return out, nil
	}
	return nil, ErrOutOfMemory
}

// ReclaimAll resets both bump pointers to their base addresses, discarding
// every live allocation in the process stack and heap.
//
// This is a named placeholder for garbage collection, not a collector: callers
// that hold references into either region must treat them as invalid after the
// call.  Real generational collection is an explicit non-goal.
func (p *Process) ReclaimAll() {
	p.stack.reset()
	p.heap.reset()
}

// StackRemaining returns the unallocated byte count of the stack region.
func (p *Process) StackRemaining() int { return p.stack.remaining() }

// HeapRemaining returns the unallocated byte count of the heap region.
func (p *Process) HeapRemaining() int { return p.heap.remaining() }

// StackSize returns the total stack region size.
func (p *Process) StackSize() int { return len(p.stack.buf) }

// HeapSize returns the total heap region size.
func (p *Process) HeapSize() int { return len(p.heap.buf) }
