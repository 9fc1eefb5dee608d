package scheduler

import (
	"sync/atomic"

	"github.com/lwproc/lwproc/model/process"
)

// DefaultDequeCapacity is the per-core, per-priority ring capacity.
const DefaultDequeCapacity = 256

// Deque is a lock-free, fixed-capacity work-stealing deque of process
// pointers in the Chase-Lev style.  The owning core is the only writer of
// bottom; remote stealers advance top with a compare-and-swap, which is the
// sole synchronization point guaranteeing that at most one core removes any
// given process.  The live region is [top, bottom).
type Deque struct {
	top atomic.Uint64
	// top and bottom live on separate cache lines so stealers hammering the
	// CAS do not invalidate the owner's line.
	_      [56]byte
	bottom atomic.Uint64
	_      [56]byte

	mask uint64
	buf  []atomic.Pointer[process.Process]

	stealAttempts atomic.Uint64
	stealCount    atomic.Uint64
	localPops     atomic.Uint64
}

// NewDeque allocates a deque with at least the requested capacity, rounded up
// to a power of two so index arithmetic reduces to a mask.
func NewDeque(capacity int) *Deque {
	if capacity <= 0 {
		capacity = DefaultDequeCapacity
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &Deque{
		mask: uint64(size - 1),
		buf:  make([]atomic.Pointer[process.Process], size),
	}
}

// Cap returns the fixed capacity of the ring.
func (d *Deque) Cap() int { return len(d.buf) }

// Len returns the current number of live entries.  The value is a snapshot
// and may be stale by the time the caller uses it.
func (d *Deque) Len() int {
	b := d.bottom.Load()
	t := d.top.Load()
	if b <= t {
		return 0
	}
	return int(b - t)
}

// Empty reports whether the live region is empty.
func (d *Deque) Empty() bool { return d.Len() == 0 }

// PushBottom appends a process at the bottom end.  Owner-only: there is a
// single writer of bottom, and the atomic bottom publish orders the slot
// store before it so a stealer that observes the new bottom also observes
// the entry.  Returns false when the ring is full.
func (d *Deque) PushBottom(p *process.Process) bool {
	b := d.bottom.Load()
	t := d.top.Load()
	if b-t >= uint64(len(d.buf)) {
		return false
	}
	d.buf[b&d.mask].Store(p)
	d.bottom.Store(b + 1)
	return true
}

// PopBottom removes the most recently pushed process.  Owner-only; the race
// against a concurrent stealer over the last remaining entry is resolved by
// a compare-and-swap on top.
func (d *Deque) PopBottom() *process.Process {
	b := d.bottom.Load()
	if b == 0 {
		return nil
	}
	b--
	d.bottom.Store(b)

	t := d.top.Load()
	if t > b {
		// Deque was already empty; undo the reservation.
		d.bottom.Store(b + 1)
		return nil
	}
	p := d.buf[b&d.mask].Load()
	if t == b {
		// Last entry: contend with stealers for it.
		if !d.top.CompareAndSwap(t, t+1) {
			d.bottom.Store(b + 1)
			return nil
		}
		d.bottom.Store(b + 1)
	}
	d.localPops.Add(1)
	return p
}

// PopTop removes the oldest process from the top end.  Safe for remote
// stealers; a failed compare-and-swap means another core won the entry and
// the attempt is retried from a fresh snapshot.
func (d *Deque) PopTop() *process.Process {
	d.stealAttempts.Add(1)
	p := d.popTop()
	if p != nil {
		d.stealCount.Add(1)
	}
	return p
}

// Take removes the oldest process on behalf of the owning core.  Dispatch
// consumes the same end stealers do so that FIFO order within a priority
// level survives concurrent steals.
func (d *Deque) Take() *process.Process {
	p := d.popTop()
	if p != nil {
		d.localPops.Add(1)
	}
	return p
}

// PeekTop returns the oldest entry without removing it, or nil when the
// deque is empty.  The value is speculative: a concurrent pop may win the
// entry before the caller acts on it.
func (d *Deque) PeekTop() *process.Process {
	t := d.top.Load()
	b := d.bottom.Load()
	if t >= b {
		return nil
	}
	return d.buf[t&d.mask].Load()
}

func (d *Deque) popTop() *process.Process {
	for {
		t := d.top.Load()
		b := d.bottom.Load()
		if t >= b {
			return nil
		}
		p := d.buf[t&d.mask].Load()
		if d.top.CompareAndSwap(t, t+1) {
			return p
		}
	}
}

// StealAttempts returns how many PopTop calls were made against this deque.
func (d *Deque) StealAttempts() uint64 { return d.stealAttempts.Load() }

// StealCount returns how many PopTop calls removed an entry.
func (d *Deque) StealCount() uint64 { return d.stealCount.Load() }

// LocalPops returns how many entries the owner removed from the bottom end.
func (d *Deque) LocalPops() uint64 { return d.localPops.Load() }
