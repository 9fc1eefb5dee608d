package process

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lwproc/lwproc/internal/clock"
)

// DefaultReductions is the execution budget granted on every dispatch.
// Exhaustion is the cooperative-preemption signal.
const DefaultReductions = 2000

// AffinityAll permits execution on every core.
const AffinityAll = ^uint64(0)

var (
	// ErrReleased is returned when an operation is attempted on a process
	// whose backing memory was already released.
	ErrReleased = fmt.Errorf("process: already released")

	// ErrInvalidTransition is returned when the state machine rejects a
	// transition; the process state is left untouched.
	ErrInvalidTransition = fmt.Errorf("process: invalid state transition")
)

// Outcome is what a process step reports back to the executor.
type Outcome uint8

const (
	// Continue means the step finished and the process wants to keep running
	// within its remaining reduction budget.
	Continue Outcome = iota
	// Yield relinquishes the core voluntarily; the process stays runnable.
	Yield
	// BlockReceive parks the process until a message arrives.
	BlockReceive
	// BlockTimer parks the process until a timeout fires.
	BlockTimer
	// BlockIO parks the process until an I/O completion wakes it.
	BlockIO
	// Done terminates the process.
	Done
)

// Entry is the code of a lightweight process.  The executor invokes it once
// per reduction until the budget is exhausted or a non-Continue outcome is
// returned.
type Entry func(p *Process) Outcome

// Process is the process control block: one fixed record per lightweight
// process.  Scalar scheduling fields are mutated by the owning core only;
// fields crossed by the steal protocol (scheduler id, affinity, migration
// bookkeeping, state) are atomic.
type Process struct {
	pid   PID
	entry Entry

	// queue linkage, owned by Queue and guarded by the owning core's lock
	next  *Process
	prev  *Process
	queue *Queue

	state       atomic.Uint32
	priority    Priority
	reductions  atomic.Int32
	schedulerID atomic.Uint32

	ctx   SavedContext
	stack region
	heap  region

	// mailbox is an opaque handle supplied by the message subsystem; the
	// core only stores and forwards it.
	mailbox any

	affinity      atomic.Uint64
	migrations    atomic.Uint32
	lastMigration atomic.Int64 // unix nanoseconds, zero until first migration

	// wakeAfter carries the timeout a BlockTimer outcome asks for; the
	// owning core reads it once when parking the process.
	wakeAfter time.Duration

	createdAt time.Time
	released  atomic.Bool
}

// Option customises process creation.
type Option func(*creation)

type creation struct {
	stackSize int
	heapSize  int
	affinity  uint64
}

// WithStackSize overrides the initial stack region size.
func WithStackSize(size int) Option {
	return func(c *creation) { c.stackSize = size }
}

// WithHeapSize overrides the initial heap region size.
func WithHeapSize(size int) Option {
	return func(c *creation) { c.heapSize = size }
}

// WithAffinity restricts the process to the cores set in mask.
func WithAffinity(mask uint64) Option {
	return func(c *creation) { c.affinity = mask }
}

// New allocates a process control block with a fresh pid drawn from the
// supplied counter, a zeroed saved context and freshly initialised stack and
// heap regions.  The record lives on the Go heap; it is never carved out of a
// caller's stack frame.
func New(entry Entry, priority Priority, schedulerID uint32, pids *PIDCounter, opts ...Option) (*Process, error) {
	if entry == nil {
		return nil, fmt.Errorf("process: nil entry point")
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("process: invalid priority %d", priority)
	}
	if pids == nil {
		return nil, fmt.Errorf("process: nil pid counter")
	}
	c := creation{stackSize: DefaultStackSize, heapSize: DefaultHeapSize, affinity: AffinityAll}
	for _, opt := range opts {
		opt(&c)
	}
	if c.stackSize <= 0 || c.heapSize <= 0 {
		return nil, fmt.Errorf("process: non-positive region size")
	}
	p := &Process{
		pid:       pids.Next(),
		entry:     entry,
		priority:  priority,
		stack:     newRegion(c.stackSize),
		heap:      newRegion(c.heapSize),
		createdAt: clock.Now(),
	}
	p.state.Store(uint32(StateCreated))
	p.schedulerID.Store(schedulerID)
	p.affinity.Store(c.affinity)
	p.reductions.Store(DefaultReductions)
	return p, nil
}

// Release terminates the process and frees its stack and heap regions.  A
// second Release returns ErrReleased instead of corrupting the record.
func (p *Process) Release() error {
	if !p.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	p.state.Store(uint32(StateTerminated))
	p.stack.release()
	p.heap.release()
	return nil
}

// Released reports whether the process memory was already freed.
func (p *Process) Released() bool { return p.released.Load() }

// PID returns the process identifier.
func (p *Process) PID() PID { return p.pid }

// Entry returns the process entry point.
func (p *Process) Entry() Entry { return p.entry }

// Priority returns the scheduling class.
func (p *Process) Priority() Priority { return p.priority }

// SetPriority reclassifies the process.  It only affects the next enqueue.
func (p *Process) SetPriority(priority Priority) error {
	if !priority.Valid() {
		return fmt.Errorf("process: invalid priority %d", priority)
	}
	p.priority = priority
	return nil
}

// State returns the current lifecycle state.
func (p *Process) State() State { return State(p.state.Load()) }

// Runnable reports whether the process is ready to be dispatched.
func (p *Process) Runnable() bool { return p.State() == StateReady }

// Transition moves the process to the requested state, enforcing the guard
// table.  The compare-and-swap keeps concurrent transitions (owner dispatch
// vs. cross-core wakeup) from both succeeding.
func (p *Process) Transition(to State) error {
	for {
		cur := p.state.Load()
		if !CanTransition(State(cur), to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, State(cur), to)
		}
		if p.state.CompareAndSwap(cur, uint32(to)) {
			return nil
		}
	}
}

// MarkReady transitions a created, waiting or suspended process to ready.
func (p *Process) MarkReady() error { return p.Transition(StateReady) }

// MarkRunning transitions a ready process to running; only the scheduler
// dispatch path calls it.
func (p *Process) MarkRunning() error { return p.Transition(StateRunning) }

// MarkWaiting transitions a running process to waiting.
func (p *Process) MarkWaiting() error { return p.Transition(StateWaiting) }

// MarkSuspended transitions a ready process to suspended.
func (p *Process) MarkSuspended() error { return p.Transition(StateSuspended) }

// MarkTerminated transitions the process to terminated; always permitted.
func (p *Process) MarkTerminated() { p.state.Store(uint32(StateTerminated)) }

// Reductions returns the remaining execution budget.
func (p *Process) Reductions() int32 { return p.reductions.Load() }

// ResetReductions restores the full dispatch budget.
func (p *Process) ResetReductions() { p.reductions.Store(DefaultReductions) }

// SetReductions overrides the remaining budget, floored at zero.
func (p *Process) SetReductions(n int32) {
	if n < 0 {
		n = 0
	}
	p.reductions.Store(n)
}

// DecrementReduction charges one reduction and returns the remaining budget.
// The budget never goes negative.
func (p *Process) DecrementReduction() int32 {
	for {
		cur := p.reductions.Load()
		if cur == 0 {
			return 0
		}
		if p.reductions.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

// SchedulerID returns the identifier of the process's home core.
func (p *Process) SchedulerID() uint32 { return p.schedulerID.Load() }

// SetSchedulerID reassigns the home core; the balancer uses it during
// migration.
func (p *Process) SetSchedulerID(coreID uint32) { p.schedulerID.Store(coreID) }

// Affinity returns the 64-bit core bitmap the process may run on.
func (p *Process) Affinity() uint64 { return p.affinity.Load() }

// SetAffinity replaces the affinity mask.
func (p *Process) SetAffinity(mask uint64) { p.affinity.Store(mask) }

// AllowedOn reports whether the affinity mask permits the given core.
func (p *Process) AllowedOn(coreID uint32) bool {
	if coreID > 63 {
		return false
	}
	return p.affinity.Load()&(1<<coreID) != 0
}

// Migrations returns how many times the process has been stolen.
func (p *Process) Migrations() uint32 { return p.migrations.Load() }

// RecordMigration bumps the migration count and stamps the migration time.
// The stealing core calls it while it is the sole owner of the record.
func (p *Process) RecordMigration(at time.Time) uint32 {
	p.lastMigration.Store(at.UnixNano())
	return p.migrations.Add(1)
}

// LastMigration returns the time of the most recent migration; the zero time
// means the process never migrated.
func (p *Process) LastMigration() time.Time {
	ns := p.lastMigration.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Context returns the saved execution context.  The scheduler treats it as an
// opaque buffer.
func (p *Process) Context() *SavedContext { return &p.ctx }

// SetMailbox stores the opaque mailbox handle supplied by the message
// subsystem.  Set it before the first enqueue; the core never interprets it.
func (p *Process) SetMailbox(handle any) { p.mailbox = handle }

// Mailbox returns the stored mailbox handle.
func (p *Process) Mailbox() any { return p.mailbox }

// SetWakeAfter records the timeout to request when the process next blocks
// on a timer.  The entry point sets it before returning BlockTimer.
func (p *Process) SetWakeAfter(d time.Duration) { p.wakeAfter = d }

// WakeAfter returns the requested timer-block timeout.
func (p *Process) WakeAfter() time.Duration { return p.wakeAfter }

// CreatedAt returns the creation time of the process.
func (p *Process) CreatedAt() time.Time { return p.createdAt }

func (p *Process) String() string {
	return fmt.Sprintf("process(pid=%d priority=%s state=%s core=%d)", p.pid, p.priority, p.State(), p.SchedulerID())
}
