package scheduler

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/lwproc/lwproc/model/process"
)

// MaxCores bounds the number of scheduler states a runtime may own; the
// 64-bit process affinity mask cannot address more.
const MaxCores = 64

// WaitClass selects one of the waiting queues populated by the blocking
// collaborators.
type WaitClass uint8

const (
	WaitReceive WaitClass = iota
	WaitTimer
	WaitIO

	// WaitClassCount is the number of waiting queues per core.
	WaitClassCount = 3
)

var (
	// ErrInvalidPriority is returned for a priority outside the four levels.
	ErrInvalidPriority = fmt.Errorf("scheduler: invalid priority")

	// ErrInvalidCore is returned for a core id outside the configured range.
	ErrInvalidCore = fmt.Errorf("scheduler: invalid core id")

	// ErrNilProcess is returned when a nil process is offered.
	ErrNilProcess = fmt.Errorf("scheduler: nil process")

	// ErrNotRunning is returned when a current-process operation is invoked
	// while the core has no current process.
	ErrNotRunning = fmt.Errorf("scheduler: no current process")
)

// Counters aggregates the per-core scheduling statistics.  Cross-core
// increments (a thief bumping the victim's migration count) use the same
// atomic adds as local ones, so the counts stay exact.
type Counters struct {
	TotalScheduled  atomic.Uint64
	TotalYields     atomic.Uint64
	TotalMigrations atomic.Uint64
	IdleCount       atomic.Uint64
	TotalBlocks     atomic.Uint64
	TotalWakes      atomic.Uint64
	TotalSteals     atomic.Uint64
}

// CountersSnapshot is a plain copy of Counters safe to serialise.
type CountersSnapshot struct {
	TotalScheduled  uint64 `json:"totalScheduled"`
	TotalYields     uint64 `json:"totalYields"`
	TotalMigrations uint64 `json:"totalMigrations"`
	IdleCount       uint64 `json:"idleCount"`
	TotalBlocks     uint64 `json:"totalBlocks"`
	TotalWakes      uint64 `json:"totalWakes"`
	TotalSteals     uint64 `json:"totalSteals"`
}

// Snapshot returns a point-in-time copy of the counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		TotalScheduled:  c.TotalScheduled.Load(),
		TotalYields:     c.TotalYields.Load(),
		TotalMigrations: c.TotalMigrations.Load(),
		IdleCount:       c.IdleCount.Load(),
		TotalBlocks:     c.TotalBlocks.Load(),
		TotalWakes:      c.TotalWakes.Load(),
		TotalSteals:     c.TotalSteals.Load(),
	}
}

// runQueue is one priority level: a lock-free ring for the hot path plus a
// linked overflow list for bursts beyond the ring capacity.  The overflow
// list is only touched under the state lock.
type runQueue struct {
	ring     *Deque
	overflow process.Queue
}

// State is the per-core scheduler: four priority run queues, three waiting
// queues, the current-process slot, the reduction budget mirror and the
// statistics counters.  States are owned by the top-level runtime as an
// explicit slice indexed by core id; every operation takes the state handle,
// there is no hidden global.
type State struct {
	coreID   uint32
	dequeCap int

	runq [process.PriorityCount]runQueue

	mu    sync.Mutex
	waitq [WaitClassCount]process.Queue

	current           atomic.Pointer[process.Process]
	currentReductions atomic.Int32

	Counters Counters
}

// NewStates allocates and initialises one scheduler state per core, in
// increasing core id order, matching the boot contract.
func NewStates(cores int, dequeCapacity int) ([]*State, error) {
	if cores <= 0 || cores > MaxCores {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidCore, cores, MaxCores)
	}
	states := make([]*State, cores)
	for i := range states {
		s := &State{}
		if err := s.Init(uint32(i), dequeCapacity); err != nil {
			return nil, err
		}
		states[i] = s
	}
	return states, nil
}

// Init zeroes the state for the given core: empty run and waiting queues, no
// current process, a full reduction budget and cleared counters.
func (s *State) Init(coreID uint32, dequeCapacity int) error {
	if coreID >= MaxCores {
		return fmt.Errorf("%w: %d", ErrInvalidCore, coreID)
	}
	if dequeCapacity <= 0 {
		dequeCapacity = DefaultDequeCapacity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coreID = coreID
	s.dequeCap = dequeCapacity
	for i := range s.runq {
		s.runq[i].ring = NewDeque(dequeCapacity)
		s.runq[i].overflow = process.Queue{}
	}
	for i := range s.waitq {
		s.waitq[i] = process.Queue{}
	}
	s.current.Store(nil)
	s.currentReductions.Store(process.DefaultReductions)
	s.Counters = Counters{}
	return nil
}

// CoreID returns the core this state belongs to.
func (s *State) CoreID() uint32 { return s.coreID }

// Enqueue marks the process ready and appends it to the tail of the given
// priority queue.  Invalid input is rejected before any mutation.  The
// caller must be the owning core or hold exclusive ownership of the process
// (a thief re-enqueueing a freshly stolen process).
func (s *State) Enqueue(p *process.Process, priority process.Priority) error {
	if p == nil {
		return ErrNilProcess
	}
	if !priority.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, priority)
	}
	if p.State() != process.StateReady {
		if err := p.MarkReady(); err != nil {
			return err
		}
	}
	q := &s.runq[priority]
	s.mu.Lock()
	defer s.mu.Unlock()
	// Keep FIFO order between the ring and the overflow list: once anything
	// sits in overflow, younger processes must queue behind it.
	if q.overflow.Empty() && q.ring.PushBottom(p) {
		return nil
	}
	return q.overflow.Push(p)
}

// Schedule scans the priority levels Max to Low and dispatches the head of
// the first non-empty queue: the process becomes the current process with a
// full reduction budget.  Returns nil when every run queue is empty; the
// caller should then idle and attempt a steal.
func (s *State) Schedule() *process.Process {
	for prio := 0; prio < process.PriorityCount; prio++ {
		for {
			p := s.take(&s.runq[prio])
			if p == nil {
				break
			}
			if err := p.MarkRunning(); err != nil {
				// A process that cannot run (terminated under us, or state
				// corruption) is skipped, never retried indefinitely.
				log.Printf("scheduler: core %d dropping undispatchable pid %d: %v", s.coreID, p.PID(), err)
				continue
			}
			p.ResetReductions()
			s.current.Store(p)
			s.currentReductions.Store(process.DefaultReductions)
			s.Counters.TotalScheduled.Add(1)
			return p
		}
	}
	return nil
}

// take pops one process from a priority level in FIFO order, replenishing
// the ring from the overflow list.
func (s *State) take(q *runQueue) *process.Process {
	if p := q.ring.Take(); p != nil {
		s.refill(q)
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.overflow.Corrupted() {
		log.Printf("scheduler: core %d run queue corrupted (count>0, nil head); resetting", s.coreID)
		q.overflow.Reset()
		return nil
	}
	return q.overflow.Pop()
}

func (s *State) refill(q *runQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !q.overflow.Empty() {
		head := q.overflow.Peek()
		// Detach before offering to the ring; a process must never be
		// reachable from two queues at once.
		q.overflow.Remove(head)
		if !q.ring.PushBottom(head) {
			// Ring filled up again; put the head back in front.
			rest := q.overflow
			q.overflow = process.Queue{}
			_ = q.overflow.Push(head)
			for !rest.Empty() {
				_ = q.overflow.Push(rest.Pop())
			}
			return
		}
	}
}

// Steal removes the oldest process from the highest non-empty priority ring,
// mirroring Schedule's scan order.  It is the thief-side entry point and
// only touches the lock-free top end.  Overflow lists are invisible to
// thieves: refilling a ring writes its bottom end, which belongs to the
// owning core alone, so under overload a steal may return a lower-priority
// ring entry while a higher level still has overflow backlog.  The backlog
// drains through the owner's own dispatch.
func (s *State) Steal() (*process.Process, process.Priority, bool) {
	for prio := 0; prio < process.PriorityCount; prio++ {
		if p := s.runq[prio].ring.PopTop(); p != nil {
			return p, process.Priority(prio), true
		}
	}
	return nil, 0, false
}

// PeekSteal returns the process a Steal call would currently take, without
// removing it.  Speculative by nature; the balancer re-checks after the
// actual steal when another thief raced it.
func (s *State) PeekSteal() (*process.Process, process.Priority, bool) {
	for prio := 0; prio < process.PriorityCount; prio++ {
		if p := s.runq[prio].ring.PeekTop(); p != nil {
			return p, process.Priority(prio), true
		}
	}
	return nil, 0, false
}

// Idle records an empty scheduling cycle.  Work stealing is delegated to the
// balancer by the scheduling loop.
func (s *State) Idle() {
	s.Counters.IdleCount.Add(1)
}

// Current returns the process currently running on this core, or nil.
func (s *State) Current() *process.Process {
	return s.current.Load()
}

// CurrentReductions returns the remaining budget of the current dispatch.
func (s *State) CurrentReductions() int32 {
	return s.currentReductions.Load()
}

// DecrementReductions charges one reduction against the current process and
// returns the remaining budget, floored at zero.  Observing zero is the
// cooperative-preemption signal: the caller re-enqueues and reschedules.
func (s *State) DecrementReductions() int32 {
	p := s.current.Load()
	if p == nil {
		return 0
	}
	rem := p.DecrementReduction()
	s.currentReductions.Store(rem)
	return rem
}

// Yield moves the current process back to the tail of its priority queue.
func (s *State) Yield() error {
	p := s.current.Load()
	if p == nil {
		return ErrNotRunning
	}
	s.current.Store(nil)
	s.Counters.TotalYields.Add(1)
	return s.Enqueue(p, p.Priority())
}

// Block parks the current process on one of the waiting queues.  The
// blocking collaborator is responsible for waking it later.
func (s *State) Block(class WaitClass) error {
	if class >= WaitClassCount {
		return fmt.Errorf("scheduler: invalid wait class %d", class)
	}
	p := s.current.Load()
	if p == nil {
		return ErrNotRunning
	}
	if err := p.MarkWaiting(); err != nil {
		return err
	}
	s.current.Store(nil)
	s.Counters.TotalBlocks.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitq[class].Push(p)
}

// Finish clears the current-process slot after the process terminated.
func (s *State) Finish() *process.Process {
	p := s.current.Load()
	s.current.Store(nil)
	return p
}

// RemoveWaiting unlinks a process from whichever waiting queue holds it and
// reports whether it was found.  Safe to call from the waking collaborator's
// goroutine.
func (s *State) RemoveWaiting(p *process.Process) bool {
	if p == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.waitq {
		if s.waitq[i].Corrupted() {
			log.Printf("scheduler: core %d waiting queue %d corrupted; resetting", s.coreID, i)
			s.waitq[i].Reset()
			continue
		}
		if s.waitq[i].Remove(p) {
			s.Counters.TotalWakes.Add(1)
			return true
		}
	}
	return false
}

// RunQueueLen returns the number of ready processes at one priority level.
func (s *State) RunQueueLen(priority process.Priority) int {
	if !priority.Valid() {
		return 0
	}
	q := &s.runq[priority]
	s.mu.Lock()
	n := q.overflow.Len()
	s.mu.Unlock()
	return q.ring.Len() + n
}

// Runnable returns the total ready process count across all levels.
func (s *State) Runnable() int {
	total := 0
	for prio := 0; prio < process.PriorityCount; prio++ {
		total += s.RunQueueLen(process.Priority(prio))
	}
	return total
}

// WaitingLen returns the length of one waiting queue.
func (s *State) WaitingLen(class WaitClass) int {
	if class >= WaitClassCount {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitq[class].Len()
}

// Empty reports whether the core has no ready work.
func (s *State) Empty() bool { return s.Runnable() == 0 }

// Deque exposes one priority ring; the balancer reads its steal statistics.
func (s *State) Deque(priority process.Priority) *Deque {
	if !priority.Valid() {
		return nil
	}
	return s.runq[priority].ring
}
