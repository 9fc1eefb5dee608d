package lwproc

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lwproc/lwproc/internal/idgen"
	"github.com/lwproc/lwproc/model/process"
	"github.com/lwproc/lwproc/progress"
	"github.com/lwproc/lwproc/service/balancer"
	"github.com/lwproc/lwproc/service/event"
	"github.com/lwproc/lwproc/service/executor"
	"github.com/lwproc/lwproc/service/mailbox"
	"github.com/lwproc/lwproc/service/registry"
	"github.com/lwproc/lwproc/service/scheduler"
	"github.com/lwproc/lwproc/service/timer"
	"github.com/lwproc/lwproc/tracing"
)

// Runtime drives the per-core scheduling loops over the assembled
// collaborators.  One goroutine runs per configured core; the balancer and
// the timer service run their own background loops.
type Runtime struct {
	config    *Config
	registry  *registry.Service
	states    []*scheduler.State
	balancer  *balancer.Service
	executor  executor.Service
	mailboxes mailbox.Provider
	timers    *timer.Service
	events    *event.Service
	tracker   *progress.Progress

	idleWait time.Duration
	notify   []chan struct{}
	nextCore atomic.Uint32

	wg         sync.WaitGroup
	shutdownCh chan struct{}
	cancel     context.CancelFunc
	started    atomic.Bool
	stopped    atomic.Bool
}

// ErrRuntimeStopped is returned by Start after Shutdown; a runtime cannot be
// restarted.
var ErrRuntimeStopped = fmt.Errorf("runtime already shut down")

func (r *Runtime) initNotify() {
	r.notify = make([]chan struct{}, len(r.states))
	for i := range r.notify {
		r.notify[i] = make(chan struct{}, 1)
	}
	r.shutdownCh = make(chan struct{})
}

// Spawn creates a process, assigns it a mailbox, registers it and enqueues
// it on the least loaded core its affinity permits.
func (r *Runtime) Spawn(ctx context.Context, entry process.Entry, priority process.Priority, opts ...process.Option) (*process.Process, error) {
	defaults := []process.Option{
		process.WithStackSize(r.config.StackSize),
		process.WithHeapSize(r.config.HeapSize),
	}
	p, err := process.New(entry, priority, 0, r.registry.PIDs(), append(defaults, opts...)...)
	if err != nil {
		return nil, err
	}
	core, err := r.placeCore(p)
	if err != nil {
		_ = p.Release()
		return nil, err
	}
	p.SetSchedulerID(core)

	queue, err := r.mailboxes.QueueFor(ctx, p.PID())
	if err != nil {
		return nil, fmt.Errorf("failed to create mailbox for pid %d: %w", p.PID(), err)
	}
	p.SetMailbox(queue)

	if err := r.registry.Register(p); err != nil {
		return nil, err
	}
	if err := r.states[core].Enqueue(p, priority); err != nil {
		_ = r.registry.Remove(p.PID())
		return nil, err
	}
	r.tracker.Update(progress.Delta{Spawned: 1})
	r.publish(ctx, event.TypeSpawned, p)
	r.kick(core)
	return p, nil
}

// publish emits a lifecycle event when an event bus is installed.
func (r *Runtime) publish(ctx context.Context, eventType string, p *process.Process) {
	if r.events == nil {
		return
	}
	event.Publish(ctx, r.events, eventType, uint64(p.PID()), p.SchedulerID(), event.ProcessInfo{
		PID:      uint64(p.PID()),
		Priority: p.Priority().String(),
		State:    p.State().String(),
		CoreID:   p.SchedulerID(),
	})
}

// placeCore picks the allowed core with the smallest weighted load, breaking
// ties round-robin so cold starts spread out.  An affinity mask that matches
// no configured core rejects the placement instead of ignoring the mask.
func (r *Runtime) placeCore(p *process.Process) (uint32, error) {
	n := uint32(len(r.states))
	start := r.nextCore.Add(1) % n
	best := start
	bestLoad := -1
	for i := uint32(0); i < n; i++ {
		core := (start + i) % n
		if !p.AllowedOn(core) {
			continue
		}
		load := r.balancer.Load(core)
		if bestLoad < 0 || load < bestLoad {
			best, bestLoad = core, load
		}
	}
	if bestLoad < 0 {
		return 0, fmt.Errorf("affinity mask %#x matches none of the %d configured cores", p.Affinity(), n)
	}
	return best, nil
}

// Kill terminates a process regardless of its current state, removes it from
// the registry and releases its memory.
func (r *Runtime) Kill(pid process.PID) error {
	p, err := r.registry.Lookup(pid)
	if err != nil {
		return err
	}
	p.MarkTerminated()
	r.timers.Cancel(pid)
	// A waiting process sits on its home core's wait queue; unlink it so the
	// queue does not accumulate dead entries.  A queued runnable process is
	// discarded lazily at dispatch.
	if home := p.SchedulerID(); int(home) < len(r.states) {
		r.states[home].RemoveWaiting(p)
	}
	_ = r.registry.Remove(pid)
	r.releaseMailbox(pid)
	if err := p.Release(); err != nil {
		return err
	}
	r.tracker.Update(progress.Delta{Exited: 1})
	r.publish(context.Background(), event.TypeExited, p)
	return nil
}

// Wake moves a waiting process back to its home run queue.
func (r *Runtime) Wake(pid process.PID) error {
	p, err := r.registry.Lookup(pid)
	if err != nil {
		return err
	}
	home := p.SchedulerID()
	if int(home) >= len(r.states) {
		return scheduler.ErrInvalidCore
	}
	st := r.states[home]
	if !st.RemoveWaiting(p) {
		return nil
	}
	if err := st.Enqueue(p, p.Priority()); err != nil {
		return err
	}
	r.tracker.Update(progress.Delta{Wakes: 1})
	r.publish(context.Background(), event.TypeWoken, p)
	r.kick(home)
	return nil
}

// Suspend takes a ready process out of scheduling until Resume.  Its stale
// run-queue entry is discarded lazily at dispatch.
func (r *Runtime) Suspend(pid process.PID) error {
	p, err := r.registry.Lookup(pid)
	if err != nil {
		return err
	}
	return p.MarkSuspended()
}

// Resume re-enqueues a suspended process on its home core.
func (r *Runtime) Resume(pid process.PID) error {
	p, err := r.registry.Lookup(pid)
	if err != nil {
		return err
	}
	if p.State() != process.StateSuspended {
		return fmt.Errorf("pid %d is %s, not suspended", pid, p.State())
	}
	home := p.SchedulerID()
	if int(home) >= len(r.states) {
		return scheduler.ErrInvalidCore
	}
	if err := r.states[home].Enqueue(p, p.Priority()); err != nil {
		return err
	}
	r.kick(home)
	return nil
}

// Send publishes a message to the target's mailbox and wakes the target when
// it is blocked on receive.
func (r *Runtime) Send(ctx context.Context, from, to process.PID, payload any) error {
	queue, err := r.mailboxes.QueueFor(ctx, to)
	if err != nil {
		return err
	}
	envelope := &mailbox.Envelope{ID: idgen.New(), From: from, To: to, Payload: payload}
	if err := queue.Publish(ctx, envelope); err != nil {
		return err
	}
	if p, err := r.registry.Lookup(to); err == nil && p.State() == process.StateWaiting {
		return r.Wake(to)
	}
	return nil
}

// Receive consumes one message from the pid's mailbox; (nil, nil) means the
// mailbox is empty.
func (r *Runtime) Receive(ctx context.Context, pid process.PID) (mailbox.Message, error) {
	queue, err := r.mailboxes.QueueFor(ctx, pid)
	if err != nil {
		return nil, err
	}
	return queue.Consume(ctx)
}

// Process resolves a pid.
func (r *Runtime) Process(pid process.PID) (*process.Process, error) {
	return r.registry.Lookup(pid)
}

// Processes lists registered processes, optionally filtered by state.
func (r *Runtime) Processes(states ...process.State) []*process.Process {
	return r.registry.List(states...)
}

// Tracker exposes the runtime progress counters.
func (r *Runtime) Tracker() *progress.Progress {
	return r.tracker
}

// State returns one core's scheduler state for inspection.
func (r *Runtime) State(coreID uint32) *scheduler.State {
	if int(coreID) >= len(r.states) {
		return nil
	}
	return r.states[coreID]
}

// Start launches one scheduling loop per core plus the balancer and timer
// background loops.  Calling Start on a running runtime is a no-op.  The
// runtime is single-use: the balancer and timer shutdown channels cannot be
// re-armed, so a runtime that has been shut down cannot be started again.
func (r *Runtime) Start(ctx context.Context) error {
	if r.stopped.Load() {
		return ErrRuntimeStopped
	}
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}
	ctx, r.cancel = context.WithCancel(ctx)
	go func() { _ = r.balancer.Start(ctx) }()
	go func() { _ = r.timers.Start(ctx) }()
	for core := range r.states {
		r.wg.Add(1)
		go func(coreID uint32) {
			defer r.wg.Done()
			r.coreLoop(ctx, coreID)
		}(uint32(core))
	}
	return nil
}

// coreLoop is a single core's scheduling loop: dispatch the next ready
// process, execute its quantum, act on the outcome, steal when idle.
func (r *Runtime) coreLoop(ctx context.Context, coreID uint32) {
	st := r.states[coreID]
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.shutdownCh:
			return
		default:
		}

		p := st.Schedule()
		if p == nil {
			st.Idle()
			r.tracker.Update(progress.Delta{IdleSpins: 1})
			if stolen, err := r.balancer.TrySteal(coreID); err == nil && stolen != nil {
				if err := st.Enqueue(stolen, stolen.Priority()); err != nil {
					log.Printf("core %d: enqueue of stolen pid %d failed: %v", coreID, stolen.PID(), err)
					continue
				}
				r.tracker.Update(progress.Delta{Steals: 1})
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-r.shutdownCh:
				return
			case <-r.notify[coreID]:
			case <-time.After(r.idleWait):
			}
			continue
		}

		r.tracker.Update(progress.Delta{Scheduled: 1})
		spanCtx, span := tracing.StartSpan(ctx, "quantum", "INTERNAL")
		outcome, err := r.executor.Run(spanCtx, st, p)
		tracing.EndSpan(span, err)
		if err != nil {
			log.Printf("core %d: quantum of pid %d failed: %v", coreID, p.PID(), err)
			outcome = process.Done
		}
		r.handleOutcome(st, p, outcome)
	}
}

func (r *Runtime) handleOutcome(st *scheduler.State, p *process.Process, outcome process.Outcome) {
	switch outcome {
	case process.Yield:
		if err := st.Yield(); err != nil {
			// Terminated under us (e.g. by Kill); retire it.
			r.retire(st, p)
			return
		}
		r.tracker.Update(progress.Delta{Yields: 1})
	case process.BlockReceive:
		if err := st.Block(scheduler.WaitReceive); err != nil {
			r.retire(st, p)
			return
		}
		r.tracker.Update(progress.Delta{Blocks: 1})
		// A message may have arrived between the entry's check and the park;
		// re-check so the process does not sleep on a non-empty mailbox.
		if queue, ok := p.Mailbox().(mailbox.Queue); ok && queue.Size() > 0 {
			_ = r.Wake(p.PID())
		}
	case process.BlockTimer:
		if err := st.Block(scheduler.WaitTimer); err != nil {
			r.retire(st, p)
			return
		}
		r.tracker.Update(progress.Delta{Blocks: 1})
		d := p.WakeAfter()
		if d <= 0 {
			d = time.Millisecond
		}
		r.timers.ScheduleTimeout(d, p.PID())
	case process.BlockIO:
		if err := st.Block(scheduler.WaitIO); err != nil {
			r.retire(st, p)
			return
		}
		r.tracker.Update(progress.Delta{Blocks: 1})
	default:
		r.retire(st, p)
	}
}

// retire finalises a process after its last quantum.
func (r *Runtime) retire(st *scheduler.State, p *process.Process) {
	if st.Current() == p {
		st.Finish()
	}
	p.MarkTerminated()
	r.timers.Cancel(p.PID())
	_ = r.registry.Remove(p.PID())
	r.releaseMailbox(p.PID())
	if err := p.Release(); err != nil {
		// Already released by a concurrent Kill.
		return
	}
	r.tracker.Update(progress.Delta{Exited: 1})
	r.publish(context.Background(), event.TypeExited, p)
}

// releaseMailbox discards a terminated pid's queue.  Pids are never reused,
// so a retained queue would live for the rest of the runtime.
func (r *Runtime) releaseMailbox(pid process.PID) {
	if err := r.mailboxes.Release(context.Background(), pid); err != nil {
		log.Printf("failed to release mailbox of pid %d: %v", pid, err)
	}
}

// kick nudges a parked core loop.
func (r *Runtime) kick(coreID uint32) {
	if int(coreID) >= len(r.notify) {
		return
	}
	select {
	case r.notify[coreID] <- struct{}{}:
	default:
	}
}

// Shutdown stops the scheduling loops and background services and waits for
// them to drain, bounded by the supplied context.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if !r.started.CompareAndSwap(true, false) {
		return nil
	}
	r.stopped.Store(true)
	r.cancel()
	close(r.shutdownCh)
	r.balancer.Shutdown()
	r.timers.Shutdown()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CoreStats is a point-in-time view of one core.
type CoreStats struct {
	CoreID   uint32                     `json:"coreId"`
	Runnable int                        `json:"runnable"`
	Counters scheduler.CountersSnapshot `json:"counters"`
}

// Stats aggregates per-core counters and the runtime progress tracker.
type Stats struct {
	Cores    []CoreStats       `json:"cores"`
	Progress progress.Progress `json:"progress"`
}

// Stats returns a snapshot of every core plus the aggregated counters.
func (r *Runtime) Stats() Stats {
	out := Stats{Cores: make([]CoreStats, len(r.states)), Progress: r.tracker.Snapshot()}
	for i, st := range r.states {
		out.Cores[i] = CoreStats{
			CoreID:   st.CoreID(),
			Runnable: st.Runnable(),
			Counters: st.Counters.Snapshot(),
		}
	}
	return out
}
