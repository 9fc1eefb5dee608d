package lwproc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lwproc/lwproc/model/process"
	"github.com/lwproc/lwproc/policy"
	"github.com/lwproc/lwproc/progress"
	"github.com/lwproc/lwproc/service/balancer"
	"github.com/lwproc/lwproc/service/event"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.NotZero(t, config.Cores)
	assert.LessOrEqual(t, config.Cores, 64)
	assert.Equal(t, 1024, config.StackSize)
	assert.Equal(t, 512, config.HeapSize)
	assert.Equal(t, "memory", config.Mailbox.Vendor)
	assert.NoError(t, config.Validate())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(WithCores(100))
	assert.Error(t, err)

	config := DefaultConfig()
	config.Mailbox.Vendor = "kafka"
	_, err = New(WithConfig(config))
	assert.Error(t, err)

	config = DefaultConfig()
	config.StackSize = 0
	_, err = New(WithConfig(config))
	assert.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	svc, err := New(WithCores(2))
	assert.NoError(t, err)
	assert.Equal(t, 2, svc.Config().Cores)
	assert.Equal(t, policy.ModeAuto, svc.Policy().Mode)
	assert.Equal(t, uint32(10), svc.Policy().MaxMigrations)
	assert.NotNil(t, svc.Runtime())
}

func TestSpawnPlacesAndRegisters(t *testing.T) {
	svc, err := New(WithCores(2))
	assert.NoError(t, err)
	rt := svc.Runtime()

	p, err := rt.Spawn(context.Background(), func(*process.Process) process.Outcome { return process.Done }, process.PriorityNormal)
	assert.NoError(t, err)
	assert.Equal(t, process.StateReady, p.State())
	assert.NotNil(t, p.Mailbox())

	found, err := rt.Process(p.PID())
	assert.NoError(t, err)
	assert.Same(t, p, found)
	assert.Equal(t, 1, rt.State(p.SchedulerID()).Runnable())
}

func TestRunToCompletion(t *testing.T) {
	svc, err := New(WithCores(2))
	assert.NoError(t, err)
	rt := svc.Runtime()
	assert.NoError(t, rt.Start(context.Background()))
	defer shutdown(t, rt)

	const procs = 16
	var done atomic.Int32
	for i := 0; i < procs; i++ {
		steps := 0
		_, err := rt.Spawn(context.Background(), func(*process.Process) process.Outcome {
			steps++
			if steps < 5 {
				return process.Continue
			}
			done.Add(1)
			return process.Done
		}, process.PriorityNormal)
		assert.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return done.Load() == procs }, 2*time.Second, time.Millisecond)
	assert.Eventually(t, func() bool {
		return rt.Tracker().Snapshot().ExitedProcesses == procs
	}, 2*time.Second, time.Millisecond)
	assert.Empty(t, rt.Processes())
}

func TestReductionExhaustionPreempts(t *testing.T) {
	svc, err := New(WithCores(1))
	assert.NoError(t, err)
	rt := svc.Runtime()
	assert.NoError(t, rt.Start(context.Background()))
	defer shutdown(t, rt)

	// Needs more than two full budgets, so at least two preemptions happen.
	const total = 2*process.DefaultReductions + 100
	var exited atomic.Bool
	steps := 0
	_, err = rt.Spawn(context.Background(), func(*process.Process) process.Outcome {
		steps++
		if steps < total {
			return process.Continue
		}
		exited.Store(true)
		return process.Done
	}, process.PriorityNormal)
	assert.NoError(t, err)

	assert.Eventually(t, func() bool { return exited.Load() }, 2*time.Second, time.Millisecond)
	snap := rt.Tracker().Snapshot()
	assert.GreaterOrEqual(t, snap.Yields, 2)
	assert.GreaterOrEqual(t, snap.ScheduledProcesses, 3)
}

func TestSendWakesBlockedReceiver(t *testing.T) {
	svc, err := New(WithCores(2))
	assert.NoError(t, err)
	rt := svc.Runtime()
	assert.NoError(t, rt.Start(context.Background()))
	defer shutdown(t, rt)

	var payload atomic.Value
	receiver, err := rt.Spawn(context.Background(), func(p *process.Process) process.Outcome {
		msg, err := rt.Receive(context.Background(), p.PID())
		if err != nil || msg == nil {
			return process.BlockReceive
		}
		payload.Store(msg.Envelope().Payload)
		_ = msg.Ack()
		return process.Done
	}, process.PriorityNormal)
	assert.NoError(t, err)

	// Let the receiver park on its empty mailbox first.
	assert.Eventually(t, func() bool {
		return receiver.State() == process.StateWaiting
	}, 2*time.Second, time.Millisecond)

	assert.NoError(t, rt.Send(context.Background(), 0, receiver.PID(), "hello"))
	assert.Eventually(t, func() bool { return payload.Load() != nil }, 2*time.Second, time.Millisecond)
	assert.Equal(t, "hello", payload.Load())
	assert.GreaterOrEqual(t, rt.Tracker().Snapshot().Wakes, 1)
}

func TestBlockTimerWakesAfterDeadline(t *testing.T) {
	svc, err := New(WithCores(1))
	assert.NoError(t, err)
	rt := svc.Runtime()
	assert.NoError(t, rt.Start(context.Background()))
	defer shutdown(t, rt)

	var woke atomic.Bool
	slept := false
	_, err = rt.Spawn(context.Background(), func(p *process.Process) process.Outcome {
		if !slept {
			slept = true
			p.SetWakeAfter(2 * time.Millisecond)
			return process.BlockTimer
		}
		woke.Store(true)
		return process.Done
	}, process.PriorityNormal)
	assert.NoError(t, err)

	assert.Eventually(t, func() bool { return woke.Load() }, 2*time.Second, time.Millisecond)
	snap := rt.Tracker().Snapshot()
	assert.GreaterOrEqual(t, snap.Blocks, 1)
	assert.GreaterOrEqual(t, snap.Wakes, 1)
}

func TestSuspendResume(t *testing.T) {
	svc, err := New(WithCores(1))
	assert.NoError(t, err)
	rt := svc.Runtime()

	p, err := rt.Spawn(context.Background(), func(*process.Process) process.Outcome { return process.Done }, process.PriorityNormal)
	assert.NoError(t, err)

	assert.NoError(t, rt.Suspend(p.PID()))
	assert.Equal(t, process.StateSuspended, p.State())

	// The stale queue entry left behind by Suspend is skipped at dispatch.
	assert.Nil(t, rt.State(p.SchedulerID()).Schedule())

	assert.NoError(t, rt.Resume(p.PID()))
	assert.Equal(t, process.StateReady, p.State())
	assert.Same(t, p, rt.State(p.SchedulerID()).Schedule())

	assert.Error(t, rt.Resume(p.PID()), "resume of a non-suspended process fails")
}

func TestKillReleasesProcess(t *testing.T) {
	svc, err := New(WithCores(1))
	assert.NoError(t, err)
	rt := svc.Runtime()

	p, err := rt.Spawn(context.Background(), func(*process.Process) process.Outcome { return process.Done }, process.PriorityNormal)
	assert.NoError(t, err)

	assert.NoError(t, rt.Kill(p.PID()))
	assert.Equal(t, process.StateTerminated, p.State())
	_, err = rt.Process(p.PID())
	assert.Error(t, err)
	assert.Equal(t, 1, rt.Tracker().Snapshot().ExitedProcesses)

	assert.Error(t, rt.Kill(p.PID()), "kill of an unknown pid fails")
}

func TestKillReleasesMailbox(t *testing.T) {
	svc, err := New(WithCores(1))
	assert.NoError(t, err)
	rt := svc.Runtime()
	ctx := context.Background()

	p, err := rt.Spawn(ctx, func(*process.Process) process.Outcome { return process.Done }, process.PriorityNormal)
	assert.NoError(t, err)
	assert.NoError(t, rt.Send(ctx, 0, p.PID(), "undelivered"))

	queue, err := rt.mailboxes.QueueFor(ctx, p.PID())
	assert.NoError(t, err)
	assert.Equal(t, 1, queue.Size())

	assert.NoError(t, rt.Kill(p.PID()))

	// Pids are never reused, so a retained queue would leak for the life of
	// the runtime; the provider must hand out a fresh empty one instead.
	fresh, err := rt.mailboxes.QueueFor(ctx, p.PID())
	assert.NoError(t, err)
	assert.NotSame(t, queue, fresh)
	assert.Equal(t, 0, fresh.Size(), "undelivered messages discarded with the queue")
}

func TestRetireReleasesMailbox(t *testing.T) {
	svc, err := New(WithCores(1))
	assert.NoError(t, err)
	rt := svc.Runtime()
	assert.NoError(t, rt.Start(context.Background()))
	defer shutdown(t, rt)

	p, err := rt.Spawn(context.Background(), func(*process.Process) process.Outcome { return process.Done }, process.PriorityNormal)
	assert.NoError(t, err)
	queue := p.Mailbox()

	assert.Eventually(t, func() bool {
		return rt.Tracker().Snapshot().ExitedProcesses == 1
	}, 2*time.Second, time.Millisecond)

	fresh, err := rt.mailboxes.QueueFor(context.Background(), p.PID())
	assert.NoError(t, err)
	assert.NotSame(t, queue, fresh, "terminated process's queue released")
}

// The end-to-end steal scenario: four cores, one Low process queued on one
// core, everything else idle; an idle core's steal attempt picks the loaded
// core by weighted load, moves the process and dispatches it locally with its
// migration count incremented.
func TestIdleCoreStealsFromLoadedCore(t *testing.T) {
	svc, err := New(WithCores(4), WithStealStrategy(balancer.LoadBased{}))
	assert.NoError(t, err)
	rt := svc.Runtime()

	p, err := process.New(func(*process.Process) process.Outcome { return process.Done }, process.PriorityLow, 0, rt.registry.PIDs())
	assert.NoError(t, err)
	assert.NoError(t, rt.registry.Register(p))
	assert.NoError(t, rt.states[0].Enqueue(p, process.PriorityLow))

	const thief = 1
	assert.Nil(t, rt.states[thief].Schedule())
	rt.states[thief].Idle()

	stolen, err := rt.balancer.TrySteal(thief)
	assert.NoError(t, err)
	assert.Same(t, p, stolen)
	assert.Equal(t, uint32(thief), stolen.SchedulerID())
	assert.Equal(t, uint32(1), stolen.Migrations())

	assert.NoError(t, rt.states[thief].Enqueue(stolen, stolen.Priority()))
	assert.Same(t, p, rt.states[thief].Schedule())

	assert.Equal(t, uint64(1), rt.states[0].Counters.TotalMigrations.Load())
	assert.Equal(t, uint64(1), rt.states[thief].Counters.TotalMigrations.Load())
	assert.Equal(t, uint64(1), rt.states[thief].Counters.TotalSteals.Load())
}

func TestAffinityPinsPlacement(t *testing.T) {
	svc, err := New(WithCores(4))
	assert.NoError(t, err)
	rt := svc.Runtime()

	for i := 0; i < 4; i++ {
		p, err := rt.Spawn(context.Background(), func(*process.Process) process.Outcome { return process.Done },
			process.PriorityNormal, process.WithAffinity(1<<2))
		assert.NoError(t, err)
		assert.Equal(t, uint32(2), p.SchedulerID())
	}
	assert.Equal(t, 4, rt.State(2).Runnable())
}

func TestSpawnRejectsUnsatisfiableAffinity(t *testing.T) {
	svc, err := New(WithCores(4))
	assert.NoError(t, err)
	rt := svc.Runtime()

	// Only core 10 allowed on a 4-core runtime; placement must fail rather
	// than fall back to a disallowed core.
	p, err := rt.Spawn(context.Background(), func(*process.Process) process.Outcome { return process.Done },
		process.PriorityNormal, process.WithAffinity(1<<10))
	assert.Error(t, err)
	assert.Nil(t, p)
	assert.Empty(t, rt.Processes(), "rejected spawn leaves no trace")
	for core := 0; core < 4; core++ {
		assert.Equal(t, 0, rt.State(uint32(core)).Runnable())
	}
}

func TestEventsAndProgressListener(t *testing.T) {
	events := event.New()
	var spawned, exited atomic.Int32
	event.SetListenerOf[event.ProcessInfo](events, func(e *event.Event[event.ProcessInfo]) {
		switch e.Context.EventType {
		case event.TypeSpawned:
			spawned.Add(1)
		case event.TypeExited:
			exited.Add(1)
		}
	})

	var updates atomic.Int32
	svc, err := New(
		WithCores(1),
		WithEventService(events),
		WithProgressListener(func(progress.Progress) { updates.Add(1) }),
	)
	assert.NoError(t, err)
	rt := svc.Runtime()

	p, err := rt.Spawn(context.Background(), func(*process.Process) process.Outcome { return process.Done }, process.PriorityNormal)
	assert.NoError(t, err)
	assert.NoError(t, rt.Kill(p.PID()))

	assert.Eventually(t, func() bool { return spawned.Load() == 1 && exited.Load() == 1 }, 2*time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, updates.Load(), int32(2))
}

func TestStats(t *testing.T) {
	svc, err := New(WithCores(2))
	assert.NoError(t, err)
	rt := svc.Runtime()

	_, err = rt.Spawn(context.Background(), func(*process.Process) process.Outcome { return process.Done }, process.PriorityHigh)
	assert.NoError(t, err)

	stats := rt.Stats()
	assert.Len(t, stats.Cores, 2)
	assert.Equal(t, 1, stats.Progress.SpawnedProcesses)
	total := 0
	for i, core := range stats.Cores {
		assert.Equal(t, uint32(i), core.CoreID)
		total += core.Runnable
	}
	assert.Equal(t, 1, total)
}

func TestShutdownStopsLoops(t *testing.T) {
	svc, err := New(WithCores(2))
	assert.NoError(t, err)
	rt := svc.Runtime()
	assert.NoError(t, rt.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, rt.Shutdown(ctx))
	assert.NoError(t, rt.Shutdown(ctx), "second shutdown is a no-op")
}

func TestRuntimeIsSingleUse(t *testing.T) {
	svc, err := New(WithCores(1))
	assert.NoError(t, err)
	rt := svc.Runtime()

	ctx := context.Background()
	assert.NoError(t, rt.Start(ctx))
	assert.NoError(t, rt.Start(ctx), "start while running is a no-op")

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	assert.NoError(t, rt.Shutdown(shutdownCtx))

	assert.ErrorIs(t, rt.Start(ctx), ErrRuntimeStopped, "shutdown channels cannot be re-armed")
}

func shutdown(t *testing.T, rt *Runtime) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, rt.Shutdown(ctx))
}
