package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lwproc/lwproc/model/process"
)

func newState(t *testing.T) *State {
	t.Helper()
	states, err := NewStates(1, 8)
	assert.NoError(t, err)
	return states[0]
}

func spawnInto(t *testing.T, s *State, pids *process.PIDCounter, priority process.Priority, n int) []*process.Process {
	t.Helper()
	out := make([]*process.Process, n)
	for i := range out {
		p, err := process.New(func(*process.Process) process.Outcome { return process.Done }, priority, s.CoreID(), pids)
		assert.NoError(t, err)
		assert.NoError(t, s.Enqueue(p, priority))
		out[i] = p
	}
	return out
}

func TestNewStates(t *testing.T) {
	states, err := NewStates(4, 0)
	assert.NoError(t, err)
	assert.Len(t, states, 4)
	for i, s := range states {
		assert.Equal(t, uint32(i), s.CoreID())
		assert.True(t, s.Empty())
		assert.Nil(t, s.Current())
		assert.Equal(t, int32(process.DefaultReductions), s.CurrentReductions())
	}

	_, err = NewStates(0, 0)
	assert.ErrorIs(t, err, ErrInvalidCore)
	_, err = NewStates(MaxCores+1, 0)
	assert.ErrorIs(t, err, ErrInvalidCore)
}

func TestEnqueueValidation(t *testing.T) {
	s := newState(t)
	var pids process.PIDCounter

	assert.ErrorIs(t, s.Enqueue(nil, process.PriorityNormal), ErrNilProcess)

	p, _ := process.New(func(*process.Process) process.Outcome { return process.Done }, process.PriorityNormal, 0, &pids)
	assert.ErrorIs(t, s.Enqueue(p, process.Priority(7)), ErrInvalidPriority)
	assert.Equal(t, 0, s.Runnable(), "rejected enqueue leaves no trace")

	assert.NoError(t, s.Enqueue(p, process.PriorityNormal))
	assert.Equal(t, process.StateReady, p.State())
	assert.Equal(t, 1, s.RunQueueLen(process.PriorityNormal))
}

func TestSchedulePriorityOrder(t *testing.T) {
	s := newState(t)
	var pids process.PIDCounter

	low := spawnInto(t, s, &pids, process.PriorityLow, 1)
	normal := spawnInto(t, s, &pids, process.PriorityNormal, 1)
	max := spawnInto(t, s, &pids, process.PriorityMax, 1)
	high := spawnInto(t, s, &pids, process.PriorityHigh, 1)

	// A lower priority process is never dispatched while a higher priority
	// queue is non-empty.
	for _, want := range []*process.Process{max[0], high[0], normal[0], low[0]} {
		got := s.Schedule()
		assert.Equal(t, want, got)
		assert.Equal(t, process.StateRunning, got.State())
		s.Finish()
	}
	assert.Nil(t, s.Schedule())
	assert.Equal(t, uint64(4), s.Counters.TotalScheduled.Load())
}

func TestScheduleFIFOWithinPriority(t *testing.T) {
	s := newState(t)
	var pids process.PIDCounter
	procs := spawnInto(t, s, &pids, process.PriorityNormal, 5)

	for _, want := range procs {
		assert.Equal(t, want, s.Schedule(), "same-priority processes dispatch in arrival order")
		s.Finish()
	}
}

func TestScheduleSetsBudget(t *testing.T) {
	s := newState(t)
	var pids process.PIDCounter
	p := spawnInto(t, s, &pids, process.PriorityNormal, 1)[0]
	p.SetReductions(7)

	got := s.Schedule()
	assert.Equal(t, p, got)
	assert.Equal(t, got, s.Current())
	assert.Equal(t, int32(process.DefaultReductions), got.Reductions(), "dispatch restores the full budget")
	assert.Equal(t, int32(process.DefaultReductions), s.CurrentReductions())
}

func TestOverflowKeepsFIFO(t *testing.T) {
	// Ring capacity 8: enqueue well past it and verify order survives the
	// overflow list round-trip.
	s := newState(t)
	var pids process.PIDCounter
	procs := spawnInto(t, s, &pids, process.PriorityNormal, 30)
	assert.Equal(t, 30, s.RunQueueLen(process.PriorityNormal))

	for _, want := range procs {
		assert.Equal(t, want, s.Schedule())
		s.Finish()
	}
	assert.True(t, s.Empty())
}

func TestDecrementReductions(t *testing.T) {
	s := newState(t)
	var pids process.PIDCounter
	p := spawnInto(t, s, &pids, process.PriorityNormal, 1)[0]
	assert.Equal(t, p, s.Schedule())

	p.SetReductions(2)
	assert.Equal(t, int32(1), s.DecrementReductions())
	assert.Equal(t, int32(0), s.DecrementReductions())
	assert.Equal(t, int32(0), s.DecrementReductions(), "floored at zero")
}

func TestYield(t *testing.T) {
	s := newState(t)
	var pids process.PIDCounter

	assert.ErrorIs(t, s.Yield(), ErrNotRunning)

	procs := spawnInto(t, s, &pids, process.PriorityNormal, 2)
	assert.Equal(t, procs[0], s.Schedule())
	assert.NoError(t, s.Yield())
	assert.Nil(t, s.Current())
	assert.Equal(t, process.StateReady, procs[0].State())

	// The yielder re-enters at the tail of its level.
	assert.Equal(t, procs[1], s.Schedule())
	s.Finish()
	assert.Equal(t, procs[0], s.Schedule())
	assert.Equal(t, uint64(1), s.Counters.TotalYields.Load())
}

func TestBlockAndWake(t *testing.T) {
	s := newState(t)
	var pids process.PIDCounter
	p := spawnInto(t, s, &pids, process.PriorityNormal, 1)[0]
	assert.Equal(t, p, s.Schedule())

	assert.Error(t, s.Block(WaitClass(9)), "invalid wait class")
	assert.NoError(t, s.Block(WaitReceive))
	assert.Equal(t, process.StateWaiting, p.State())
	assert.Nil(t, s.Current())
	assert.Equal(t, 1, s.WaitingLen(WaitReceive))
	assert.Equal(t, uint64(1), s.Counters.TotalBlocks.Load())

	assert.True(t, s.RemoveWaiting(p))
	assert.Equal(t, 0, s.WaitingLen(WaitReceive))
	assert.Equal(t, uint64(1), s.Counters.TotalWakes.Load())
	assert.False(t, s.RemoveWaiting(p), "second wake finds nothing")

	assert.NoError(t, s.Enqueue(p, p.Priority()))
	assert.Equal(t, p, s.Schedule())
}

func TestScheduleSkipsTerminated(t *testing.T) {
	s := newState(t)
	var pids process.PIDCounter
	procs := spawnInto(t, s, &pids, process.PriorityNormal, 2)

	procs[0].MarkTerminated()
	assert.Equal(t, procs[1], s.Schedule(), "terminated head is dropped, not dispatched")
}

func TestStealTakesHighestPriority(t *testing.T) {
	s := newState(t)
	var pids process.PIDCounter
	spawnInto(t, s, &pids, process.PriorityLow, 1)
	high := spawnInto(t, s, &pids, process.PriorityHigh, 1)

	peeked, prio, ok := s.PeekSteal()
	assert.True(t, ok)
	assert.Equal(t, high[0], peeked)
	assert.Equal(t, process.PriorityHigh, prio)

	stolen, prio, ok := s.Steal()
	assert.True(t, ok)
	assert.Equal(t, high[0], stolen)
	assert.Equal(t, process.PriorityHigh, prio)
	assert.Equal(t, 1, s.Runnable())

	_, _, ok = s.PeekSteal()
	assert.True(t, ok, "low priority process still stealable")
}

func TestStealSkipsOverflow(t *testing.T) {
	s := newState(t)
	var pids process.PIDCounter

	// Ring capacity is 8; two High processes land on the overflow list.
	high := spawnInto(t, s, &pids, process.PriorityHigh, 10)
	low := spawnInto(t, s, &pids, process.PriorityLow, 1)

	for i := 0; i < 8; i++ {
		stolen, prio, ok := s.Steal()
		assert.True(t, ok)
		assert.Equal(t, process.PriorityHigh, prio)
		assert.Equal(t, high[i], stolen)
	}

	// Thieves only see the rings: with the High ring drained, the steal falls
	// through to the Low entry even though High overflow still holds work.
	stolen, prio, ok := s.Steal()
	assert.True(t, ok)
	assert.Equal(t, process.PriorityLow, prio)
	assert.Equal(t, low[0], stolen)

	_, _, ok = s.Steal()
	assert.False(t, ok, "overflow backlog is not stealable")

	// The backlog stays reachable through the owner's dispatch, in order.
	assert.Equal(t, high[8], s.Schedule())
	s.Finish()
	assert.Equal(t, high[9], s.Schedule())
}

func TestStealEmpty(t *testing.T) {
	s := newState(t)
	_, _, ok := s.Steal()
	assert.False(t, ok)
	_, _, ok = s.PeekSteal()
	assert.False(t, ok)
}

func TestIdleCounter(t *testing.T) {
	s := newState(t)
	s.Idle()
	s.Idle()
	assert.Equal(t, uint64(2), s.Counters.IdleCount.Load())
}

func TestCountersSnapshot(t *testing.T) {
	s := newState(t)
	var pids process.PIDCounter
	spawnInto(t, s, &pids, process.PriorityNormal, 1)
	assert.NotNil(t, s.Schedule())
	assert.NoError(t, s.Yield())
	s.Idle()

	snap := s.Counters.Snapshot()
	assert.Equal(t, uint64(1), snap.TotalScheduled)
	assert.Equal(t, uint64(1), snap.TotalYields)
	assert.Equal(t, uint64(1), snap.IdleCount)
	assert.Equal(t, uint64(0), snap.TotalMigrations)
}

func TestInitResets(t *testing.T) {
	s := newState(t)
	var pids process.PIDCounter
	spawnInto(t, s, &pids, process.PriorityNormal, 3)
	assert.NotNil(t, s.Schedule())

	assert.NoError(t, s.Init(0, 8))
	assert.True(t, s.Empty())
	assert.Nil(t, s.Current())
	assert.Equal(t, uint64(0), s.Counters.TotalScheduled.Load())

	assert.Error(t, s.Init(MaxCores, 8))
}
