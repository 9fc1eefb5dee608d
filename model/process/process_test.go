package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func noop(p *Process) Outcome { return Done }

func TestNew(t *testing.T) {
	var pids PIDCounter
	p, err := New(noop, PriorityNormal, 2, &pids)
	assert.NoError(t, err)
	assert.Equal(t, PID(1), p.PID())
	assert.Equal(t, StateCreated, p.State())
	assert.Equal(t, PriorityNormal, p.Priority())
	assert.Equal(t, uint32(2), p.SchedulerID())
	assert.Equal(t, int32(DefaultReductions), p.Reductions())
	assert.Equal(t, AffinityAll, p.Affinity())

	q, err := New(noop, PriorityLow, 0, &pids)
	assert.NoError(t, err)
	assert.Equal(t, PID(2), q.PID(), "pids are monotonically increasing")
}

func TestNewValidation(t *testing.T) {
	var pids PIDCounter
	_, err := New(nil, PriorityNormal, 0, &pids)
	assert.Error(t, err, "nil entry")

	_, err = New(noop, Priority(9), 0, &pids)
	assert.Error(t, err, "invalid priority")

	_, err = New(noop, PriorityNormal, 0, nil)
	assert.Error(t, err, "nil pid counter")

	_, err = New(noop, PriorityNormal, 0, &pids, WithStackSize(-1))
	assert.Error(t, err, "negative stack size")
}

func TestStateMachine(t *testing.T) {
	testCases := []struct {
		description string
		from        State
		to          State
		valid       bool
	}{
		{description: "created to ready", from: StateCreated, to: StateReady, valid: true},
		{description: "created to running skips ready", from: StateCreated, to: StateRunning, valid: false},
		{description: "ready to running", from: StateReady, to: StateRunning, valid: true},
		{description: "ready to suspended", from: StateReady, to: StateSuspended, valid: true},
		{description: "ready to waiting", from: StateReady, to: StateWaiting, valid: false},
		{description: "running to waiting", from: StateRunning, to: StateWaiting, valid: true},
		{description: "running to ready", from: StateRunning, to: StateReady, valid: true},
		{description: "running to suspended", from: StateRunning, to: StateSuspended, valid: false},
		{description: "waiting to ready", from: StateWaiting, to: StateReady, valid: true},
		{description: "waiting to running", from: StateWaiting, to: StateRunning, valid: false},
		{description: "suspended to ready", from: StateSuspended, to: StateReady, valid: true},
		{description: "suspended to running", from: StateSuspended, to: StateRunning, valid: false},
		{description: "ready to terminated", from: StateReady, to: StateTerminated, valid: true},
		{description: "running to terminated", from: StateRunning, to: StateTerminated, valid: true},
		{description: "waiting to terminated", from: StateWaiting, to: StateTerminated, valid: true},
		{description: "terminated is final", from: StateTerminated, to: StateReady, valid: false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.valid, CanTransition(tc.from, tc.to), tc.description)
	}
}

func TestTransitionRejectsInvalid(t *testing.T) {
	var pids PIDCounter
	p, _ := New(noop, PriorityNormal, 0, &pids)

	err := p.MarkRunning()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateCreated, p.State(), "state untouched after rejected transition")

	assert.NoError(t, p.MarkReady())
	assert.NoError(t, p.MarkRunning())
	assert.NoError(t, p.MarkWaiting())
	assert.NoError(t, p.MarkReady())
	p.MarkTerminated()
	assert.Equal(t, StateTerminated, p.State())
	assert.ErrorIs(t, p.MarkReady(), ErrInvalidTransition)
}

func TestReductions(t *testing.T) {
	var pids PIDCounter
	p, _ := New(noop, PriorityNormal, 0, &pids)

	assert.Equal(t, int32(2000), p.Reductions())
	p.SetReductions(2)
	assert.Equal(t, int32(1), p.DecrementReduction())
	assert.Equal(t, int32(0), p.DecrementReduction())
	assert.Equal(t, int32(0), p.DecrementReduction(), "budget never goes negative")

	p.ResetReductions()
	assert.Equal(t, int32(DefaultReductions), p.Reductions())
}

func TestAffinity(t *testing.T) {
	var pids PIDCounter
	p, _ := New(noop, PriorityNormal, 0, &pids, WithAffinity(0b101))
	assert.True(t, p.AllowedOn(0))
	assert.False(t, p.AllowedOn(1))
	assert.True(t, p.AllowedOn(2))
	assert.False(t, p.AllowedOn(64), "core ids beyond the mask width are denied")

	p.SetAffinity(AffinityAll)
	assert.True(t, p.AllowedOn(63))
}

func TestRecordMigration(t *testing.T) {
	var pids PIDCounter
	p, _ := New(noop, PriorityNormal, 0, &pids)
	assert.Equal(t, uint32(0), p.Migrations())
	assert.True(t, p.LastMigration().IsZero())

	at := time.Now()
	assert.Equal(t, uint32(1), p.RecordMigration(at))
	assert.Equal(t, uint32(2), p.RecordMigration(at.Add(time.Millisecond)))
	assert.Equal(t, at.Add(time.Millisecond).UnixNano(), p.LastMigration().UnixNano())
}

func TestRelease(t *testing.T) {
	var pids PIDCounter
	p, _ := New(noop, PriorityNormal, 0, &pids)

	assert.NoError(t, p.Release())
	assert.Equal(t, StateTerminated, p.State())
	assert.True(t, p.Released())
	assert.ErrorIs(t, p.Release(), ErrReleased, "double release is rejected")
}

func TestWakeAfter(t *testing.T) {
	var pids PIDCounter
	p, _ := New(noop, PriorityNormal, 0, &pids)
	assert.Equal(t, time.Duration(0), p.WakeAfter())
	p.SetWakeAfter(50 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, p.WakeAfter())
}

func TestPriorityWeight(t *testing.T) {
	assert.Equal(t, 4, PriorityMax.Weight())
	assert.Equal(t, 3, PriorityHigh.Weight())
	assert.Equal(t, 2, PriorityNormal.Weight())
	assert.Equal(t, 1, PriorityLow.Weight())
}
