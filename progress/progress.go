// Package progress provides a lightweight tracker that keeps aggregated
// runtime counters (processes spawned, exited, steals, …) for a single
// runtime instance.  The tracker lives in the runtime context – every
// component that receives the context can atomically update the counters via
// the Delta helper without requiring a global registry.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

// Delta represents an incremental counter change emitted by the scheduler
// loops or the balancer.  The fields are signed and therefore can be either
// positive (increment) or negative (decrement).
type Delta struct {
	Spawned    int
	Exited     int
	Scheduled  int
	Yields     int
	Blocks     int
	Wakes      int
	Steals     int
	Migrations int
	IdleSpins  int
}

// Progress keeps aggregated counters for a runtime instance and is safe for
// concurrent use.
type Progress struct {
	// Identification – informative only, filled when the runtime starts.
	RuntimeID string    `json:"runtimeId,omitempty"`
	Cores     int       `json:"cores,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`

	// Counters – modified via Update().
	SpawnedProcesses   int `json:"spawned"`
	ExitedProcesses    int `json:"exited"`
	ScheduledProcesses int `json:"scheduled"`
	Yields             int `json:"yields"`
	Blocks             int `json:"blocks"`
	Wakes              int `json:"wakes"`
	Steals             int `json:"steals"`
	Migrations         int `json:"migrations"`
	IdleSpins          int `json:"idleSpins"`

	sync.Mutex `json:"-"`
	onChange   func(Progress)
}

// Update applies the supplied delta to the tracker.  It is safe to call from
// multiple goroutines.  If an onChange callback has been registered it will be
// invoked with a copy of the updated tracker outside the critical section so
// that the callback can perform slow operations (e.g. JSON encoding, I/O)
// without blocking scheduler internals.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}

	p.Lock()

	p.SpawnedProcesses += d.Spawned
	p.ExitedProcesses += d.Exited
	p.ScheduledProcesses += d.Scheduled
	p.Yields += d.Yields
	p.Blocks += d.Blocks
	p.Wakes += d.Wakes
	p.Steals += d.Steals
	p.Migrations += d.Migrations
	p.IdleSpins += d.IdleSpins

	// Make a value-copy for the callback while we still hold the lock to
	// avoid seeing partially updated counters.
	snapshot := p.clone()
	cb := p.onChange

	p.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// clone copies the exported fields; the caller must hold the lock.  The
// returned value carries a fresh zero mutex so it remains usable on its own.
func (p *Progress) clone() Progress {
	return Progress{
		RuntimeID:          p.RuntimeID,
		Cores:              p.Cores,
		StartedAt:          p.StartedAt,
		SpawnedProcesses:   p.SpawnedProcesses,
		ExitedProcesses:    p.ExitedProcesses,
		ScheduledProcesses: p.ScheduledProcesses,
		Yields:             p.Yields,
		Blocks:             p.Blocks,
		Wakes:              p.Wakes,
		Steals:             p.Steals,
		Migrations:         p.Migrations,
		IdleSpins:          p.IdleSpins,
	}
}

// Snapshot returns a copy of the tracker suitable for read-only inspection.
func (p *Progress) Snapshot() Progress {
	if p == nil {
		return Progress{}
	}
	p.Lock()
	defer p.Unlock()
	return p.clone()
}

// JSON returns the tracker counters encoded as JSON.
func (p *Progress) JSON() ([]byte, error) {
	snapshot := p.Snapshot()
	return sonnet.Marshal(&snapshot)
}

// OnChange registers a callback that is invoked after every successful
// Update.  Passing nil disables the callback.  Only one callback can be
// active; subsequent calls overwrite the previous value.
func (p *Progress) OnChange(cb func(Progress)) {
	if p == nil {
		return
	}
	p.Lock()
	p.onChange = cb
	p.Unlock()
}

// ----------------------------------------------------------------------------
// Context helpers
// ----------------------------------------------------------------------------

type trackerKeyT struct{}

var trackerKey trackerKeyT

// WithNewTracker creates a new Progress tracker, embeds it in a derived
// context and returns both.  The caller may optionally pass an onChange
// callback that will be invoked after every counter update.
func WithNewTracker(ctx context.Context, runtimeID string, cores int, onChange func(Progress)) (context.Context, *Progress) {
	if ctx == nil {
		ctx = context.Background()
	}
	tr := &Progress{
		RuntimeID: runtimeID,
		Cores:     cores,
		StartedAt: time.Now(),
		onChange:  onChange,
	}
	return context.WithValue(ctx, trackerKey, tr), tr
}

// FromContext extracts the Progress tracker from ctx.  It returns (tracker,
// ok).  The second return value is false when the context carries no tracker.
func FromContext(ctx context.Context) (*Progress, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(trackerKey).(*Progress)
	return tr, ok
}

// GetSnapshot is a convenience wrapper that combines FromContext and
// Snapshot.  The boolean return value is false when the context does not
// carry a tracker.
func GetSnapshot(ctx context.Context) (Progress, bool) {
	if tr, ok := FromContext(ctx); ok {
		return tr.Snapshot(), true
	}
	return Progress{}, false
}

// UpdateCtx is a helper that looks up the tracker in ctx (if any) and applies
// the supplied delta.
func UpdateCtx(ctx context.Context, d Delta) {
	if tr, ok := FromContext(ctx); ok {
		tr.Update(d)
	}
}
