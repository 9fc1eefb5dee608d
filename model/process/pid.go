package process

import "sync/atomic"

// PID identifies a process within one runtime instance.  Identifiers are
// monotonically increasing and never reused for the lifetime of the pool.
type PID uint64

// PIDCounter hands out monotonically increasing process identifiers.  One
// counter is owned by the runtime's process registry; it is never a package
// global so that independent runtimes keep independent pid spaces.
type PIDCounter struct {
	last atomic.Uint64
}

// Next atomically allocates the next pid, starting at 1.
func (c *PIDCounter) Next() PID {
	return PID(c.last.Add(1))
}

// Last returns the most recently allocated pid, or zero when none was
// allocated yet.
func (c *PIDCounter) Last() PID {
	return PID(c.last.Load())
}
