// Package model contains the in-memory representation of lightweight
// processes and supporting types used by the scheduler.
//
// The `process` sub-package defines the process control block, its lifecycle
// state machine, priorities, saved execution context and the bump-allocated
// stack and heap regions.  The root model package simply aggregates those
// building blocks so that they can be referenced from other parts of the
// code base with a single import.
package model
