// Package progress defines primitives for reporting and aggregating the
// activity of a running scheduler instance.  It abstracts away the underlying
// communication mechanism so that callers can consume counter updates in a
// uniform way regardless of whether they are delivered via in-memory
// callbacks, log sinks or external observers.
package progress
