// Package scheduler implements the per-core scheduler state: four strict
// priority run queues with FIFO order inside each level, three waiting
// queues for blocked processes, the current-process slot and the reduction
// budget that drives cooperative preemption.
//
// Each priority level is backed by a lock-free work-stealing deque plus a
// linked overflow list, so remote cores can steal from the top end while the
// owner dispatches without taking the victim's lock.
package scheduler
