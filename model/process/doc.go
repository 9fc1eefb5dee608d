// Package process defines the process control block (PCB), the per
// lightweight-process record holding identity, scheduling, memory and saved
// execution context state, together with its lifecycle state machine, its
// bump-allocated stack/heap regions and the intrusive queue type used by the
// scheduler's waiting and overflow lists.
//
// A process is owned by exactly one run queue, waiting queue or scheduler
// "current" slot at any time.  The Queue API enforces the linked-list half of
// that invariant; ring membership is guaranteed by the balancer's atomic
// steal protocol.
package process
