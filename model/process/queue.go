package process

import "fmt"

// ErrQueued is returned when a process that is already a member of a queue is
// pushed again before being removed.
var ErrQueued = fmt.Errorf("process: already queued")

// Queue is an intrusive, doubly-linked FIFO of processes.  It owns the
// next/prev linkage of its members and is the only code allowed to mutate
// them; a process can belong to at most one Queue at a time and a second push
// is rejected rather than silently corrupting either list.
//
// The type performs no locking of its own.  Scheduler states guard their
// waiting and overflow queues with the per-core lock.
type Queue struct {
	head  *Process
	tail  *Process
	count int
}

// Push appends a process at the tail.
func (q *Queue) Push(p *Process) error {
	if p == nil {
		return fmt.Errorf("process: push nil process")
	}
	if p.queue != nil {
		return ErrQueued
	}
	p.queue = q
	p.prev = q.tail
	p.next = nil
	if q.tail != nil {
		q.tail.next = p
	} else {
		q.head = p
	}
	q.tail = p
	q.count++
	return nil
}

// Pop removes and returns the head process, or nil when the queue is empty.
func (q *Queue) Pop() *Process {
	p := q.head
	if p == nil {
		return nil
	}
	q.unlink(p)
	return p
}

// Remove unlinks a process from the queue.  It reports whether the process
// was a member.
func (q *Queue) Remove(p *Process) bool {
	if p == nil || p.queue != q {
		return false
	}
	q.unlink(p)
	return true
}

func (q *Queue) unlink(p *Process) {
	if p.prev != nil {
		p.prev.next = p.next
	} else {
		q.head = p.next
	}
	if p.next != nil {
		p.next.prev = p.prev
	} else {
		q.tail = p.prev
	}
	p.next, p.prev, p.queue = nil, nil, nil
	q.count--
}

// Peek returns the head process without removing it.
func (q *Queue) Peek() *Process { return q.head }

// Len returns the number of queued processes.
func (q *Queue) Len() int { return q.count }

// Empty reports whether the queue holds no processes.
func (q *Queue) Empty() bool { return q.count == 0 }

// Corrupted reports a structural invariant violation: a positive count with a
// nil head pointer.  Callers treat it as corruption, reset the queue and log
// loudly.
func (q *Queue) Corrupted() bool {
	return q.count > 0 && q.head == nil
}

// Reset discards the queue contents, detaching every member.  Used only for
// corruption recovery.
func (q *Queue) Reset() {
	for p := q.head; p != nil; {
		next := p.next
		p.next, p.prev, p.queue = nil, nil, nil
		p = next
	}
	q.head, q.tail, q.count = nil, nil, 0
}

// Queued reports whether the process currently belongs to any Queue.  Ring
// membership is not tracked here.
func (p *Process) Queued() bool { return p.queue != nil }
