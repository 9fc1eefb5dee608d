// Package timer provides timeout scheduling for blocked processes.  A process
// that blocks on a timer wait registers a deadline here; Tick fires expired
// entries and hands the pids back to a wake callback.
package timer

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/lwproc/lwproc/internal/clock"
	"github.com/lwproc/lwproc/model/process"
)

// WakeFunc is invoked for every pid whose deadline has passed.
type WakeFunc func(pid process.PID)

// Config represents timer service configuration.
type Config struct {
	// PollingInterval is how often the background loop checks for expiry.
	PollingInterval time.Duration
}

// DefaultConfig returns the default timer configuration.
func DefaultConfig() Config {
	return Config{
		PollingInterval: time.Millisecond,
	}
}

type entry struct {
	pid      process.PID
	deadline time.Time
	index    int
	canceled bool
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Service tracks pending timeouts ordered by deadline.
type Service struct {
	config     Config
	wake       WakeFunc
	mu         sync.Mutex
	pending    entryHeap
	byPID      map[process.PID]*entry
	shutdownCh chan struct{}
}

// New creates a new timer service.
func New(config Config, wake WakeFunc) *Service {
	if config.PollingInterval <= 0 {
		config.PollingInterval = DefaultConfig().PollingInterval
	}
	return &Service{
		config:     config,
		wake:       wake,
		byPID:      make(map[process.PID]*entry),
		shutdownCh: make(chan struct{}),
	}
}

// ScheduleTimeout registers a deadline for pid. A second call for the same
// pid replaces the earlier deadline.
func (s *Service) ScheduleTimeout(d time.Duration, pid process.PID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byPID[pid]; ok {
		prev.canceled = true
	}
	e := &entry{pid: pid, deadline: clock.Now().Add(d)}
	heap.Push(&s.pending, e)
	s.byPID[pid] = e
}

// Cancel removes a pending timeout for pid, if any.
func (s *Service) Cancel(pid process.PID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byPID[pid]; ok {
		e.canceled = true
		delete(s.byPID, pid)
	}
}

// Tick fires every expired timeout and returns the number of processes woken.
func (s *Service) Tick() int {
	now := clock.Now()
	var due []process.PID

	s.mu.Lock()
	for s.pending.Len() > 0 {
		next := s.pending[0]
		if next.canceled {
			heap.Pop(&s.pending)
			continue
		}
		if next.deadline.After(now) {
			break
		}
		heap.Pop(&s.pending)
		delete(s.byPID, next.pid)
		due = append(due, next.pid)
	}
	s.mu.Unlock()

	for _, pid := range due {
		if s.wake != nil {
			s.wake(pid)
		}
	}
	return len(due)
}

// Pending returns the number of outstanding timeouts.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byPID)
}

// Start runs a background expiry loop until the context is done or Shutdown
// is called. Embedders that drive Tick from their own loop do not need it.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.shutdownCh:
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Shutdown stops the background expiry loop.
func (s *Service) Shutdown() {
	close(s.shutdownCh)
}
