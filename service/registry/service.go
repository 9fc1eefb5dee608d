// Package registry keeps the runtime's pid table: an in-memory, thread-safe
// map from pid to process control block, plus the pid counter the table
// scopes.  Kill, wake and introspection paths resolve processes through it.
package registry

import (
	"errors"
	"sync"

	"github.com/lwproc/lwproc/model/process"
)

var (
	ErrNilProcess = errors.New("registry: nil process")
	ErrNotFound   = errors.New("registry: process not found")
	ErrDuplicate  = errors.New("registry: pid already registered")
)

// Service implements the pid table.
type Service struct {
	mux       sync.RWMutex
	processes map[process.PID]*process.Process
	pids      process.PIDCounter
}

// New creates an empty registry.
func New() *Service {
	return &Service{processes: map[process.PID]*process.Process{}}
}

// PIDs returns the counter new processes should draw their pid from.
func (s *Service) PIDs() *process.PIDCounter { return &s.pids }

// Register adds a process to the table.
func (s *Service) Register(p *process.Process) error {
	if p == nil {
		return ErrNilProcess
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.processes[p.PID()]; ok {
		return ErrDuplicate
	}
	s.processes[p.PID()] = p
	return nil
}

// Lookup resolves a pid.
func (s *Service) Lookup(pid process.PID) (*process.Process, error) {
	s.mux.RLock()
	p, ok := s.processes[pid]
	s.mux.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// Remove deletes a pid from the table.
func (s *Service) Remove(pid process.PID) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.processes[pid]; !ok {
		return ErrNotFound
	}
	delete(s.processes, pid)
	return nil
}

// List returns the registered processes, optionally filtered by state.
func (s *Service) List(states ...process.State) []*process.Process {
	s.mux.RLock()
	defer s.mux.RUnlock()
	out := make([]*process.Process, 0, len(s.processes))
	for _, p := range s.processes {
		if len(states) > 0 && !stateIn(p.State(), states) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Len returns the number of live registered processes.
func (s *Service) Len() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.processes)
}

func stateIn(state process.State, states []process.State) bool {
	for _, candidate := range states {
		if candidate == state {
			return true
		}
	}
	return false
}
