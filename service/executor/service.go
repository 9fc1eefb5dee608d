package executor

import (
	"context"

	"github.com/lwproc/lwproc/model/process"
	"github.com/lwproc/lwproc/service/scheduler"
)

// Listener is invoked once a quantum completes (regardless of outcome).
// Implementations can log, collect metrics or perform other side effects;
// they run on the scheduling loop and must not block.
type Listener func(p *process.Process, outcome process.Outcome, used int32)

// Option customises the executor instance.
type Option func(*service)

// WithListener sets the listener invoked after every executed quantum.
// Passing nil disables the callback entirely.
func WithListener(l Listener) Option {
	return func(s *service) { s.listener = l }
}

// Service runs one process quantum on behalf of a scheduling loop.
type Service interface {
	Run(ctx context.Context, state *scheduler.State, p *process.Process) (process.Outcome, error)
}

type service struct {
	listener Listener
}

// NewService creates an executor.
func NewService(opts ...Option) Service {
	s := &service{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run executes the process until its reduction budget is exhausted or the
// entry point reports a non-Continue outcome.  A budget exhausted with the
// process still willing to run surfaces as Yield: the cooperative-preemption
// contract is that the caller observes zero reductions and re-enqueues.
func (s *service) Run(ctx context.Context, state *scheduler.State, p *process.Process) (process.Outcome, error) {
	if state.Current() != p {
		return process.Yield, ErrNotCurrent
	}
	entry := p.Entry()
	if entry == nil {
		return process.Done, ErrNilEntry
	}

	var used int32
	outcome := process.Continue
	for {
		if err := ctx.Err(); err != nil {
			// Shutdown mid-quantum: the process stays runnable.
			outcome = process.Yield
			break
		}
		remaining := state.DecrementReductions()
		used++
		outcome = entry(p)
		if outcome != process.Continue {
			break
		}
		if remaining == 0 {
			outcome = process.Yield
			break
		}
	}
	if s.listener != nil {
		s.listener(p, outcome, used)
	}
	return outcome, nil
}
