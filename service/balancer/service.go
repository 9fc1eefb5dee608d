package balancer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lwproc/lwproc/internal/clock"
	"github.com/lwproc/lwproc/model/process"
	"github.com/lwproc/lwproc/policy"
	"github.com/lwproc/lwproc/service/scheduler"
)

// ErrInvalidCore is returned when a steal is attempted on behalf of a core
// the balancer does not manage.
var ErrInvalidCore = fmt.Errorf("balancer: invalid core id")

// Config represents balancer service configuration.
type Config struct {
	// RebalanceInterval is how often the background loop checks for starved
	// cores.  Zero disables the loop; TrySteal remains available to the
	// scheduling loops either way.
	RebalanceInterval time.Duration

	// DomainSize groups cores into locality domains for the locality-aware
	// strategy.
	DomainSize uint32
}

// DefaultConfig returns the default balancer configuration.
func DefaultConfig() Config {
	return Config{
		RebalanceInterval: 10 * time.Millisecond,
		DomainSize:        4,
	}
}

// Service is the work-stealing load balancer.  It owns no processes itself:
// every steal removes a PCB from the victim's lock-free ring via the atomic
// top advance, which makes the thief the sole owner until re-enqueue.
type Service struct {
	config     Config
	states     []*scheduler.State
	pol        *policy.Policy
	strategy   VictimStrategy
	shutdownCh chan struct{}
}

// Option customises the balancer service.
type Option func(*Service)

// WithStrategy overrides the victim-selection strategy resolved from the
// policy.
func WithStrategy(strategy VictimStrategy) Option {
	return func(s *Service) { s.strategy = strategy }
}

// New creates a balancer over the given scheduler states.
func New(states []*scheduler.State, pol *policy.Policy, config Config, opts ...Option) *Service {
	if pol == nil {
		pol = policy.Default()
	}
	pol.Normalize()
	s := &Service{
		config:     config,
		states:     states,
		pol:        pol,
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.strategy == nil {
		s.strategy = StrategyFor(pol.Strategy, clock.Now().UnixNano(), config.DomainSize)
	}
	return s
}

// Strategy returns the active victim-selection strategy.
func (s *Service) Strategy() VictimStrategy { return s.strategy }

// Load returns the weighted load of one core.
func (s *Service) Load(coreID uint32) int {
	if int(coreID) >= len(s.states) {
		return 0
	}
	return WeightedLoad(s.states[coreID])
}

// FindBusiest returns the core with the maximum weighted load, excluding the
// given core.  When no other core has work it returns the excluded core
// itself, the signal for "nothing to steal".
func (s *Service) FindBusiest(exclude uint32) uint32 {
	return findBusiest(exclude, s.states, nil)
}

// stealAllowed is the conjunction of the per-process migration checks: the
// migration cap, the target bit of the affinity mask, the cooldown since the
// candidate's last migration and the weighted-load imbalance between the two
// cores.  Any failing check denies the steal.
func (s *Service) stealAllowed(candidate *process.Process, victim, thief uint32) bool {
	if candidate.Migrations() >= s.pol.MaxMigrations {
		return false
	}
	if !candidate.AllowedOn(thief) {
		return false
	}
	if last := candidate.LastMigration(); !last.IsZero() && clock.Since(last) < s.pol.Cooldown {
		return false
	}
	if s.Load(victim)-s.Load(thief) < s.pol.ImbalanceThreshold {
		return false
	}
	if s.pol.Veto != nil && !s.pol.Veto(uint64(candidate.PID()), victim, thief) {
		return false
	}
	return true
}

// TrySteal performs one bounded steal attempt on behalf of an idle core:
// select a victim by the active strategy, check the candidate against the
// migration policy, remove it from the victim's highest non-empty priority
// ring and update the migration bookkeeping.  The caller re-enqueues the
// returned process locally; nil means no eligible victim or candidate.
func (s *Service) TrySteal(coreID uint32) (*process.Process, error) {
	if int(coreID) >= len(s.states) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCore, coreID)
	}
	if s.pol.Denies() {
		return nil, nil
	}
	victim := s.strategy.SelectVictim(coreID, s.states)
	if victim == coreID || int(victim) >= len(s.states) {
		return nil, nil
	}
	victimState := s.states[victim]

	candidate, _, ok := victimState.PeekSteal()
	if !ok || !s.stealAllowed(candidate, victim, coreID) {
		return nil, nil
	}
	stolen, prio, ok := victimState.Steal()
	if !ok {
		return nil, nil
	}
	if stolen != candidate && !s.stealAllowed(stolen, victim, coreID) {
		// Another thief raced us to the checked candidate and the process we
		// actually removed fails the policy.  Hand it back; it re-enters at
		// the victim's tail, trading its queue position for correctness.
		if err := victimState.Enqueue(stolen, prio); err != nil {
			log.Printf("balancer: core %d could not return pid %d to core %d: %v", coreID, stolen.PID(), victim, err)
		}
		return nil, nil
	}

	s.Migrate(stolen, victim, coreID)
	s.states[coreID].Counters.TotalSteals.Add(1)
	return stolen, nil
}

// Migrate is the mutation primitive behind TrySteal: it reassigns the home
// core and bumps the migration statistics on the process and on both
// scheduler states.  It does not enqueue; that stays with the caller.
func (s *Service) Migrate(p *process.Process, source, target uint32) {
	p.SetSchedulerID(target)
	p.RecordMigration(clock.Now())
	if int(source) < len(s.states) {
		s.states[source].Counters.TotalMigrations.Add(1)
	}
	if int(target) < len(s.states) {
		s.states[target].Counters.TotalMigrations.Add(1)
	}
}

// Start runs the background rebalance loop: on every tick, each core with no
// ready work gets one steal attempt on its behalf.  The loop stops when the
// context is cancelled or Shutdown is called.
func (s *Service) Start(ctx context.Context) error {
	if s.config.RebalanceInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(s.config.RebalanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.shutdownCh:
			return nil
		case <-ticker.C:
			s.rebalance()
		}
	}
}

func (s *Service) rebalance() {
	for core := range s.states {
		st := s.states[core]
		if st.Runnable() > 0 || st.Current() != nil {
			continue
		}
		p, err := s.TrySteal(uint32(core))
		if err != nil || p == nil {
			continue
		}
		if err := st.Enqueue(p, p.Priority()); err != nil {
			log.Printf("balancer: enqueue of stolen pid %d on core %d failed: %v", p.PID(), core, err)
		}
	}
}

// Shutdown stops the rebalance loop.
func (s *Service) Shutdown() {
	close(s.shutdownCh)
}
