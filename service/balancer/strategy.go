package balancer

import (
	"math/rand"
	"sync"

	"github.com/lwproc/lwproc/model/process"
	"github.com/lwproc/lwproc/policy"
	"github.com/lwproc/lwproc/service/scheduler"
)

// WeightedLoad returns the priority-weighted backlog of one core: the sum of
// run-queue lengths scaled by {max:4, high:3, normal:2, low:1}.  The bias
// makes victim selection prefer cores sitting on high-priority work over
// cores with a long tail of low-priority processes.
func WeightedLoad(s *scheduler.State) int {
	load := 0
	for prio := 0; prio < process.PriorityCount; prio++ {
		p := process.Priority(prio)
		load += s.RunQueueLen(p) * p.Weight()
	}
	return load
}

// VictimStrategy selects the core a thief should steal from.  Returning the
// thief's own core signals that there is nothing to steal.
type VictimStrategy interface {
	Name() string
	SelectVictim(thief uint32, states []*scheduler.State) uint32
}

// LoadBased picks the core with the maximum weighted load.  It is the
// default strategy.
type LoadBased struct{}

func (LoadBased) Name() string { return policy.StrategyLoad }

func (LoadBased) SelectVictim(thief uint32, states []*scheduler.State) uint32 {
	return findBusiest(thief, states, nil)
}

// findBusiest scans all cores for the maximum weighted load, optionally
// constrained by a filter, and falls back to the thief's own core when no
// other core has work.
func findBusiest(thief uint32, states []*scheduler.State, include func(uint32) bool) uint32 {
	victim := thief
	best := 0
	for i, s := range states {
		core := uint32(i)
		if core == thief {
			continue
		}
		if include != nil && !include(core) {
			continue
		}
		if load := WeightedLoad(s); load > best {
			best = load
			victim = core
		}
	}
	return victim
}

// Random picks a victim uniformly; the thief excludes itself by advancing to
// the next core.  Cheap, contention-spreading, blind to load.
type Random struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandom seeds a random victim strategy.
func NewRandom(seed int64) *Random {
	return &Random{rnd: rand.New(rand.NewSource(seed))}
}

func (*Random) Name() string { return policy.StrategyRandom }

func (r *Random) SelectVictim(thief uint32, states []*scheduler.State) uint32 {
	n := len(states)
	if n <= 1 {
		return thief
	}
	r.mu.Lock()
	pick := uint32(r.rnd.Intn(n))
	r.mu.Unlock()
	if pick == thief {
		pick = (pick + 1) % uint32(n)
	}
	return pick
}

// LocalityAware prefers a victim on the thief's own cluster domain (cores
// are grouped in fixed-size blocks) and falls back to plain load-based
// selection when no same-domain victim has work.  Real NUMA topology
// detection is out of scope; the domain size is supplied by configuration.
type LocalityAware struct {
	DomainSize uint32
}

func (LocalityAware) Name() string { return policy.StrategyLocality }

func (l LocalityAware) SelectVictim(thief uint32, states []*scheduler.State) uint32 {
	size := l.DomainSize
	if size == 0 {
		size = 4
	}
	domain := thief / size
	victim := findBusiest(thief, states, func(core uint32) bool {
		return core/size == domain
	})
	if victim != thief {
		return victim
	}
	return findBusiest(thief, states, nil)
}

// StrategyFor resolves a policy strategy name; unknown names fall back to
// load-based selection.
func StrategyFor(name string, seed int64, domainSize uint32) VictimStrategy {
	switch name {
	case policy.StrategyRandom:
		return NewRandom(seed)
	case policy.StrategyLocality:
		return LocalityAware{DomainSize: domainSize}
	default:
		return LoadBased{}
	}
}
