// Package policy provides the steal/migration rules applied by the load
// balancer.  It is deliberately decoupled from the balancer so that a policy
// can be loaded from configuration, persisted and shared between runtimes; a
// nil *Policy means "defaults everywhere" and is therefore the zero-cost
// case.
package policy

import (
	"fmt"
	"time"
)

// Migration modes recognised by the balancer.
const (
	ModeAuto = "auto" // steal whenever the checks pass (default)
	ModeDeny = "deny" // never migrate; processes stay on their home core
)

// Victim-selection strategy names.
const (
	StrategyRandom   = "random"
	StrategyLoad     = "load"
	StrategyLocality = "locality"
)

// Defaults applied when a field is left at its zero value.
const (
	DefaultMaxMigrations      = 10
	DefaultCooldown           = 5 * time.Millisecond
	DefaultImbalanceThreshold = 1
)

// VetoFunc is invoked as the final migration check.  Returning false denies
// the steal.  Implementations may inspect the candidate pid and both cores;
// they must not block, the balancer calls them on the stealing core's loop.
type VetoFunc func(pid uint64, source, target uint32) bool

// Policy represents the runtime migration settings.
//
//   - Mode controls the high-level behaviour (auto / deny).
//   - MaxMigrations caps how often one process may be stolen.
//   - Cooldown is the minimum pause between two migrations of one process.
//   - ImbalanceThreshold is the minimum weighted-load difference between the
//     victim and the thief for a steal to be worthwhile.
//   - Veto is only consulted when every other check passed.
type Policy struct {
	Mode               string
	Strategy           string
	MaxMigrations      uint32
	Cooldown           time.Duration
	ImbalanceThreshold int
	Veto               VetoFunc
}

// Config is the declarative, serialisable part of a Policy.  Cooldown is a
// time.ParseDuration string so that the value survives YAML and JSON.
type Config struct {
	Mode               string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Strategy           string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	MaxMigrations      uint32 `json:"maxMigrations,omitempty" yaml:"maxMigrations,omitempty"`
	Cooldown           string `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
	ImbalanceThreshold int    `json:"imbalanceThreshold,omitempty" yaml:"imbalanceThreshold,omitempty"`
}

// Default returns a policy with every field at its default.
func Default() *Policy {
	return &Policy{
		Mode:               ModeAuto,
		Strategy:           StrategyLoad,
		MaxMigrations:      DefaultMaxMigrations,
		Cooldown:           DefaultCooldown,
		ImbalanceThreshold: DefaultImbalanceThreshold,
	}
}

// Normalize fills zero-valued fields with their defaults.
func (p *Policy) Normalize() {
	if p.Mode == "" {
		p.Mode = ModeAuto
	}
	if p.Strategy == "" {
		p.Strategy = StrategyLoad
	}
	if p.MaxMigrations == 0 {
		p.MaxMigrations = DefaultMaxMigrations
	}
	if p.Cooldown == 0 {
		p.Cooldown = DefaultCooldown
	}
	if p.ImbalanceThreshold == 0 {
		p.ImbalanceThreshold = DefaultImbalanceThreshold
	}
}

// Denies reports whether the policy forbids all migration.
func (p *Policy) Denies() bool {
	return p != nil && p.Mode == ModeDeny
}

// ToConfig converts a runtime Policy into a persistable Config (without the
// Veto hook, which cannot be serialised).
func ToConfig(p *Policy) *Config {
	if p == nil {
		return nil
	}
	cooldown := ""
	if p.Cooldown > 0 {
		cooldown = p.Cooldown.String()
	}
	return &Config{
		Mode:               p.Mode,
		Strategy:           p.Strategy,
		MaxMigrations:      p.MaxMigrations,
		Cooldown:           cooldown,
		ImbalanceThreshold: p.ImbalanceThreshold,
	}
}

// FromConfig converts a stored Config back to a runtime Policy.
func FromConfig(c *Config) (*Policy, error) {
	if c == nil {
		return Default(), nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	p := &Policy{
		Mode:               c.Mode,
		Strategy:           c.Strategy,
		MaxMigrations:      c.MaxMigrations,
		ImbalanceThreshold: c.ImbalanceThreshold,
	}
	if c.Cooldown != "" {
		d, err := time.ParseDuration(c.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("policy: invalid cooldown %q: %w", c.Cooldown, err)
		}
		p.Cooldown = d
	}
	p.Normalize()
	return p, nil
}

// Validate returns an aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	switch c.Mode {
	case "", ModeAuto, ModeDeny:
	default:
		return fmt.Errorf("policy: unknown mode %q", c.Mode)
	}
	switch c.Strategy {
	case "", StrategyRandom, StrategyLoad, StrategyLocality:
	default:
		return fmt.Errorf("policy: unknown strategy %q", c.Strategy)
	}
	if c.Cooldown != "" {
		if _, err := time.ParseDuration(c.Cooldown); err != nil {
			return fmt.Errorf("policy: invalid cooldown %q: %w", c.Cooldown, err)
		}
	}
	if c.ImbalanceThreshold < 0 {
		return fmt.Errorf("policy: negative imbalance threshold")
	}
	return nil
}
