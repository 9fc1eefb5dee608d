package lwproc

import (
	"fmt"

	"github.com/lwproc/lwproc/model/process"
	"github.com/lwproc/lwproc/policy"
	"github.com/lwproc/lwproc/progress"
	"github.com/lwproc/lwproc/service/balancer"
	"github.com/lwproc/lwproc/service/event"
	"github.com/lwproc/lwproc/service/executor"
	"github.com/lwproc/lwproc/service/mailbox"
	mfs "github.com/lwproc/lwproc/service/mailbox/fs"
	mmemory "github.com/lwproc/lwproc/service/mailbox/memory"
	"github.com/lwproc/lwproc/service/registry"
	"github.com/lwproc/lwproc/service/scheduler"
	"github.com/lwproc/lwproc/service/timer"
)

// Service is the high-level façade embedders interact with: it assembles the
// per-core scheduler states, the balancer, the executor and the mailbox
// subsystem, and exposes the resulting Runtime.
type Service struct {
	config          *Config
	cores           int
	pol             *policy.Policy
	strategy        balancer.VictimStrategy
	mailboxes       mailbox.Provider
	events          *event.Service
	executorOptions []executor.Option
	onProgress      func(progress.Progress)

	runtime *Runtime
}

// New assembles a service from options.  Construction fails fast on invalid
// configuration rather than surfacing errors at first use.
func New(options ...Option) (*Service, error) {
	s := &Service{}
	for _, option := range options {
		option(s)
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) init() error {
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if s.cores > 0 {
		s.config.Cores = s.cores
	}
	if err := s.config.Validate(); err != nil {
		return err
	}

	if s.pol == nil {
		pol, err := policy.FromConfig(s.config.Policy)
		if err != nil {
			return err
		}
		s.pol = pol
	}
	s.pol.Normalize()

	states, err := scheduler.NewStates(s.config.Cores, s.config.DequeCapacity)
	if err != nil {
		return err
	}

	var balancerOpts []balancer.Option
	if s.strategy != nil {
		balancerOpts = append(balancerOpts, balancer.WithStrategy(s.strategy))
	}
	bal := balancer.New(states, s.pol, balancer.Config{
		RebalanceInterval: s.config.RebalanceInterval(),
		DomainSize:        s.config.Balancer.DomainSize,
	}, balancerOpts...)

	if s.mailboxes == nil {
		provider, err := s.mailboxProvider()
		if err != nil {
			return err
		}
		s.mailboxes = provider
	}

	tracker := &progress.Progress{Cores: s.config.Cores}
	if s.onProgress != nil {
		tracker.OnChange(s.onProgress)
	}

	rt := &Runtime{
		config:    s.config,
		registry:  registry.New(),
		states:    states,
		balancer:  bal,
		executor:  executor.NewService(s.executorOptions...),
		mailboxes: s.mailboxes,
		events:    s.events,
		tracker:   tracker,
		idleWait:  s.config.IdleWaitDuration(),
	}
	rt.timers = timer.New(timer.DefaultConfig(), func(pid process.PID) {
		_ = rt.Wake(pid)
	})
	rt.initNotify()
	s.runtime = rt
	return nil
}

func (s *Service) mailboxProvider() (mailbox.Provider, error) {
	switch mailbox.Vendor(s.config.Mailbox.Vendor) {
	case "", mailbox.VendorMemory:
		config := mmemory.DefaultConfig()
		if s.config.Mailbox.MaxRetries > 0 {
			config.MaxRetries = s.config.Mailbox.MaxRetries
		}
		return mmemory.NewProvider(config), nil
	case mailbox.VendorFS:
		config := mfs.DefaultConfig()
		if s.config.Mailbox.BaseURL != "" {
			config.BaseURL = s.config.Mailbox.BaseURL
		}
		if s.config.Mailbox.MaxRetries > 0 {
			config.MaxRetries = s.config.Mailbox.MaxRetries
		}
		return mfs.NewProvider(config), nil
	default:
		return nil, fmt.Errorf("unknown mailbox vendor %q", s.config.Mailbox.Vendor)
	}
}

// Runtime returns the assembled runtime.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}

// Config returns the effective configuration.
func (s *Service) Config() *Config {
	return s.config
}

// Policy returns the effective migration policy.
func (s *Service) Policy() *policy.Policy {
	return s.pol
}
