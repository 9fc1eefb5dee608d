package lwproc

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/lwproc/lwproc/model/process"
	"github.com/lwproc/lwproc/policy"
	"github.com/lwproc/lwproc/service/mailbox"
	"github.com/lwproc/lwproc/service/meta"
	"github.com/lwproc/lwproc/service/scheduler"
)

// Config is a serialisable representation of the runtime configuration. It
// can be populated from JSON, YAML, environment variables, etc. The
// zero-value is useful – all nested fields inherit their package defaults.
type Config struct {
	// Cores is the number of scheduler cores; one scheduling loop runs per
	// core.
	Cores int `json:"cores" yaml:"cores"`

	// DequeCapacity sizes the per-priority lock-free ring of every core.
	DequeCapacity int `json:"dequeCapacity" yaml:"dequeCapacity"`

	// StackSize and HeapSize are the initial region sizes granted to every
	// spawned process unless overridden per spawn.
	StackSize int `json:"stackSize" yaml:"stackSize"`
	HeapSize  int `json:"heapSize" yaml:"heapSize"`

	// IdleWait is how long an idle core parks before rechecking its queues;
	// a time.ParseDuration string so the value survives YAML and JSON.
	IdleWait string `json:"idleWait" yaml:"idleWait"`

	Balancer BalancerConfig `json:"balancer" yaml:"balancer"`
	Policy   *policy.Config `json:"policy,omitempty" yaml:"policy,omitempty"`
	Mailbox  MailboxConfig  `json:"mailbox" yaml:"mailbox"`
}

// BalancerConfig is the serialisable part of the balancer settings.
type BalancerConfig struct {
	RebalanceInterval string `json:"rebalanceInterval,omitempty" yaml:"rebalanceInterval,omitempty"`
	DomainSize        uint32 `json:"domainSize,omitempty" yaml:"domainSize,omitempty"`
}

// MailboxConfig selects and configures the mailbox vendor.
type MailboxConfig struct {
	Vendor     string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	BaseURL    string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	MaxRetries int    `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
}

// DefaultConfig returns a Config populated with the package defaults.
// Callers may modify the returned struct before passing it to New.
func DefaultConfig() *Config {
	cores := runtime.NumCPU()
	if cores > scheduler.MaxCores {
		cores = scheduler.MaxCores
	}
	return &Config{
		Cores:         cores,
		DequeCapacity: scheduler.DefaultDequeCapacity,
		StackSize:     process.DefaultStackSize,
		HeapSize:      process.DefaultHeapSize,
		IdleWait:      "500us",
		Balancer: BalancerConfig{
			RebalanceInterval: "10ms",
			DomainSize:        4,
		},
		Mailbox: MailboxConfig{
			Vendor: string(mailbox.VendorMemory),
		},
	}
}

// LoadConfig fetches a YAML configuration document from the given afs URL,
// expands ${env.KEY} expressions and merges the result over the defaults.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	cfg := DefaultConfig()
	if err := meta.New(nil, "").Load(ctx, URL, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IdleWaitDuration parses the idle wait setting, falling back to the default
// when unset.
func (c *Config) IdleWaitDuration() time.Duration {
	if c == nil || c.IdleWait == "" {
		return 500 * time.Microsecond
	}
	d, err := time.ParseDuration(c.IdleWait)
	if err != nil || d <= 0 {
		return 500 * time.Microsecond
	}
	return d
}

// RebalanceInterval parses the balancer interval setting.
func (c *Config) RebalanceInterval() time.Duration {
	if c == nil || c.Balancer.RebalanceInterval == "" {
		return 10 * time.Millisecond
	}
	d, err := time.ParseDuration(c.Balancer.RebalanceInterval)
	if err != nil || d < 0 {
		return 10 * time.Millisecond
	}
	return d
}

// Validate returns aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Cores <= 0 || c.Cores > scheduler.MaxCores {
		return fmt.Errorf("cores must be 1..%d, got %d", scheduler.MaxCores, c.Cores)
	}
	if c.DequeCapacity < 0 {
		return fmt.Errorf("dequeCapacity must be >= 0")
	}
	if c.StackSize <= 0 {
		return fmt.Errorf("stackSize must be > 0")
	}
	if c.HeapSize <= 0 {
		return fmt.Errorf("heapSize must be > 0")
	}
	if c.IdleWait != "" {
		if _, err := time.ParseDuration(c.IdleWait); err != nil {
			return fmt.Errorf("invalid idleWait %q: %w", c.IdleWait, err)
		}
	}
	if c.Balancer.RebalanceInterval != "" {
		if _, err := time.ParseDuration(c.Balancer.RebalanceInterval); err != nil {
			return fmt.Errorf("invalid balancer.rebalanceInterval %q: %w", c.Balancer.RebalanceInterval, err)
		}
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	switch mailbox.Vendor(c.Mailbox.Vendor) {
	case "", mailbox.VendorMemory, mailbox.VendorFS:
	default:
		return fmt.Errorf("unknown mailbox vendor %q", c.Mailbox.Vendor)
	}
	return nil
}
