package memory

import (
	"context"
	"sync"

	"github.com/lwproc/lwproc/model/process"
	"github.com/lwproc/lwproc/service/mailbox"
)

// Provider hands out per-pid in-memory mailboxes, created lazily.
type Provider struct {
	config Config
	mu     sync.Mutex
	queues map[process.PID]*Queue
}

// NewProvider creates a memory mailbox provider.
func NewProvider(config Config) *Provider {
	return &Provider{
		config: config,
		queues: map[process.PID]*Queue{},
	}
}

// QueueFor returns the mailbox owned by pid, creating it on first request.
func (p *Provider) QueueFor(_ context.Context, pid process.PID) (mailbox.Queue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[pid]
	if !ok {
		q = NewQueue(pid, p.config)
		p.queues[pid] = q
	}
	return q, nil
}

// Release discards the mailbox of a terminated pid along with its buffered
// messages.
func (p *Provider) Release(_ context.Context, pid process.PID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.queues, pid)
	return nil
}

var _ mailbox.Provider = (*Provider)(nil)
