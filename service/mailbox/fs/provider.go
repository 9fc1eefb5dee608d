package fs

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/viant/afs"

	"github.com/lwproc/lwproc/model/process"
	"github.com/lwproc/lwproc/service/mailbox"
)

// Provider hands out filesystem-backed mailboxes keyed by pid.
type Provider struct {
	config Config
	fs     afs.Service
	mu     sync.Mutex
	queues map[process.PID]*Queue
}

// NewProvider creates a filesystem mailbox provider.
func NewProvider(config Config) *Provider {
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultConfig().MaxRetries
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	return &Provider{
		config: config,
		fs:     afs.New(),
		queues: make(map[process.PID]*Queue),
	}
}

// QueueFor returns the mailbox for pid, creating its directories on first use.
func (p *Provider) QueueFor(ctx context.Context, pid process.PID) (mailbox.Queue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.queues[pid]; ok {
		return q, nil
	}
	q, err := NewQueue(pid, p.fs, p.config)
	if err != nil {
		return nil, err
	}
	p.queues[pid] = q
	return q, nil
}

// Release forgets the pid's queue and deletes its directory tree, pending and
// dead-lettered messages included.
func (p *Provider) Release(ctx context.Context, pid process.PID) error {
	p.mu.Lock()
	delete(p.queues, pid)
	p.mu.Unlock()

	base := path.Join(p.config.BaseURL, fmt.Sprintf("%d", pid))
	if exists, _ := p.fs.Exists(ctx, base); !exists {
		return nil
	}
	return p.fs.Delete(ctx, base)
}

var _ mailbox.Provider = (*Provider)(nil)
