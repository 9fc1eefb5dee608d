// Package memory provides the channel-backed in-memory mailbox vendor.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lwproc/lwproc/internal/clock"
	"github.com/lwproc/lwproc/internal/idgen"
	"github.com/lwproc/lwproc/model/process"
	"github.com/lwproc/lwproc/service/mailbox"
)

// Config for the memory mailbox implementation.
type Config struct {
	MaxRetries  int
	RetryDelay  time.Duration
	DeadLetter  bool
	QueueBuffer int
}

// DefaultConfig returns a standard configuration for memory mailboxes.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		RetryDelay:  100 * time.Millisecond,
		DeadLetter:  true,
		QueueBuffer: 64,
	}
}

// Message implements mailbox.Message for the in-memory queue.
type Message struct {
	envelope   mailbox.Envelope
	queue      *Queue
	retryCount int
	mu         sync.Mutex
	processed  bool
}

// Envelope returns the message payload.
func (m *Message) Envelope() *mailbox.Envelope {
	return &m.envelope
}

// Ack acknowledges the message as processed successfully.
func (m *Message) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true
	return nil
}

// Nack indicates a failure in processing the message.  Under the retry limit
// the message is re-published after the retry delay; past it the message
// lands in the dead-letter list when one is configured.
func (m *Message) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true
	m.retryCount++

	if m.retryCount <= m.queue.config.MaxRetries {
		go func() {
			time.Sleep(m.queue.config.RetryDelay)
			retry := &Message{
				envelope:   m.envelope,
				queue:      m.queue,
				retryCount: m.retryCount,
			}
			m.queue.messages <- retry
		}()
	} else if m.queue.config.DeadLetter {
		m.queue.dlqMu.Lock()
		m.queue.dlq = append(m.queue.dlq, m)
		m.queue.dlqMu.Unlock()
	}
	return nil
}

// Queue implements an in-memory mailbox.Queue.
type Queue struct {
	owner    process.PID
	messages chan *Message
	dlq      []*Message
	config   Config
	dlqMu    sync.Mutex
}

// NewQueue creates a new in-memory mailbox for one pid.
func NewQueue(owner process.PID, config Config) *Queue {
	if config.QueueBuffer <= 0 {
		config.QueueBuffer = DefaultConfig().QueueBuffer
	}
	return &Queue{
		owner:    owner,
		messages: make(chan *Message, config.QueueBuffer),
		config:   config,
	}
}

// Owner returns the pid this mailbox belongs to.
func (q *Queue) Owner() process.PID { return q.owner }

// Publish adds a new message to the mailbox.
func (q *Queue) Publish(ctx context.Context, envelope *mailbox.Envelope) error {
	if envelope == nil {
		return fmt.Errorf("mailbox: nil envelope")
	}
	msg := &Message{envelope: *envelope, queue: q}
	if msg.envelope.ID == "" {
		msg.envelope.ID = idgen.New()
	}
	if msg.envelope.SentAt.IsZero() {
		msg.envelope.SentAt = clock.Now()
	}
	msg.envelope.To = q.owner
	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume retrieves a single message, returning nil when the mailbox is
// empty.  Blocking receive semantics belong to the process entry point via
// the scheduler's waiting queues, not to the queue itself.
func (q *Queue) Consume(ctx context.Context) (mailbox.Message, error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, nil
	}
}

// Size returns the current number of undelivered messages.
func (q *Queue) Size() int { return len(q.messages) }

// DLQSize returns the number of dead-lettered messages.
func (q *Queue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}

// ensure Queue implements mailbox.Queue
var _ mailbox.Queue = (*Queue)(nil)
