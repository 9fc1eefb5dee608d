// Package mailbox defines the message-queue collaborator contract.  The
// scheduler core never implements send/receive semantics: it asks a Provider
// for the queue belonging to a pid at spawn time and stores the handle on
// the process control block as an opaque value.
package mailbox

import (
	"context"
	"time"

	"github.com/lwproc/lwproc/model/process"
)

// Vendor names a mailbox implementation.
type Vendor string

const (
	VendorMemory Vendor = "memory"
	VendorFS     Vendor = "fs"
)

// Envelope is one inter-process message.
type Envelope struct {
	ID      string      `json:"id"`
	From    process.PID `json:"from"`
	To      process.PID `json:"to"`
	Payload any         `json:"payload,omitempty"`
	SentAt  time.Time   `json:"sentAt"`
}

// Queue is an abstract mailbox queue.
type Queue interface {
	// Publish appends a message to the mailbox.
	Publish(ctx context.Context, envelope *Envelope) error

	// Consume retrieves a single message, or nil when the mailbox is empty
	// and the implementation does not block.
	Consume(ctx context.Context) (Message, error)

	// Size returns the number of undelivered messages.
	Size() int
}

// Message is a consumed mailbox entry awaiting acknowledgement.
type Message interface {
	// Envelope returns the payload of this message.
	Envelope() *Envelope

	// Ack acknowledges successful processing of this message.
	Ack() error

	// Nack indicates failure in processing this message.
	Nack(err error) error
}

// Provider hands out the mailbox queue owned by a pid.  Implementations
// create the queue lazily on first request.
type Provider interface {
	QueueFor(ctx context.Context, pid process.PID) (Queue, error)

	// Release discards the queue owned by pid together with any undelivered
	// messages.  The runtime calls it when the process terminates; pids are
	// never reused, so an unreleased queue would be retained forever.
	Release(ctx context.Context, pid process.PID) error
}
