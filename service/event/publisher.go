package event

import (
	"context"
	"sync/atomic"
	"time"
)

// Publisher fans events of one payload type out to a buffered channel.
type Publisher[T any] struct {
	events  chan *Event[T]
	dropped atomic.Uint64
}

// NewPublisher creates a publisher with the given channel buffer.
func NewPublisher[T any](buffer int) *Publisher[T] {
	if buffer <= 0 {
		buffer = 100
	}
	return &Publisher[T]{events: make(chan *Event[T], buffer)}
}

// Publish offers the event to the subscriber channel.  A full buffer drops
// the event; the bus is advisory and must never stall the publisher.
func (p *Publisher[T]) Publish(ctx context.Context, event *Event[T]) error {
	event.CreatedAt = time.Now()
	select {
	case p.events <- event:
	default:
		p.dropped.Add(1)
	}
	return nil
}

// Consume blocks until an event arrives or the context ends.
func (p *Publisher[T]) Consume(ctx context.Context) (*Event[T], error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case event := <-p.events:
		return event, nil
	}
}

// Dropped returns how many events were discarded due to a full buffer.
func (p *Publisher[T]) Dropped() uint64 {
	return p.dropped.Load()
}
