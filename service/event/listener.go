package event

import (
	"context"
)

// Listener drains a publisher in its own goroutine and invokes the handler
// for every event.
type Listener[T any] struct {
	publisher *Publisher[T]
	handler   func(*Event[T])
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewListener creates a stopped listener; call Start to begin draining.
func NewListener[T any](publisher *Publisher[T], handler func(*Event[T])) *Listener[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener[T]{
		publisher: publisher,
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Stop ends the drain goroutine and waits until it has exited, so a
// replacement listener never competes with the old one for events.
func (l *Listener[T]) Stop() {
	l.cancel()
	<-l.done
}

// Start launches the drain goroutine.
func (l *Listener[T]) Start() {
	go func() {
		defer close(l.done)
		for {
			event, err := l.publisher.Consume(l.ctx)
			if err != nil {
				return
			}
			l.handler(event)
		}
	}()
}
