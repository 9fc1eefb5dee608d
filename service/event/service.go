package event

import (
	"context"
	"reflect"
	"sync"
)

// Service is the typed event bus: one publisher/listener pair per payload
// type, created lazily.
type Service struct {
	buffer          int
	typedPublishers map[reflect.Type]any
	typedListener   map[reflect.Type]any
	mux             *sync.RWMutex
}

// Option customises the event service.
type Option func(s *Service)

// WithBuffer sets the per-type channel buffer.
func WithBuffer(buffer int) Option {
	return func(s *Service) { s.buffer = buffer }
}

// New creates an event service.
func New(opts ...Option) *Service {
	ret := &Service{
		buffer:          100,
		typedPublishers: make(map[reflect.Type]any),
		typedListener:   make(map[reflect.Type]any),
		mux:             &sync.RWMutex{},
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func keyOf[T any]() reflect.Type {
	var t T
	rType := reflect.TypeOf(t)
	if rType != nil && rType.Kind() == reflect.Ptr {
		rType = rType.Elem()
	}
	return rType
}

// PublisherOf returns the publisher for the provided payload type.
func PublisherOf[T any](s *Service) *Publisher[T] {
	key := keyOf[T]()
	s.mux.RLock()
	ret, ok := s.typedPublishers[key]
	s.mux.RUnlock()
	if ok {
		return ret.(*Publisher[T])
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if ret, ok := s.typedPublishers[key]; ok {
		return ret.(*Publisher[T])
	}
	publisher := NewPublisher[T](s.buffer)
	s.typedPublishers[key] = publisher
	return publisher
}

// SetListenerOf installs the handler for the provided payload type,
// replacing any previous listener.
func SetListenerOf[T any](s *Service, handler func(*Event[T])) {
	key := keyOf[T]()
	s.mux.RLock()
	prev, ok := s.typedListener[key]
	s.mux.RUnlock()
	if ok {
		prev.(*Listener[T]).Stop()
	}
	listener := NewListener[T](PublisherOf[T](s), handler)
	s.mux.Lock()
	s.typedListener[key] = listener
	s.mux.Unlock()
	listener.Start()
}

// Publish is a convenience wrapper over the typed publisher.
func Publish[T any](ctx context.Context, s *Service, eventType string, pid uint64, core uint32, data T) {
	if s == nil {
		return
	}
	_ = PublisherOf[T](s).Publish(ctx, NewEvent[T](&Context{PID: pid, CoreID: core, EventType: eventType}, data))
}
