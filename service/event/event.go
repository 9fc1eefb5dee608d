// Package event is an advisory pub/sub bus for runtime lifecycle events.
// Publishing never blocks the scheduling loops: when a subscriber falls
// behind, events are dropped rather than queued without bound.
package event

import "time"

// Lifecycle event types published by the runtime.
const (
	TypeSpawned  = "process.spawned"
	TypeExited   = "process.exited"
	TypeBlocked  = "process.blocked"
	TypeWoken    = "process.woken"
	TypeMigrated = "process.migrated"
)

// Context identifies the subject of an event.
type Context struct {
	PID       uint64 `json:"pid"`
	CoreID    uint32 `json:"coreId"`
	EventType string `json:"eventType"`
}

// Event carries a typed payload together with its lifecycle context.
type Event[T any] struct {
	Context   *Context               `json:"context"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata"`
	Data      T                      `json:"data"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]interface{}),
		Data:      data,
	}
}

// ProcessInfo is the payload published for process lifecycle events.
type ProcessInfo struct {
	PID      uint64 `json:"pid"`
	Priority string `json:"priority"`
	State    string `json:"state"`
	CoreID   uint32 `json:"coreId"`
}
