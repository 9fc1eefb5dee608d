package process

import "fmt"

// State represents the lifecycle state of a process.
type State uint8

const (
	StateCreated State = iota
	StateReady
	StateRunning
	StateWaiting
	StateSuspended
	StateTerminated
)

var stateNames = [...]string{
	StateCreated:    "created",
	StateReady:      "ready",
	StateRunning:    "running",
	StateWaiting:    "waiting",
	StateSuspended:  "suspended",
	StateTerminated: "terminated",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// transitions holds the guard table for the lifecycle state machine.  A
// transition to StateTerminated is always permitted and therefore not listed.
var transitions = map[State][]State{
	StateCreated:   {StateReady},
	StateWaiting:   {StateReady},
	StateSuspended: {StateReady},
	StateReady:     {StateRunning, StateSuspended},
	StateRunning:   {StateWaiting, StateReady},
}

// CanTransition reports whether the state machine permits moving from one
// state to another.
func CanTransition(from, to State) bool {
	if to == StateTerminated {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Priority is the scheduling class of a process.  Lower numeric values are
// scheduled first.
type Priority uint8

const (
	PriorityMax Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow

	// PriorityCount is the number of priority levels; every per-core run
	// queue set is indexed by it.
	PriorityCount = 4
)

var priorityNames = [...]string{
	PriorityMax:    "max",
	PriorityHigh:   "high",
	PriorityNormal: "normal",
	PriorityLow:    "low",
}

func (p Priority) String() string {
	if int(p) < len(priorityNames) {
		return priorityNames[p]
	}
	return fmt.Sprintf("priority(%d)", uint8(p))
}

// Valid reports whether p denotes one of the four priority levels.
func (p Priority) Valid() bool {
	return p < PriorityCount
}

// Weight returns the load weight of a priority level.  Weighted queue sums
// bias victim selection toward higher-priority backlog rather than raw count.
func (p Priority) Weight() int {
	switch p {
	case PriorityMax:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	default:
		return 1
	}
}
