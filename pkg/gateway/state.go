package gateway

import (
	"fmt"
	"sync"
)

// State is a connection's lifecycle phase.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed // terminal
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var validNext = map[State][]State{
	StateConnecting:    {StateAuthenticated, StateClosed},
	StateAuthenticated: {StateActive, StateClosed},
	StateActive:        {StateClosed},
	StateClosed:        {},
}

// lifecycle tracks a connection's state machine: Connecting → Authenticated
// → Active → Closed, with Closed reachable from anywhere and terminal.
type lifecycle struct {
	mu    sync.Mutex
	state State
}

func newLifecycle() *lifecycle {
	return &lifecycle{state: StateConnecting}
}

func (l *lifecycle) transition(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, next := range validNext[l.state] {
		if next == to {
			l.state = to
			return nil
		}
	}
	if l.state == to {
		return nil
	}
	return fmt.Errorf("invalid transition %s to %s", l.state, to)
}

func (l *lifecycle) current() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
