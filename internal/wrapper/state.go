package wrapper

import "fmt"

// State is the supervisor's position in the run lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateTimedOut  State = "timed_out"
	StateSignaled  State = "signaled"
	StateRetrying  State = "retrying"
	StateTerminal  State = "terminal"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[State]map[State]bool{
	StatePending: {
		StateRunning:  true, // first spawn
		StateTerminal: true, // dry-run, or signal before spawn
	},
	StateRunning: {
		StateCompleted: true, // child exited on its own, or never started
		StateTimedOut:  true,
		StateSignaled:  true,
	},
	StateCompleted: {
		StateRetrying: true,
		StateTerminal: true,
	},
	StateTimedOut: {
		StateRetrying: true,
		StateTerminal: true,
	},
	StateSignaled: {
		StateTerminal: true, // never retried
	},
	StateRetrying: {
		StateRunning:  true,
		StateTerminal: true, // signal during the retry delay
	},
	StateTerminal: {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to State) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateTerminal
}
