package engine

import "fmt"

// State is the execution state of one request within a session.
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// IsTerminal reports whether the state is final. Terminal states are cached
// for the lifetime of the session.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateRunning
	case StateRunning:
		return to == StateCompleted || to == StateFailed
	default:
		return false
	}
}

// transition moves n from one state to another. The caller must hold the
// session mutex and supplies the expected prior state to make races
// observable.
func transition(n *node, from, to State) error {
	if n.state != from {
		return fmt.Errorf("invalid transition for %s: expected %s, got %s", n.desc, from, n.state)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %s: %s -> %s", n.desc, from, to)
	}
	n.state = to
	return nil
}
