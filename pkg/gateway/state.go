package gateway

import "fmt"

// SessionState is the lifecycle state of a WebSocket session.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions is the session state machine: every legal edge, nothing else.
// Authenticating can close directly on invalid or timed-out credentials;
// Active winds down through Closing so in-flight sends can drain.
var transitions = map[SessionState][]SessionState{
	StateConnecting:     {StateAuthenticating, StateClosed},
	StateAuthenticating: {StateActive, StateClosed},
	StateActive:         {StateClosing, StateClosed},
	StateClosing:        {StateClosed},
	StateClosed:         {},
}

func canTransition(from, to SessionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrIllegalTransition reports a rejected state change.
type ErrIllegalTransition struct {
	From, To SessionState
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal session transition %s -> %s", e.From, e.To)
}
