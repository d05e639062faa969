package rcon

// State of a single RCON exchange
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateAuthenticated
	StateExecuting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateExecuting:
		return "executing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session tracks the state machine of one Execute call. Any state may move to
// Closed; Closed is terminal.
type session struct {
	state    State
	onChange func(State)
}

func (s *session) set(next State) {
	if s.state == StateClosed || s.state == next {
		return
	}
	s.state = next
	if s.onChange != nil {
		s.onChange(next)
	}
}
