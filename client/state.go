package client

// State of a connection. States only move forward; ClosingForError and
// Closed are terminal.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosingForError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosingForError:
		return "closing_for_error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s >= StateClosingForError
}

// advance moves the connection to st unless it is already there, past it, or
// terminal. It reports whether the transition happened.
func (c *Conn) advance(st State) bool {
	for {
		cur := State(c.state.Load())
		if cur.terminal() || cur >= st {
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(st)) {
			return true
		}
	}
}

func (c *Conn) State() State {
	return State(c.state.Load())
}
