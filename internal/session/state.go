package session

// State is a position in the session lifecycle. The reader goroutine is the
// only writer of handshake transitions; callers drive Connecting, Ready and
// Closed.
type State int32

const (
	StateNew State = iota
	StateConnecting
	StateAwaitingWelcome
	StateAuthenticating
	StateEstablished
	StateReady
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingWelcome:
		return "AWAITING_WELCOME"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateReady:
		return "READY"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Live reports whether the session can still exchange messages.
func (s State) Live() bool {
	return s == StateEstablished || s == StateReady
}

// Terminal reports whether the session is done for good.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
