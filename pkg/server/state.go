package server

// SessionState is the lifecycle state of a session. States only move forward:
// Connecting → Open → Closing → Closed. Re-entering or skipping a state is
// rejected or ignored; nothing moves a session backwards.
type SessionState uint8

const (
	// StateConnecting is the initial state. The session exists but no
	// receiver has attached yet; the open frame has not been sent.
	StateConnecting SessionState = iota

	// StateOpen is normal operation: sends flush or buffer, inbound messages
	// reach the service.
	StateOpen

	// StateClosing means a close has been initiated but the close frame has
	// not yet been flushed to a receiver. Inbound messages are discarded.
	StateClosing

	// StateClosed is terminal. The close callback has been scheduled, the
	// session is gone from the registry, and the id is never revived.
	StateClosed
)

// String returns the string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
