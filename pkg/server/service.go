package server

// Service receives the lifecycle events of one session. The server guarantees
// ordering: OnOpen first, then OnMessage once per inbound message in arrival
// order, then OnClose exactly once. OnOpen is skipped for sessions that time
// out before a receiver ever attaches; OnClose still fires for them.
//
// Callbacks for one session run one at a time on a dedicated goroutine, so
// implementations need no locking of their own per session. Calling
// s.Send or s.Close from inside a callback is allowed.
type Service interface {
	// OnOpen fires once when the session transitions to open.
	OnOpen(s *Session)

	// OnMessage fires once per inbound application message.
	OnMessage(s *Session, msg string)

	// OnClose fires once when the session reaches closed.
	OnClose(s *Session)
}

// ServiceFunc adapts a message handler function to a Service with no-op open
// and close callbacks.
type ServiceFunc func(s *Session, msg string)

// OnOpen implements Service.
func (f ServiceFunc) OnOpen(s *Session) {}

// OnMessage implements Service.
func (f ServiceFunc) OnMessage(s *Session, msg string) {
	f(s, msg)
}

// OnClose implements Service.
func (f ServiceFunc) OnClose(s *Session) {}
