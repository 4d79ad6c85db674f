package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/sockline-dev/sockline/pkg/protocol"
)

// taskQueueSize is the callback queue depth per session. Inbound batches
// beyond it are dropped rather than blocking transport goroutines.
const taskQueueSize = 256

// receiver is one transport end currently allowed to push frames to the
// client. The session checks it for liveness on every write and drops it on
// failure; it never owns the underlying exchange.
type receiver interface {
	// writeFrame encodes and flushes one frame to the client. An error means
	// the client is gone.
	writeFrame(f protocol.Frame) error

	// streaming reports whether the receiver stays attached across frames.
	// Polling receivers complete after exactly one frame.
	streaming() bool

	// exhausted reports whether a streaming receiver has spent its byte
	// budget and must be released to force a client reconnect.
	exhausted() bool

	// finish releases the receiver's exchange. Idempotent.
	finish()
}

// Session is the logical bidirectional channel identified by an id,
// independent of any single HTTP connection. Polling transports serve it
// through a sequence of short exchanges; the session buffers outbound
// messages between them and owns all protocol control logic.
//
// All state mutation is serialized through one mutex. Service callbacks run
// on a dedicated dispatch goroutine, one at a time, in order.
type Session struct {
	id      string
	service Service
	config  *Config
	logger  *slog.Logger

	mu          sync.Mutex
	state       SessionState
	recv        receiver
	queue       []string // outbound, not yet handed to any receiver
	closeCode   int
	closeReason string
	wrote       bool // a frame went out since the last heartbeat tick

	heartbeatTimer  *time.Timer
	heartbeatGen    uint64
	disconnectTimer *time.Timer
	disconnectGen   uint64

	tasks    chan func()   // serialized service callbacks
	done     chan struct{} // closed on entering StateClosed
	finished chan struct{} // closed once OnClose has been delivered

	// onClosed removes the session from its registry. Runs exactly once, on
	// the goroutine that completed the close.
	onClosed func(*Session)

	createdAt time.Time
}

// newSession creates a session in the connecting state and starts its
// dispatch goroutine. The disconnect clock starts immediately: a session no
// receiver ever attaches to closes itself after the configured delay.
func newSession(id string, svc Service, cfg *Config, logger *slog.Logger, onClosed func(*Session)) *Session {
	s := &Session{
		id:        id,
		service:   svc,
		config:    cfg,
		logger:    logger.With("session_id", id),
		state:     StateConnecting,
		tasks:     make(chan func(), taskQueueSize),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		onClosed:  onClosed,
		createdAt: time.Now(),
	}
	s.mu.Lock()
	s.armDisconnectLocked()
	s.mu.Unlock()
	go s.run()
	return s
}

// generateSessionID returns a cryptographically random session identifier.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms
		panic("server: rand.Read: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Age returns how long the session has existed.
func (s *Session) Age() time.Duration {
	return time.Since(s.createdAt)
}

// Send enqueues one outbound application message. If a receiver is attached
// the message is flushed immediately as a batch frame; otherwise it is
// buffered until the next receiver attaches. Returns ErrSessionClosed once a
// close has been initiated.
func (s *Session) Send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosing || s.state == StateClosed {
		return NewSessionError(s.id, "send", ErrSessionClosed)
	}
	s.queue = append(s.queue, msg)
	if s.state == StateOpen && s.recv != nil {
		s.flushLocked()
	}
	return nil
}

// Close initiates an orderly close with the given code and reason. If a
// receiver is attached the close frame is flushed at once and the session
// reaches closed; otherwise the session holds the frame in the closing state
// so one late receiver can collect it before the disconnect clock runs out.
// Closing an already closing or closed session is a no-op.
func (s *Session) Close(code int, reason string) error {
	if err := s.closeSession(code, reason, false); err != nil {
		return NewSessionError(s.id, "close", err)
	}
	return nil
}

// closeSession is the single close path. With force set there is no closing
// grace: the session goes straight to closed even without a receiver, which
// is what timeouts and server shutdown need.
func (s *Session) closeSession(code int, reason string, force bool) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case StateClosing:
		if !force {
			s.mu.Unlock()
			return ErrSessionClosed
		}
		// Keep the originally pending code and reason.
	default:
		s.closeCode, s.closeReason = code, reason
	}

	if s.recv != nil {
		s.writeFrameLocked(protocol.CloseFrame(s.closeCode, s.closeReason))
		s.finishReceiverLocked()
	} else if !force && s.state != StateClosing {
		s.state = StateClosing
		s.logger.Debug("session closing, holding close frame", "code", code)
		s.mu.Unlock()
		return nil
	}

	s.finishLocked()
	return nil
}

// finishLocked completes the transition to closed. The caller must hold s.mu;
// it is released here. The registry hook runs before done is closed, so
// anyone woken by the close already sees the session gone and the id free.
func (s *Session) finishLocked() {
	s.stopHeartbeatLocked()
	s.stopDisconnectLocked()
	s.state = StateClosed
	s.queue = nil
	s.logger.Debug("session closed", "code", s.closeCode, "reason", s.closeReason)
	s.mu.Unlock()
	if s.onClosed != nil {
		s.onClosed(s)
	}
	close(s.done)
}

// attach offers r to the session as its receiver. On the first attach the
// session emits the open frame, schedules OnOpen and becomes open. A second
// concurrent attach is rejected with ErrAnotherReceiver and the current
// receiver is left untouched. Attaching to a closing session delivers the
// pending close frame and finishes the close.
func (s *Session) attach(r receiver) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.recv != nil {
		s.mu.Unlock()
		return ErrAnotherReceiver
	}

	if s.state == StateClosing {
		s.recv = r
		s.writeFrameLocked(protocol.CloseFrame(s.closeCode, s.closeReason))
		s.finishReceiverLocked()
		s.finishLocked()
		return nil
	}

	s.recv = r
	s.stopDisconnectLocked()
	s.armHeartbeatLocked()

	if s.state == StateConnecting {
		s.state = StateOpen
		// First task ever queued for this session, so it cannot be dropped.
		s.enqueueLocked(func() { s.service.OnOpen(s) })
		s.logger.Debug("session opened")
		s.writeFrameLocked(protocol.OpenFrame())
	}

	// The open frame completes a polling exchange; only a receiver still
	// attached gets the buffered backlog now.
	if s.recv != nil && len(s.queue) > 0 {
		s.flushLocked()
	}
	s.mu.Unlock()
	return nil
}

// detach drops r if it is still the attached receiver. Transports call it
// when their client goes away; the session state is untouched so the next
// request can reattach.
func (s *Session) detach(r receiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recv != r {
		return
	}
	s.finishReceiverLocked()
}

// accept delivers inbound application messages, in order, as one callback
// task. Only an open session accepts messages; anything later is discarded.
func (s *Session) accept(msgs ...string) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	ok := s.enqueueLocked(func() {
		for _, m := range msgs {
			if s.State() != StateOpen {
				return
			}
			s.service.OnMessage(s, m)
		}
	})
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("inbound batch dropped, callback queue full", "count", len(msgs))
		return ErrQueueFull
	}
	return nil
}

// flushLocked hands the whole outbound buffer to the attached receiver as a
// single batch frame. Caller holds s.mu and has checked s.recv.
func (s *Session) flushLocked() {
	frame := protocol.MessageFrame(s.queue...)
	s.queue = nil
	s.writeFrameLocked(frame)
}

// writeFrameLocked pushes one frame to the attached receiver. On a write
// error the receiver is dropped and the session keeps its state so a later
// request can reattach. A polling receiver completes after one frame; a
// streaming receiver completes once its byte budget is spent.
func (s *Session) writeFrameLocked(f protocol.Frame) error {
	if s.recv == nil {
		return ErrNoReceiver
	}
	if err := s.recv.writeFrame(f); err != nil {
		s.logger.Debug("receiver write failed", "frame_type", f.Type.String(), "error", err)
		s.finishReceiverLocked()
		return err
	}
	s.wrote = true
	if !s.recv.streaming() || s.recv.exhausted() {
		s.finishReceiverLocked()
	}
	return nil
}

// finishReceiverLocked releases the attached receiver and clears it. The
// session survives; the disconnect clock restarts. Caller holds s.mu.
func (s *Session) finishReceiverLocked() {
	if s.recv == nil {
		return
	}
	s.recv.finish()
	s.recv = nil
	s.stopHeartbeatLocked()
	if s.state == StateConnecting || s.state == StateOpen || s.state == StateClosing {
		s.armDisconnectLocked()
	}
}

// run is the session's dispatch goroutine: it executes service callbacks one
// at a time in queue order, then delivers OnClose and exits once the session
// is closed. Tasks still queued at close time are drained first; an OnOpen
// that raced the close must precede OnClose, while drained message tasks see
// the closed state and discard themselves.
func (s *Session) run() {
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.done:
			for {
				select {
				case fn := <-s.tasks:
					fn()
				default:
					if s.service != nil {
						s.service.OnClose(s)
					}
					close(s.finished)
					return
				}
			}
		}
	}
}

// enqueueLocked queues fn for the dispatch goroutine without blocking.
// Returns false when the queue is full. Caller holds s.mu, which is what
// orders callbacks across concurrent exchanges.
func (s *Session) enqueueLocked(fn func()) bool {
	select {
	case s.tasks <- fn:
		return true
	default:
		return false
	}
}

// Heartbeat timer. Runs only while a receiver is attached; the generation
// counter keeps a fire that lost the race against a detach from acting.

func (s *Session) armHeartbeatLocked() {
	s.heartbeatGen++
	s.wrote = false
	gen := s.heartbeatGen
	s.heartbeatTimer = time.AfterFunc(s.config.HeartbeatInterval, func() { s.heartbeatFire(gen) })
}

func (s *Session) stopHeartbeatLocked() {
	s.heartbeatGen++
	if s.heartbeatTimer != nil {
		s.heartbeatTimer.Stop()
		s.heartbeatTimer = nil
	}
}

func (s *Session) heartbeatFire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.heartbeatGen || s.recv == nil || s.state != StateOpen {
		return
	}
	if !s.wrote {
		s.writeFrameLocked(protocol.HeartbeatFrame())
	}
	s.wrote = false
	if s.recv != nil {
		// Same generation: still the same attach epoch.
		s.heartbeatTimer = time.AfterFunc(s.config.HeartbeatInterval, func() { s.heartbeatFire(gen) })
	}
}

// Disconnect timer. Runs whenever no receiver is attached, from creation
// onward. A fire that lost the race against an attach is a no-op.

func (s *Session) armDisconnectLocked() {
	s.disconnectGen++
	gen := s.disconnectGen
	s.disconnectTimer = time.AfterFunc(s.config.DisconnectDelay, func() { s.disconnectFire(gen) })
}

func (s *Session) stopDisconnectLocked() {
	s.disconnectGen++
	if s.disconnectTimer != nil {
		s.disconnectTimer.Stop()
		s.disconnectTimer = nil
	}
}

func (s *Session) disconnectFire(gen uint64) {
	s.mu.Lock()
	if gen != s.disconnectGen || s.recv != nil || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.state != StateClosing {
		s.closeCode, s.closeReason = protocol.CloseSessionTimeout, "Session timed out"
	}
	s.logger.Debug("session timed out waiting for a receiver")
	s.finishLocked()
}
