package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sockline-dev/sockline/pkg/protocol"
)

// testConfig returns a config tuned for tests: quiet logger, default
// protocol timings otherwise.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

// echoService bounces every message straight back.
type echoService struct{}

func (echoService) OnOpen(s *Session)                {}
func (echoService) OnMessage(s *Session, msg string) { s.Send(msg) }
func (echoService) OnClose(s *Session)               {}

// closerService echoes until it sees "bye", then closes the session.
type closerService struct{}

func (closerService) OnOpen(s *Session) {}
func (closerService) OnMessage(s *Session, msg string) {
	if msg == "bye" {
		s.Close(protocol.CloseGoAway, "Go away!")
		return
	}
	s.Send(msg)
}
func (closerService) OnClose(s *Session) {}

// recordingService captures the callback sequence for order assertions.
type recordingService struct {
	mu     sync.Mutex
	events []string

	opened   chan *Session
	messages chan string
	closed   chan struct{}
}

func newRecordingService() *recordingService {
	return &recordingService{
		opened:   make(chan *Session, 8),
		messages: make(chan string, 64),
		closed:   make(chan struct{}, 8),
	}
}

func (r *recordingService) record(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingService) OnOpen(s *Session) {
	r.record("open")
	r.opened <- s
}

func (r *recordingService) OnMessage(s *Session, msg string) {
	r.record("msg:" + msg)
	r.messages <- msg
}

func (r *recordingService) OnClose(s *Session) {
	r.record("close")
	r.closed <- struct{}{}
}

func (r *recordingService) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// fakeReceiver is an in-memory receiver for direct session tests.
type fakeReceiver struct {
	mu       sync.Mutex
	frames   []protocol.Frame
	stream   bool
	failing  bool
	spentAt  int // frame count after which exhausted reports true
	released bool
}

func (f *fakeReceiver) writeFrame(fr protocol.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("receiver gone")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeReceiver) streaming() bool { return f.stream }

func (f *fakeReceiver) exhausted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stream && f.spentAt > 0 && len(f.frames) >= f.spentAt
}

func (f *fakeReceiver) finish() {
	f.mu.Lock()
	f.released = true
	f.mu.Unlock()
}

func (f *fakeReceiver) Encoded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, fr := range f.frames {
		out[i] = string(fr.Encode())
	}
	return out
}

func (f *fakeReceiver) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

// waitForState polls until the session reaches want.
func waitForState(t *testing.T, s *Session, want SessionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, still %v", want, s.State())
}

// waitForAttached polls until the session has a receiver attached.
func waitForAttached(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		attached := s.recv != nil
		s.mu.Unlock()
		if attached {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a receiver to attach")
}

// waitForClosed waits for the recording service to observe OnClose.
func waitForClosed(t *testing.T, svc *recordingService) {
	t.Helper()
	select {
	case <-svc.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}
}
