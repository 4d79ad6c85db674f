package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/sockline-dev/sockline/pkg/protocol"
)

// frameEncoder renders a frame into a transport's wire envelope, trailing
// newline or script wrapper included.
type frameEncoder func(f protocol.Frame) []byte

// httpReceiver adapts one in-flight HTTP exchange into a session receiver.
// The session is the only caller of writeFrame and finish, always under its
// own lock, so no internal locking is needed beyond the release Once. The
// handler goroutine blocks on closed and ends the exchange once it fires.
type httpReceiver struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	encode frameEncoder

	isStream     bool
	limit        int64 // streaming byte budget, 0 for polling
	written      int64
	writeTimeout time.Duration

	closed chan struct{}
	once   sync.Once
}

func newHTTPReceiver(w http.ResponseWriter, enc frameEncoder, stream bool, cfg *Config) *httpReceiver {
	r := &httpReceiver{
		w:            w,
		rc:           http.NewResponseController(w),
		encode:       enc,
		isStream:     stream,
		writeTimeout: cfg.WriteTimeout,
		closed:       make(chan struct{}),
	}
	if stream {
		r.limit = int64(cfg.ResponseLimit)
	}
	return r
}

// writeRaw pushes bytes that do not count against the byte budget. Transports
// use it for their prelude before handing the receiver to a session.
func (r *httpReceiver) writeRaw(p []byte) error {
	r.setDeadline()
	if _, err := r.w.Write(p); err != nil {
		return err
	}
	r.rc.Flush()
	return nil
}

func (r *httpReceiver) writeFrame(f protocol.Frame) error {
	r.setDeadline()
	b := r.encode(f)
	n, err := r.w.Write(b)
	r.written += int64(n)
	if err != nil {
		return err
	}
	r.rc.Flush()
	return nil
}

func (r *httpReceiver) streaming() bool {
	return r.isStream
}

func (r *httpReceiver) exhausted() bool {
	return r.isStream && r.written >= r.limit
}

// finish wakes the handler goroutine so the exchange completes. Idempotent;
// safe to race between the session and the handler's context watcher.
func (r *httpReceiver) finish() {
	r.once.Do(func() { close(r.closed) })
}

// setDeadline bounds the next write. Recorders used in tests do not support
// deadlines; that error is ignored.
func (r *httpReceiver) setDeadline() {
	if r.writeTimeout > 0 {
		r.rc.SetWriteDeadline(time.Now().Add(r.writeTimeout))
	}
}
