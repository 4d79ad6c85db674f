package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sockline-dev/sockline/pkg/protocol"
)

// Handler is the complete SockJS endpoint tree for one service: greeting,
// info, iframe, the per-session transport URLs and the raw WebSocket
// endpoint. It serves paths relative to its mount point, so it can be
// mounted on any router or wrapped in middleware.
type Handler struct {
	config   *Config
	logger   *slog.Logger
	registry *Registry
	upgrader websocket.Upgrader

	mux chi.Router

	iframeDoc  []byte
	iframeETag string
}

// NewHandler builds a handler dispatching to svc. A nil cfg uses defaults.
func NewHandler(svc Service, cfg *Config) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("server: nil service")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg = cfg.Clone()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sockjs")

	h := &Handler{
		config:   cfg,
		logger:   logger,
		registry: newRegistry(svc, cfg, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
	if h.upgrader.CheckOrigin == nil {
		// Cross-origin by construction; transports other than WebSocket
		// accept any origin too.
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	h.iframeDoc, h.iframeETag = renderIframe(cfg.SockJSURL)

	mux := chi.NewRouter()
	mux.Get("/", h.greeting)
	mux.HandleFunc("/info", h.info)
	mux.HandleFunc(`/{file:iframe[a-z0-9._-]*\.html}`, h.iframe)
	mux.HandleFunc("/websocket", h.rawWebSocket)
	mux.HandleFunc("/{server}/{session}/{transport}", h.session)
	h.mux = mux

	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Registry exposes the session registry, mainly for stats and shutdown.
func (h *Handler) Registry() *Registry {
	return h.registry
}

// greeting is the plain-text root response clients use to probe the mount.
func (h *Handler) greeting(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	io.WriteString(w, "Welcome to SockJS!\n")
}

// session dispatches /{server}/{session}/{transport}. The server segment is
// opaque routing affinity for the client; only the session id matters here.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	srv := chi.URLParam(r, "server")
	sid := chi.URLParam(r, "session")
	name := chi.URLParam(r, "transport")

	if !validSegment(srv) || !validSegment(sid) {
		http.NotFound(w, r)
		return
	}

	if name == "websocket" {
		h.webSocket(w, r)
		return
	}

	tr, ok := transports[name]
	if !ok {
		http.NotFound(w, r)
		return
	}

	allowed := "OPTIONS, " + tr.method
	switch r.Method {
	case http.MethodOptions:
		writePreflight(w, r, allowed)
		return
	case tr.method:
	default:
		writeMethodNotAllowed(w, allowed)
		return
	}

	var cb string
	if tr.callback {
		cb = r.URL.Query().Get("c")
		if cb == "" {
			cb = r.URL.Query().Get("callback")
		}
		if cb == "" {
			http.Error(w, `"callback" parameter required`, http.StatusInternalServerError)
			return
		}
		if !validCallback(cb) {
			http.Error(w, `invalid "callback" parameter`, http.StatusInternalServerError)
			return
		}
	}

	if tr.role == roleSender {
		h.handleSend(w, r, tr, sid)
		return
	}
	h.handleReceive(w, r, tr, sid, cb)
}

// handleReceive runs one receiver exchange: headers and prelude go out
// unconditionally, then the session decides what frames follow. The handler
// goroutine parks until the receiver is released or the client goes away.
func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request, tr *transport, sid, cb string) {
	hdr := w.Header()
	hdr.Set("Content-Type", tr.contentType)
	setNoCache(hdr)
	if tr.cors {
		setCORS(hdr, r)
	}
	if h.config.CookieNeeded {
		setSessionCookie(w, r)
	}

	rcv := newHTTPReceiver(w, tr.envelope(cb), tr.streaming, h.config)
	w.WriteHeader(http.StatusOK)
	if tr.prelude != nil {
		if err := rcv.writeRaw(tr.prelude(cb)); err != nil {
			return
		}
	}

	sess, _, err := h.registry.getOrCreate(sid)
	if err != nil {
		// Draining: tell the client to go elsewhere.
		rcv.writeFrame(protocol.CloseFrame(protocol.CloseGoAway, "Go away!"))
		return
	}

	if err := sess.attach(rcv); err != nil {
		switch {
		case errors.Is(err, ErrAnotherReceiver):
			rcv.writeFrame(protocol.CloseFrame(protocol.CloseAnotherConnection, "Another connection still open"))
		case errors.Is(err, ErrSessionClosed):
			rcv.writeFrame(protocol.CloseFrame(protocol.CloseGoAway, "Go away!"))
		}
		return
	}

	select {
	case <-rcv.closed:
	case <-r.Context().Done():
		sess.detach(rcv)
	}
}

// handleSend feeds one payload into an existing session. Sending never
// creates a session: an unknown id is a plain 404 so a client with a stale
// id restarts cleanly.
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request, tr *transport, sid string) {
	hdr := w.Header()
	setNoCache(hdr)
	if tr.cors {
		setCORS(hdr, r)
	}
	if h.config.CookieNeeded {
		setSessionCookie(w, r)
	}

	sess, err := h.registry.get(sid)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	body, err := h.readSendBody(w, r, tr)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Payload too large.", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Payload expected.", http.StatusInternalServerError)
		return
	}

	msgs, err := protocol.DecodeMessages(body)
	if err != nil {
		if errors.Is(err, protocol.ErrInvalidJSON) {
			http.Error(w, "Broken JSON encoding.", http.StatusInternalServerError)
		} else {
			http.Error(w, "Payload expected.", http.StatusInternalServerError)
		}
		return
	}

	if err := sess.accept(msgs...); errors.Is(err, ErrSessionClosed) {
		http.NotFound(w, r)
		return
	}

	hdr.Set("Content-Type", tr.contentType)
	if tr.name == "jsonp_send" {
		io.WriteString(w, "ok")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readSendBody extracts the payload of a sender request. The jsonp variant
// accepts an HTML form with the payload in the d field; everything else is
// the raw body, whatever its declared content type.
func (h *Handler) readSendBody(w http.ResponseWriter, r *http.Request, tr *transport) ([]byte, error) {
	if h.config.MaxMessageSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(h.config.MaxMessageSize))
	}
	if tr.name == "jsonp_send" {
		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
			if err := r.ParseForm(); err != nil {
				return nil, err
			}
			return []byte(r.PostForm.Get("d")), nil
		}
	}
	return io.ReadAll(r.Body)
}

// validSegment reports whether a server or session id segment is usable.
// Dots are refused so ids cannot masquerade as files behind sloppy proxies.
func validSegment(s string) bool {
	return s != "" && !strings.Contains(s, ".")
}
