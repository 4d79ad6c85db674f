package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sockline-dev/sockline/pkg/protocol"
)

// wsReceiver drives one WebSocket connection as a session receiver. Unlike
// HTTP receivers it lives for the whole session: a socket is never handed
// back for another exchange and has no byte budget.
type wsReceiver struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// raw sockets carry bare message text instead of protocol frames.
	raw bool

	once sync.Once
}

func newWSReceiver(conn *websocket.Conn, cfg *Config, raw bool) *wsReceiver {
	return &wsReceiver{conn: conn, writeTimeout: cfg.WriteTimeout, raw: raw}
}

func (r *wsReceiver) writeFrame(f protocol.Frame) error {
	deadline := time.Now().Add(r.writeTimeout)
	if r.raw {
		switch f.Type {
		case protocol.FrameOpen:
			// Raw sockets have no open frame; the upgrade itself is the open.
			return nil
		case protocol.FrameHeartbeat:
			return r.conn.WriteControl(websocket.PingMessage, nil, deadline)
		case protocol.FrameClose:
			code := f.Code
			if code < 1000 || code > 4999 {
				code = websocket.CloseNormalClosure
			}
			msg := websocket.FormatCloseMessage(code, f.Reason)
			return r.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		case protocol.FrameMessage:
			for _, m := range f.Messages {
				r.conn.SetWriteDeadline(deadline)
				if err := r.conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
					return err
				}
			}
			return nil
		}
	}
	r.conn.SetWriteDeadline(deadline)
	return r.conn.WriteMessage(websocket.TextMessage, f.Encode())
}

func (r *wsReceiver) streaming() bool { return true }

func (r *wsReceiver) exhausted() bool { return false }

// finish runs the closing handshake and drops the connection, which also
// unblocks the read loop.
func (r *wsReceiver) finish() {
	r.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		r.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		r.conn.Close()
	})
}

// webSocket is the framed transport under /{server}/{session}/websocket.
// The id in the URL is deliberately unused: a socket needs no cross-request
// affinity, so every upgrade is its own session and two tabs can share a URL
// without stealing each other's connection.
func (h *Handler) webSocket(w http.ResponseWriter, r *http.Request) {
	h.upgradeSocket(w, r, false)
}

// rawWebSocket is the frameless endpoint for non-browser clients: one text
// message per application message, no open frame, heartbeats as pings.
func (h *Handler) rawWebSocket(w http.ResponseWriter, r *http.Request) {
	h.upgradeSocket(w, r, true)
}

func (h *Handler) upgradeSocket(w http.ResponseWriter, r *http.Request, raw bool) {
	if !h.config.WebSocket {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	// These checks mirror what the upgrader verifies, but clients probing
	// over plain HTTP expect these exact bodies.
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		http.Error(w, `Can "Upgrade" only to "WebSocket".`, http.StatusBadRequest)
		return
	}
	if !connectionHasUpgrade(r.Header.Get("Connection")) {
		http.Error(w, `"Connection" must be "Upgrade".`, http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	h.serveSocket(conn, raw)
}

// serveSocket owns the connection from upgrade to teardown: it creates the
// session, attaches the receiver and runs the read loop.
func (h *Handler) serveSocket(conn *websocket.Conn, raw bool) {
	defer conn.Close()
	if h.config.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(h.config.MaxMessageSize))
	}

	sess := newSession(generateSessionID(), h.registry.service, h.config, h.logger, h.registry.remove)
	rcv := newWSReceiver(conn, h.config, raw)

	if err := h.registry.add(sess); err != nil {
		rcv.writeFrame(protocol.CloseFrame(protocol.CloseGoAway, "Go away!"))
		rcv.finish()
		sess.closeSession(protocol.CloseGoAway, "Go away!", true)
		return
	}
	if err := sess.attach(rcv); err != nil {
		rcv.finish()
		sess.closeSession(protocol.CloseProtocolError, "Connection interrupted", true)
		return
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", "session_id", sess.ID(), "error", err)
			}
			sess.detach(rcv)
			sess.closeSession(protocol.CloseProtocolError, "Connection interrupted", true)
			return
		}
		if len(msg) == 0 {
			continue
		}

		var msgs []string
		if raw {
			msgs = []string{string(msg)}
		} else {
			msgs, err = protocol.DecodeSocketPayload(msg)
			if err != nil {
				// Unparsable framing kills the socket without a close frame.
				sess.detach(rcv)
				conn.Close()
				sess.closeSession(protocol.CloseProtocolError, "Broken framing", true)
				return
			}
		}
		sess.accept(msgs...)
	}
}

// connectionHasUpgrade reports whether the Connection header names the
// upgrade token, in any position of its comma-separated list.
func connectionHasUpgrade(header string) bool {
	for _, token := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(token), "Upgrade") {
			return true
		}
	}
	return false
}
