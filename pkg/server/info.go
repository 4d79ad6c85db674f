package server

import (
	"encoding/json"
	"math/rand"
	"net/http"
)

// infoResponse is the capability document clients fetch before picking a
// transport.
type infoResponse struct {
	// Websocket reports whether the WebSocket transport is enabled.
	Websocket bool `json:"websocket"`

	// Origins is a legacy field older clients expect; it is always the
	// wildcard pair since CORS headers are what actually gate access.
	Origins []string `json:"origins"`

	// CookieNeeded tells clients to stick to cookie-compatible transports
	// because a JSESSIONID load balancer fronts this server.
	CookieNeeded bool `json:"cookie_needed"`

	// Entropy seeds the client's random generator so ids stay distinct
	// across clients with poor local randomness.
	Entropy uint32 `json:"entropy"`
}

func (h *Handler) info(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		writePreflight(w, r, "OPTIONS, GET")
		return
	case http.MethodGet:
	default:
		writeMethodNotAllowed(w, "OPTIONS, GET")
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "application/json; charset=UTF-8")
	setNoCache(hdr)
	setCORS(hdr, r)

	json.NewEncoder(w).Encode(infoResponse{
		Websocket:    h.config.WebSocket,
		Origins:      []string{"*:*"},
		CookieNeeded: h.config.CookieNeeded,
		Entropy:      rand.Uint32(),
	})
}
