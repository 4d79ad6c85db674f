package server

import (
	"net/http"
	"time"
)

const (
	// affinityCookie is the cookie name sticky load balancers key on.
	affinityCookie = "JSESSIONID"

	// oneYear is the cache lifetime, in seconds, for immutable responses.
	oneYear = 365 * 24 * 60 * 60
)

// setNoCache marks a response uncacheable. Every session exchange carries
// these headers; a cached frame would corrupt the protocol.
func setNoCache(h http.Header) {
	h.Set("Cache-Control", "no-store, no-cache, no-transform, must-revalidate, max-age=0")
}

// setCacheable marks a response cacheable for a year, for content that never
// changes for a given URL.
func setCacheable(h http.Header) {
	h.Set("Cache-Control", "public, max-age=31536000")
	h.Set("Expires", time.Now().AddDate(1, 0, 0).UTC().Format(http.TimeFormat))
}

// setCORS reflects the request origin. Browsers reject wildcard responses on
// credentialed requests, so a concrete origin is echoed back and credentials
// allowed; the "null" origin some browsers send for local files degrades to
// the wildcard.
func setCORS(h http.Header, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		h.Set("Access-Control-Allow-Origin", "*")
		return
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
}

// setSessionCookie echoes the client's affinity cookie, minting the dummy
// value when there is none. Only servers configured with CookieNeeded call
// this; the cookie carries no state, it only pins a load balancer backend.
func setSessionCookie(w http.ResponseWriter, r *http.Request) {
	v := "dummy"
	if c, err := r.Cookie(affinityCookie); err == nil && c.Value != "" {
		v = c.Value
	}
	http.SetCookie(w, &http.Cookie{Name: affinityCookie, Value: v, Path: "/"})
}

// writePreflight answers a CORS preflight: cacheable, empty, and advertising
// the given methods. Requested headers are allowed wholesale.
func writePreflight(w http.ResponseWriter, r *http.Request, methods string) {
	h := w.Header()
	setCacheable(h)
	setCORS(h, r)
	h.Set("Access-Control-Allow-Methods", methods)
	h.Set("Access-Control-Max-Age", "31536000")
	if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
		h.Set("Access-Control-Allow-Headers", req)
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeMethodNotAllowed answers a disallowed method with the permitted set
// and an empty body.
func writeMethodNotAllowed(w http.ResponseWriter, methods string) {
	w.Header().Set("Allow", methods)
	w.WriteHeader(http.StatusMethodNotAllowed)
}
