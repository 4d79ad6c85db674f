package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sockline-dev/sockline/pkg/protocol"
)

// transportRole distinguishes the two halves of the polling protocol.
type transportRole uint8

const (
	// roleReceiver exchanges carry frames server to client.
	roleReceiver transportRole = iota

	// roleSender exchanges carry message payloads client to server.
	roleSender
)

// transport describes one URL variant under /{server}/{session}/{name}.
// WebSocket is routed separately; everything here runs over plain HTTP.
type transport struct {
	name        string
	method      string // accepted method, OPTIONS aside
	role        transportRole
	streaming   bool
	contentType string

	// cors marks the XHR family, the only endpoints browsers reach
	// cross-origin without a callback trick.
	cors bool

	// callback marks transports that interpolate a client-supplied JavaScript
	// callback name and therefore require the c/callback query parameter.
	callback bool

	// prelude is written once, before any frame. May be nil.
	prelude func(cb string) []byte

	// envelope builds the per-frame encoder for one exchange.
	envelope func(cb string) frameEncoder
}

// transports indexes the HTTP transport variants by URL segment.
var transports = map[string]*transport{
	"xhr": {
		name:        "xhr",
		method:      http.MethodPost,
		role:        roleReceiver,
		contentType: "application/json; charset=UTF-8",
		cors:        true,
		envelope:    func(string) frameEncoder { return encodeNewline },
	},
	"xhr_streaming": {
		name:        "xhr_streaming",
		method:      http.MethodPost,
		role:        roleReceiver,
		streaming:   true,
		contentType: "application/json; charset=UTF-8",
		cors:        true,
		prelude:     func(string) []byte { return xhrStreamingPrelude() },
		envelope:    func(string) frameEncoder { return encodeNewline },
	},
	"xhr_send": {
		name:        "xhr_send",
		method:      http.MethodPost,
		role:        roleSender,
		contentType: "text/plain; charset=UTF-8",
		cors:        true,
	},
	"eventsource": {
		name:        "eventsource",
		method:      http.MethodGet,
		role:        roleReceiver,
		streaming:   true,
		contentType: "text/event-stream; charset=UTF-8",
		prelude:     func(string) []byte { return []byte("\r\n") },
		envelope:    func(string) frameEncoder { return encodeEventSource },
	},
	"jsonp": {
		name:        "jsonp",
		method:      http.MethodGet,
		role:        roleReceiver,
		contentType: "application/javascript; charset=UTF-8",
		callback:    true,
		envelope: func(cb string) frameEncoder {
			return func(f protocol.Frame) []byte { return encodeJSONP(cb, f) }
		},
	},
	"jsonp_send": {
		name:        "jsonp_send",
		method:      http.MethodPost,
		role:        roleSender,
		contentType: "text/plain; charset=UTF-8",
	},
	"htmlfile": {
		name:        "htmlfile",
		method:      http.MethodGet,
		role:        roleReceiver,
		streaming:   true,
		contentType: "text/html; charset=UTF-8",
		callback:    true,
		prelude:     htmlfileDocument,
		envelope:    func(string) frameEncoder { return encodeHTMLFile },
	},
}

// encodeNewline terminates each frame with a newline, the envelope shared by
// xhr polling and xhr streaming.
func encodeNewline(f protocol.Frame) []byte {
	return append(f.Encode(), '\n')
}

// encodeEventSource wraps a frame as a server-sent event.
func encodeEventSource(f protocol.Frame) []byte {
	b := make([]byte, 0, len("data: \r\n\r\n")+32)
	b = append(b, "data: "...)
	b = append(b, f.Encode()...)
	b = append(b, "\r\n\r\n"...)
	return b
}

// encodeJSONP hands the frame to the page's callback as a string literal, so
// the frame text is escaped a second time.
func encodeJSONP(cb string, f protocol.Frame) []byte {
	b := make([]byte, 0, len(cb)+40)
	b = append(b, cb...)
	b = append(b, '(')
	b = protocol.AppendQuote(b, string(f.Encode()))
	b = append(b, ");\r\n"...)
	return b
}

// encodeHTMLFile delivers a frame to the htmlfile document's p function.
func encodeHTMLFile(f protocol.Frame) []byte {
	b := make([]byte, 0, 64)
	b = append(b, "<script>\np("...)
	b = protocol.AppendQuote(b, string(f.Encode()))
	b = append(b, ");\n</script>\r\n"...)
	return b
}

// xhrStreamingPrelude is 2048 heartbeat characters and a newline. Some
// proxies buffer the response start; the flood pushes real frames through.
func xhrStreamingPrelude() []byte {
	b := make([]byte, 2049)
	for i := range b {
		b[i] = 'h'
	}
	b[2048] = '\n'
	return b
}

// htmlfileTemplate is the streaming document for the htmlfile transport. The
// body stays open; frames arrive as script chunks calling p.
const htmlfileTemplate = `<!doctype html>
<html><head>
  <meta http-equiv="X-UA-Compatible" content="IE=edge" />
  <meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
</head><body><h2>Don't panic!</h2>
  <script>
    document.domain = document.domain;
    var c = parent.%s;
    c.start();
    function p(d) {c.message(d);};
    window.onload = function() {c.stop();};
  </script>`

// htmlfileDocument renders the document for one callback, padded past the
// 1024 bytes some browsers need before they start parsing.
func htmlfileDocument(cb string) []byte {
	doc := fmt.Sprintf(htmlfileTemplate, cb)
	if pad := 1024 - len(doc); pad > 0 {
		doc += strings.Repeat(" ", pad)
	}
	return []byte(doc + "\r\n\r\n")
}

// validCallback reports whether a client-supplied callback name is plain
// enough to interpolate into a script.
func validCallback(cb string) bool {
	if cb == "" {
		return false
	}
	for i := 0; i < len(cb); i++ {
		c := cb[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '.' || c == '-':
		default:
			return false
		}
	}
	return true
}
