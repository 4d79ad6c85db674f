// Package protocol implements the SockJS wire protocol: frame types, their
// canonical text encodings, and the escaping rules shared by every transport.
//
// A SockJS server talks to clients in four frame kinds. Each has a one-letter
// canonical encoding that individual transports wrap in their own envelope
// (raw body, JSONP callback invocation, SSE event, script block):
//
//   - Open ("o"): sent exactly once, first, when a session opens
//   - Heartbeat ("h"): liveness signal on an idle channel
//   - Message ("a[...]"): a batch of application messages, order preserved
//   - Close ("c[code,\"reason\"]"): terminal, always the last frame
//
// # Escaping
//
// Message and reason strings are embedded in JSON string literals, but plain
// JSON encoding is not enough: several characters that are legal inside JSON
// break line-oriented polling transports or are unsafe inside <script>
// contexts. Quote and AppendQuote therefore escape quote, backslash,
// U+0000-U+001F, U+007F-U+009F, U+2028 and U+2029, and pass everything else
// through as UTF-8. A conformant JSON parser reverses the encoding exactly.
//
// # Client payloads
//
// Clients submit messages as a JSON array of strings (send transports) or as
// either an array or a single JSON string (websocket). DecodeMessages and
// DecodeSocketPayload parse these, distinguishing an absent payload from a
// malformed one so transports can answer with the exact error text SockJS
// clients match on.
//
// # Usage
//
//	frame := protocol.MessageFrame("hello", "world")
//	wire := frame.Encode() // a["hello","world"]
//
//	closing := protocol.CloseFrame(protocol.CloseGoAway, "Go away!")
//	wire = closing.Encode() // c[3000,"Go away!"]
package protocol
