package protocol

import (
	"strconv"
)

// FrameType identifies the type of frame.
type FrameType uint8

const (
	FrameOpen      FrameType = iota // Session opened, sent exactly once
	FrameHeartbeat                  // Liveness signal
	FrameMessage                    // Batch of application messages
	FrameClose                      // Terminal close, sent exactly once
)

// String returns the string representation of the frame type.
func (ft FrameType) String() string {
	switch ft {
	case FrameOpen:
		return "Open"
	case FrameHeartbeat:
		return "Heartbeat"
	case FrameMessage:
		return "Message"
	case FrameClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// Close codes sent in Close frames. The values are part of the protocol and
// must stay stable for client compatibility.
const (
	// CloseProtocolError reports a protocol violation by the client, such as
	// an unparsable websocket frame.
	CloseProtocolError = 1002

	// CloseAnotherConnection rejects a second receiver while one is attached.
	CloseAnotherConnection = 2010

	// CloseGoAway is the normal closure initiated by the application or by
	// server shutdown.
	CloseGoAway = 3000

	// CloseSessionTimeout closes a session no receiver reconnected to within
	// the disconnect grace period.
	CloseSessionTimeout = 3001
)

// Frame is one protocol event with its canonical text encoding. Frames are
// immutable once constructed and carry no session identity; the session
// supplies context.
type Frame struct {
	Type     FrameType
	Messages []string // FrameMessage only
	Code     int      // FrameClose only
	Reason   string   // FrameClose only
}

// OpenFrame returns the frame a session emits when it opens.
func OpenFrame() Frame {
	return Frame{Type: FrameOpen}
}

// HeartbeatFrame returns a liveness frame.
func HeartbeatFrame() Frame {
	return Frame{Type: FrameHeartbeat}
}

// MessageFrame returns a batch frame carrying msgs in order.
func MessageFrame(msgs ...string) Frame {
	return Frame{Type: FrameMessage, Messages: msgs}
}

// CloseFrame returns the terminal frame with the given code and reason.
func CloseFrame(code int, reason string) Frame {
	return Frame{Type: FrameClose, Code: code, Reason: reason}
}

// Encode returns the canonical text encoding of the frame:
//
//	Open      → o
//	Heartbeat → h
//	Message   → a["msg",...]
//	Close     → c[code,"reason"]
//
// Transports wrap this text in their own envelope; none alter it.
func (f Frame) Encode() []byte {
	switch f.Type {
	case FrameOpen:
		return []byte{'o'}
	case FrameHeartbeat:
		return []byte{'h'}
	case FrameMessage:
		size := 4
		for _, m := range f.Messages {
			size += len(m) + 3
		}
		buf := make([]byte, 0, size)
		buf = append(buf, 'a', '[')
		for i, m := range f.Messages {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = AppendQuote(buf, m)
		}
		return append(buf, ']')
	case FrameClose:
		buf := make([]byte, 0, len(f.Reason)+16)
		buf = append(buf, 'c', '[')
		buf = strconv.AppendInt(buf, int64(f.Code), 10)
		buf = append(buf, ',')
		buf = AppendQuote(buf, f.Reason)
		return append(buf, ']')
	default:
		return nil
	}
}

// String returns the canonical encoding, for logging.
func (f Frame) String() string {
	return string(f.Encode())
}
