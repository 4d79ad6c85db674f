package protocol

import (
	"encoding/json"
	"errors"
)

// Payload errors. Transports map these to the exact response texts SockJS
// clients match on.
var (
	// ErrEmptyPayload reports an absent payload, or one that parsed but was
	// not an array of strings.
	ErrEmptyPayload = errors.New("protocol: payload expected")

	// ErrInvalidJSON reports a payload that is not valid JSON.
	ErrInvalidJSON = errors.New("protocol: broken JSON encoding")
)

// DecodeMessages parses a client submission: a JSON array of message strings.
// Send transports (xhr_send, jsonp_send) accept nothing else.
func DecodeMessages(body []byte) ([]string, error) {
	if len(body) == 0 {
		return nil, ErrEmptyPayload
	}
	var msgs []string
	if err := json.Unmarshal(body, &msgs); err != nil {
		if !json.Valid(body) {
			return nil, ErrInvalidJSON
		}
		// Valid JSON of the wrong shape counts as no payload.
		return nil, ErrEmptyPayload
	}
	return msgs, nil
}

// DecodeSocketPayload parses one websocket text frame from a client: either a
// JSON array of messages or a single JSON string. An empty frame decodes to no
// messages and no error; clients send those as keepalives.
func DecodeSocketPayload(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var msgs []string
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, ErrInvalidJSON
		}
		return msgs, nil
	}
	var msg string
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, ErrInvalidJSON
	}
	return []string{msg}, nil
}
