package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for common session and server error conditions.
var (
	// ErrSessionClosed is returned when an operation is attempted on a
	// closing or closed session.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrSessionNotFound is returned when a session id does not exist and
	// the operation is not allowed to create one.
	ErrSessionNotFound = errors.New("server: session not found")

	// ErrAnotherReceiver is returned when a receiver attach is attempted
	// while another receiver is already attached.
	ErrAnotherReceiver = errors.New("server: another receiver attached")

	// ErrNoReceiver is returned when a frame write finds no attached receiver.
	ErrNoReceiver = errors.New("server: no receiver attached")

	// ErrQueueFull is returned when the callback queue is full and an
	// inbound batch is dropped.
	ErrQueueFull = errors.New("server: callback queue full")

	// ErrRegistryClosed is returned when a session lookup or create is
	// attempted after shutdown has begun.
	ErrRegistryClosed = errors.New("server: registry closed")

	// ErrInvalidConfig is returned when a configuration value is out of range.
	ErrInvalidConfig = errors.New("server: invalid config")
)

// SessionError wraps an error with session context for debugging.
type SessionError struct {
	SessionID string
	Op        string // Operation that failed
	Err       error  // Underlying error
}

// Error returns the error message with session context.
func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError.
func NewSessionError(sessionID, op string, err error) *SessionError {
	return &SessionError{
		SessionID: sessionID,
		Op:        op,
		Err:       err,
	}
}
