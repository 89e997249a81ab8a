package server

import (
	"errors"
	"strings"
)

// State is a stage of a Session's lifecycle.
type State string

const (
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateJoining        State = "joining"
	StateActive         State = "active"
	StateClosing        State = "closing"
	StateClosed         State = "closed"
	StateRejected       State = "rejected"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateRejected
}

// CloseAuthRejected is the WebSocket close code sent when a connection's
// credential cannot be resolved to a user.
const CloseAuthRejected = 4000

var (
	// ErrSessionClosed is returned when delivering to a session that is
	// closing or closed. The frame is dropped.
	ErrSessionClosed = errors.New("session closed")
	// ErrSendBufferFull is returned when a session's outbound queue is full.
	// The frame is dropped.
	ErrSendBufferFull = errors.New("send buffer full")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
