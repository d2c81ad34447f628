package gateway

import (
	"errors"
	"fmt"

	"nhooyr.io/websocket"
)

var (
	ErrPrivilegedIntentsRequired = errors.New("privileged intents required: enable them for the application or remove them from the configured intents")
	ErrInvalidHeartbeatInterval  = errors.New("invalid heartbeat interval")
	ErrExpectedHello             = errors.New("expected hello as the first payload")
	ErrHeartbeatTimeout          = errors.New("heartbeat timed out")
	ErrMissingToken              = errors.New("missing token")
	ErrNotConnected              = errors.New("connection is not open")
	ErrConnectionClosed          = errors.New("connection closed")
	ErrConnectionUsed            = errors.New("connection has already been run")
)

// CloseError is returned when a connection ended with a close code, either
// sent by the gateway or requested locally.
type CloseError struct {
	Code   websocket.StatusCode
	Reason string

	// Requested is set when the close was asked for by the client.
	Requested bool

	Err error
}

func (e *CloseError) Error() string {
	text := fmt.Sprintf("gateway closed with code %d", e.Code)

	if e.Reason != "" {
		text += ": " + e.Reason
	}

	if e.Err != nil {
		text += ": " + e.Err.Error()
	}

	return text
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// ReconnectError is returned when the gateway asked for a new connection.
type ReconnectError struct {
	Resume bool
	Op     string
}

func (e *ReconnectError) Error() string {
	return fmt.Sprintf("gateway requested a reconnect with %s (resume: %t)", e.Op, e.Resume)
}
