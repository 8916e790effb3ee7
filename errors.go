package wampy

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionClosed is returned to callers parked on a pending exchange when
// the session closes underneath them, and by any operation attempted on a
// closed or failed session.
var ErrSessionClosed = errors.New("wampy: session closed")

// ConnectionError reports a transport that failed to establish or dropped.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("wampy: connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports either an ERROR message sent by the router or an
// identifier the Registry cannot resolve. URI is the WAMP error URI (e.g.
// "wamp.error.no_such_procedure") when the router supplied one.
type ProtocolError struct {
	URI     string
	Message string
	Details map[string]any
}

func (e *ProtocolError) Error() string {
	if e.URI != "" && e.Message != "" {
		return fmt.Sprintf("wampy: protocol error %s: %s", e.URI, e.Message)
	}
	if e.URI != "" {
		return fmt.Sprintf("wampy: protocol error %s", e.URI)
	}
	return fmt.Sprintf("wampy: protocol error: %s", e.Message)
}

// WelcomeAbortedError reports a router that answered HELLO with ABORT.
type WelcomeAbortedError struct {
	Reason  string
	Message string
}

func (e *WelcomeAbortedError) Error() string {
	return fmt.Sprintf("wampy: handshake aborted by router: %s (%s)", e.Reason, e.Message)
}

// ConfigurationError reports required configuration that is missing, such as
// an absent authentication secret when the router issues a CHALLENGE.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "wampy: configuration error: " + e.Reason
}

// TimeoutError reports a bounded wait that elapsed without the awaited reply.
// The session is left in its current state and remains usable.
type TimeoutError struct {
	Awaiting string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("wampy: timed out after %s awaiting %s", e.Timeout, e.Awaiting)
}

// DecodeError reports a frame that could not be decoded into a WAMP message.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wampy: decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
