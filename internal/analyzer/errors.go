package analyzer

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every non-success outcome of a client call.
// These are the only outcomes Analyze can produce besides a parsed
// response.
type ErrorKind string

// Client error kinds.
const (
	// KindUnreachable means the service endpoint could not be dialed.
	KindUnreachable ErrorKind = "unreachable"
	// KindHandshakeFailed means TCP connected but the WebSocket upgrade
	// was refused.
	KindHandshakeFailed ErrorKind = "handshake_failed"
	// KindTimeout means the per-service deadline elapsed before a full
	// response arrived. The connection is discarded, never reused.
	KindTimeout ErrorKind = "timeout"
	// KindProtocolError means the worker sent a frame that does not
	// satisfy the response contract.
	KindProtocolError ErrorKind = "protocol_error"
	// KindRemoteError means the worker completed the exchange but
	// reported its own failure. Does not indicate transport trouble.
	KindRemoteError ErrorKind = "remote_error"
	// KindCancelled means the caller's context was cancelled.
	KindCancelled ErrorKind = "cancelled"
	// KindUnavailable means the circuit breaker fast-failed the call
	// without opening a connection.
	KindUnavailable ErrorKind = "unavailable"
)

// TripsBreaker reports whether this kind counts toward the consecutive
// failure threshold of the circuit breaker. Remote errors never trip it:
// a worker that reliably reports failures is still live.
func (k ErrorKind) TripsBreaker() bool {
	switch k {
	case KindUnreachable, KindHandshakeFailed, KindTimeout:
		return true
	default:
		return false
	}
}

// Error is the typed error returned by client calls.
type Error struct {
	Kind    ErrorKind
	Service Service
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s analyzer: %s: %s", e.Service, e.Kind, e.Message)
	}

	if e.Err != nil {
		return fmt.Sprintf("%s analyzer: %s: %v", e.Service, e.Kind, e.Err)
	}

	return fmt.Sprintf("%s analyzer: %s", e.Service, e.Kind)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds a client error for the given service and kind.
func newError(service Service, kind ErrorKind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Service: service,
		Message: message,
		Err:     cause,
	}
}

// KindOf extracts the ErrorKind from err. Unknown errors map to
// KindProtocolError for wire-level surprises wrapped by the client and to
// empty string for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var clientErr *Error
	if errors.As(err, &clientErr) {
		return clientErr.Kind
	}

	return KindProtocolError
}
