package bridgeerr

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Error types for bridge operations

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// ErrTypeBind indicates the listening port could not be bound
	ErrTypeBind ErrorType = iota
	// ErrTypeNotConnected indicates a send on a connection that is not (or no longer) open
	ErrTypeNotConnected
	// ErrTypeHostUnavailable indicates the host execution context has been torn down
	ErrTypeHostUnavailable
	// ErrTypeDiscoveryTransient indicates a recoverable discovery failure (client restart, name collision)
	ErrTypeDiscoveryTransient
	// ErrTypeResolveTimeout indicates a service could not be resolved in time
	ErrTypeResolveTimeout
	// ErrTypeAlreadyRunning indicates a start on an endpoint whose worker is still alive
	ErrTypeAlreadyRunning
	// ErrTypeUnknown indicates an unexpected failure, including recovered panics
	ErrTypeUnknown
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeBind:
		return "Bind Error"
	case ErrTypeNotConnected:
		return "Not Connected"
	case ErrTypeHostUnavailable:
		return "Host Unavailable"
	case ErrTypeDiscoveryTransient:
		return "Discovery Transient Failure"
	case ErrTypeResolveTimeout:
		return "Resolve Timeout"
	case ErrTypeAlreadyRunning:
		return "Already Running"
	case ErrTypeUnknown:
		return "Unknown Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Error is the single error type returned across endpoint and session APIs.
type Error struct {
	Type     ErrorType // Category of error
	Message  string    // Human-readable error message
	Endpoint string    // Endpoint or session that raised it (e.g. "server :8080")
	Err      error     // Underlying error (if any)
}

// Error implements the error interface
func (e *Error) Error() string {
	prefix := e.Type.String()
	if e.Endpoint != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, e.Endpoint)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Type, so the sentinels below work with
// errors.Is regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Sentinels for errors.Is comparisons.
var (
	ErrBind               = &Error{Type: ErrTypeBind, Message: "bind failed"}
	ErrNotConnected       = &Error{Type: ErrTypeNotConnected, Message: "not connected"}
	ErrHostUnavailable    = &Error{Type: ErrTypeHostUnavailable, Message: "host context torn down"}
	ErrDiscoveryTransient = &Error{Type: ErrTypeDiscoveryTransient, Message: "discovery client failure"}
	ErrResolveTimeout     = &Error{Type: ErrTypeResolveTimeout, Message: "resolve timed out"}
	ErrAlreadyRunning     = &Error{Type: ErrTypeAlreadyRunning, Message: "already running"}
)

// NewBindError classifies a listen failure for addr.
func NewBindError(addr string, err error) *Error {
	msg := fmt.Sprintf("cannot listen on %s", addr)
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		msg = fmt.Sprintf("address %s already in use", addr)
	case errors.Is(err, syscall.EACCES), errors.Is(err, os.ErrPermission):
		msg = fmt.Sprintf("permission denied binding %s", addr)
	default:
		var addrErr *net.AddrError
		if errors.As(err, &addrErr) {
			msg = fmt.Sprintf("invalid listen address %s", addr)
		}
	}
	return &Error{
		Type:     ErrTypeBind,
		Message:  msg,
		Endpoint: addr,
		Err:      err,
	}
}

// NewNotConnected reports a send on a connection that is not open.
func NewNotConnected(endpoint, what string) *Error {
	return &Error{
		Type:     ErrTypeNotConnected,
		Message:  what,
		Endpoint: endpoint,
	}
}

// NewHostUnavailable reports an event dropped because the host is gone.
func NewHostUnavailable(event string) *Error {
	return &Error{
		Type:    ErrTypeHostUnavailable,
		Message: fmt.Sprintf("dropping %s", event),
	}
}

// NewTransient wraps a recoverable discovery failure.
func NewTransient(session, message string, err error) *Error {
	return &Error{
		Type:     ErrTypeDiscoveryTransient,
		Message:  message,
		Endpoint: session,
		Err:      err,
	}
}

// NewResolveTimeout reports that name could not be resolved.
func NewResolveTimeout(session, name string, err error) *Error {
	return &Error{
		Type:     ErrTypeResolveTimeout,
		Message:  fmt.Sprintf("could not resolve %q", name),
		Endpoint: session,
		Err:      err,
	}
}

// NewAlreadyRunning reports a second start on a live endpoint.
func NewAlreadyRunning(endpoint string) *Error {
	return &Error{
		Type:     ErrTypeAlreadyRunning,
		Message:  "worker already running",
		Endpoint: endpoint,
	}
}

// FromPanic converts a recovered panic value into an Unknown error.
func FromPanic(endpoint string, recovered interface{}) *Error {
	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("%v", recovered)
	}
	return &Error{
		Type:     ErrTypeUnknown,
		Message:  "recovered panic",
		Endpoint: endpoint,
		Err:      err,
	}
}

// TypeOf returns the ErrorType of err, or ErrTypeUnknown if err is not an *Error.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrTypeUnknown
}

// IsNotConnected checks if an error is a NotConnected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsHostUnavailable checks if an error is a HostUnavailable error
func IsHostUnavailable(err error) bool {
	return errors.Is(err, ErrHostUnavailable)
}

// IsBindError checks if an error is a Bind error
func IsBindError(err error) bool {
	return errors.Is(err, ErrBind)
}
