package server

import (
	"errors"
	"fmt"

	"github.com/jathurchan/ridecore/dispatch"
	"github.com/jathurchan/ridecore/election"
	"github.com/jathurchan/ridecore/monitor"
	"github.com/jathurchan/ridecore/storage"
)

var (
	// ErrServerNotStarted indicates the server has not been started or is not yet ready.
	ErrServerNotStarted = errors.New("server: server not started or not ready")

	// ErrServerAlreadyStarted indicates an attempt to start an already running server.
	ErrServerAlreadyStarted = errors.New("server: server already started")

	// ErrServerStopped indicates the server has been stopped and cannot be restarted.
	ErrServerStopped = errors.New("server: server stopped")

	// ErrServerBusy indicates every worker is busy and the connection queue is full.
	ErrServerBusy = errors.New("server: server busy")

	// ErrRateLimited indicates the request was rejected due to rate limiting policies.
	ErrRateLimited = errors.New("server: request rate limited")

	// ErrShutdownTimeout indicates the server's graceful shutdown process timed out.
	ErrShutdownTimeout = errors.New("server: shutdown timed out")

	// ErrRequestTooLong indicates a request line longer than Config.MaxLineLength.
	ErrRequestTooLong = errors.New("server: request line too long")

	// ErrUnknownCommand indicates a request line with an unrecognized verb.
	ErrUnknownCommand = errors.New("server: unknown command")

	// ErrMissingDependencies is returned when a required dependency is not provided.
	ErrMissingDependencies = errors.New("server: missing required dependencies")
)

// ProtocolError describes a request line that could not be parsed or lacks
// the arguments its verb requires. The connection stays open.
type ProtocolError struct {
	Verb    string // The verb of the offending request, if one was parsed.
	Message string // A descriptive message returned to the client.
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(verb, message string) *ProtocolError {
	return &ProtocolError{Verb: verb, Message: message}
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Verb != "" {
		return fmt.Sprintf("server: protocol error in %s: %s", e.Verb, e.Message)
	}
	return "server: protocol error: " + e.Message
}

// ServerError represents a generic internal server error, potentially wrapping an underlying cause.
type ServerError struct {
	Operation string // The operation being performed when the error occurred.
	Cause     error  // The underlying error, if any.
	Message   string // A high-level message describing the server error.
}

// NewServerError creates a new ServerError.
func NewServerError(operation string, cause error, message string) *ServerError {
	return &ServerError{
		Operation: operation,
		Cause:     cause,
		Message:   message,
	}
}

// Error implements the error interface, providing context about the operation and cause.
func (e *ServerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("server: error during %s: %s (cause: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("server: error during %s: %s", e.Operation, e.Message)
}

// Unwrap provides compatibility with Go's errors.Is and errors.As by returning the cause.
func (e *ServerError) Unwrap() error {
	return e.Cause
}

// ErrorToResponse maps an error to the single-line reply sent to a client.
// Contention is reported as FAILED so that callers know a retry is theirs
// to make; everything else is an ERROR.
func ErrorToResponse(err error) string {
	if err == nil {
		return RespSuccess
	}

	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return "ERROR: " + protoErr.Message
	}

	switch {
	case errors.Is(err, dispatch.ErrRideBusy):
		return "FAILED: Ride being processed"
	case errors.Is(err, ErrRateLimited):
		return "FAILED: Rate limit exceeded"
	case errors.Is(err, ErrUnknownCommand):
		return "ERROR: Unknown command"
	case errors.Is(err, ErrRequestTooLong):
		return "ERROR: Request too long"
	case errors.Is(err, dispatch.ErrRideNotFound):
		return "ERROR: Ride not found"
	case errors.Is(err, dispatch.ErrDriverNotFound):
		return "ERROR: Driver not found"
	case errors.Is(err, dispatch.ErrNoDrivers):
		return "ERROR: No drivers available"
	case errors.Is(err, dispatch.ErrNoLeader):
		return "ERROR: No leader available"
	case errors.Is(err, dispatch.ErrInvalidTransition):
		return "ERROR: Invalid ride status transition"
	case errors.Is(err, election.ErrUnknownNode), errors.Is(err, storage.ErrNodeNotFound),
		errors.Is(err, monitor.ErrUnknownMember):
		return "ERROR: Node not found"
	case errors.Is(err, storage.ErrInsufficientReplicas):
		return "ERROR: Insufficient replicas"
	case errors.Is(err, storage.ErrInsufficientSpace):
		return "ERROR: Insufficient storage space"
	case errors.Is(err, storage.ErrFileNotFound):
		return "ERROR: File not found"
	case errors.Is(err, ErrServerBusy):
		return "ERROR: Server busy"
	}
	return "ERROR: " + err.Error()
}

// outcomeOf classifies a response line for metrics.
func outcomeOf(resp string) string {
	switch {
	case len(resp) >= len(RespError) && resp[:len(RespError)] == RespError:
		return OutcomeError
	case len(resp) >= len(RespFailed) && resp[:len(RespFailed)] == RespFailed:
		return OutcomeFailed
	default:
		return OutcomeSuccess
	}
}
