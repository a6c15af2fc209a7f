package delivery

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/eventforge/internal/destination"
)

var (
	// ErrCallerGone is the cancellation cause when the sink stops accepting lines.
	ErrCallerGone = errors.New("caller disconnected")

	// ErrRunStarted is returned when Stream is called twice on one Run.
	ErrRunStarted = errors.New("run already started")
)

// Transport operations reported in TransportError.
const (
	OpConnect = "connect"
	OpSend    = "send"
)

// TransportError is a socket-level delivery failure.
type TransportError struct {
	Op       string
	Protocol destination.Protocol
	Addr     string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Op == OpConnect {
		return fmt.Sprintf("Could not connect to %s syslog server at %s. Details: %v", e.Protocol, e.Addr, e.Err)
	}
	return fmt.Sprintf("Failed to send log to syslog server. Details: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FailureKind classifies a failed run in its terminal line.
type FailureKind string

const (
	FailureTransport FailureKind = "transport error"
	FailureGenerator FailureKind = "generator failed"
	FailureCancelled FailureKind = "generation cancelled"
)

// label is the metrics label for the kind.
func (k FailureKind) label() string {
	switch k {
	case FailureTransport:
		return "transport_error"
	case FailureGenerator:
		return "generator_failed"
	default:
		return "cancelled"
	}
}

// RunError is the failure a run ended with.
type RunError struct {
	Kind FailureKind
	Err  error
}

func (e *RunError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}
