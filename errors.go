package streambus

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is on any error returned by the bus.
var (
	ErrConnection        = errors.New("streambus: connection error")
	ErrPublish           = errors.New("streambus: publish failed")
	ErrSubscriptionSetup = errors.New("streambus: subscription setup failed")
	ErrHandler           = errors.New("streambus: handler failed")
	ErrSerialization     = errors.New("streambus: serialization failed")
	ErrClaim             = errors.New("streambus: claim failed")
	ErrNotFound          = errors.New("streambus: not found")
)

// Validation and lifecycle errors.
var (
	ErrBusClosed            = errors.New("streambus: bus is closed")
	ErrNotConnected         = errors.New("streambus: bus is not connected")
	ErrNoStoreConfigured    = errors.New("streambus: no log store configured")
	ErrInvalidEventType     = errors.New("streambus: event type must not be empty")
	ErrInvalidPattern       = errors.New("streambus: invalid subscription pattern")
	ErrInvalidSubscription  = errors.New("streambus: handler must not be nil")
	ErrSubscriptionNotFound = errors.New("streambus: subscription not found")
	ErrGroupExists          = errors.New("streambus: consumer group already exists")
	ErrObserverPoolShutdown = errors.New("streambus: observer pool shutdown timeout")
)

// Error classifies a failure by Kind while keeping the underlying cause.
type Error struct {
	Kind   error
	Op     string
	Stream string
	Err    error
}

func newError(kind error, op, stream string, err error) *Error {
	return &Error{Kind: kind, Op: op, Stream: stream, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.Error() + ": " + e.Op
	if e.Stream != "" {
		msg += " " + e.Stream
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// PanicError is produced when a handler panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic recovered: %v", e.Value) }

// UnknownStoreError is returned by NewStore for unregistered names.
type UnknownStoreError struct{ Name string }

func (e UnknownStoreError) Error() string { return fmt.Sprintf("unknown log store: %s", e.Name) }

// stackOf extracts a stack trace for dead-letter records when one is known.
func stackOf(err error) string {
	var pe *PanicError
	if errors.As(err, &pe) {
		return string(pe.Stack)
	}
	return ""
}
