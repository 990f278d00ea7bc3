package probe

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled matches every error caused by the caller's context.
	ErrCancelled = errors.New("probe cancelled")

	// ErrMessageTooLarge is returned when WithMaxMessageSize is set and a
	// message grows past it.
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
)

// CancelledError reports that the context was done. It matches ErrCancelled
// and unwraps to the context error.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	if e.Cause == nil {
		return ErrCancelled.Error()
	}
	return fmt.Sprintf("%s: %v", ErrCancelled, e.Cause)
}

func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// ProtocolError reports a reply that could not be decoded into the expected
// shape. Raw holds the offending text.
type ProtocolError struct {
	Raw string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected response: %s: %v", e.Raw, e.Err)
	}
	return fmt.Sprintf("unexpected response: %s", e.Raw)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ConnectionError wraps a transport failure. Op is one of connect, send,
// receive or disconnect.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
