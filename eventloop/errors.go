package eventloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrLoopTerminated is returned when operations are attempted on a terminated loop.
	ErrLoopTerminated = errors.New("eventloop: loop has been terminated")

	// ErrNotOnLoop is returned when a loop-affine operation is called from
	// a goroutine other than the loop's own.
	ErrNotOnLoop = errors.New("eventloop: not called on the loop goroutine")

	// ErrDescriptorsClosed is returned when an operation requires the loop's
	// descriptors to be open.
	ErrDescriptorsClosed = errors.New("eventloop: descriptors are closed")

	// ErrDescriptorsOpen is returned by ReopenDescriptors, when the
	// descriptors were never closed.
	ErrDescriptorsOpen = errors.New("eventloop: descriptors are already open")

	// ErrFDUnsupported is returned by the FD registration methods when the
	// loop's poller doesn't implement [FDPoller].
	ErrFDUnsupported = errors.New("eventloop: poller does not support fd registration")

	// ErrPollerUnsupported is returned by the default poller factory on
	// platforms without an implementation.
	ErrPollerUnsupported = errors.New("eventloop: no default poller for this platform")
)

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	Loop  int
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("eventloop: task panicked on loop %d: %v", e.Loop, e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
