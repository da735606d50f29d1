package checkpoint

import (
	"errors"
	"fmt"
	"strings"
)

// Standard errors.
var (
	// ErrInvalidState is returned when a hook method is called out of order,
	// e.g. AfterRestore without a successful BeforeCheckpoint.
	ErrInvalidState = errors.New("checkpoint: invalid state")

	// ErrCalledFromLoop is returned by BeforeCheckpoint when called from one
	// of the loops it would need to park.
	ErrCalledFromLoop = errors.New("checkpoint: called from a loop goroutine")

	// ErrNilGroup is returned when registering a nil group.
	ErrNilGroup = errors.New("checkpoint: nil group")

	// ErrGroupBusy is returned by BeforeCheckpoint when another coordinator
	// has the group's loops parked.
	ErrGroupBusy = errors.New("checkpoint: group is being checkpointed by another coordinator")

	// ErrGroupShutdown is returned when registering a group that has
	// already been shut down.
	ErrGroupShutdown = errors.New("checkpoint: group has been shut down")

	// ErrPendingReopenFailure is returned by BeforeCheckpoint and
	// [Coordinator.Err], when loops failed to reopen after a restore that
	// did not wait for them.
	ErrPendingReopenFailure = errors.New("checkpoint: loops failed to reopen after the previous restore")
)

// LoopError is a failure of a single loop, during one phase of the protocol.
type LoopError struct {
	Err   error
	Loop  int
	Phase Phase
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	return fmt.Sprintf("checkpoint: loop %d: %s: %v", e.Loop, e.Phase, e.Err)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *LoopError) Unwrap() error {
	return e.Err
}

// PhaseError aggregates every failure observed during a phase.
type PhaseError struct {
	Errors []error
	Phase  Phase
}

// Error implements the error interface.
func (e *PhaseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "checkpoint: %s failed", e.Phase)
	for i, err := range e.Errors {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the errors slice for multi-error unwrapping, so
// [errors.Is] and [errors.As] check against all of them.
func (e *PhaseError) Unwrap() []error {
	return e.Errors
}

// Loops returns the indexes of the failed loops, in the order their errors
// were recorded.
func (e *PhaseError) Loops() []int {
	var loops []int
	for _, err := range e.Errors {
		var le *LoopError
		if errors.As(err, &le) {
			loops = append(loops, le.Loop)
		}
	}
	return loops
}
