package eventloop

import (
	"sync/atomic"
)

// LoopState is the lifecycle state of a [Loop].
//
//	Awake -> Running                 the loop goroutine started
//	Running <-> Sleeping             blocking in, and returning from, a poll
//	Running|Sleeping -> Terminating  Shutdown
//	Terminating -> Terminated        queue drained, descriptors released
//
// The transient states change only through TryTransition. Terminated is
// stored directly, under the loop's queue lock.
type LoopState uint64

const (
	// StateAwake is a loop whose goroutine has not started yet.
	StateAwake LoopState = iota
	// StateRunning is a loop running tasks and timers.
	StateRunning
	// StateSleeping is a loop blocked in its poller, or waiting for a wake-up
	// while its descriptors are closed.
	StateSleeping
	// StateTerminating is a loop draining its queue before it stops.
	StateTerminating
	// StateTerminated is a loop whose goroutine has exited, or is about to.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// FastState holds a LoopState, padded to a cache line of its own since
// every Submit reads it.
type FastState struct { // betteralign:ignore
	_ [64]byte //nolint:unused
	v atomic.Uint64
	_ [56]byte //nolint:unused
}

// NewFastState returns a state holding StateAwake.
func NewFastState() *FastState {
	return &FastState{}
}

// Load returns the current state.
func (s *FastState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store sets the state unconditionally. Only StateTerminated is stored.
func (s *FastState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition moves from one state to another, reporting whether the
// state was from.
func (s *FastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsTerminal reports whether the state is StateTerminated.
func (s *FastState) IsTerminal() bool {
	return s.Load() == StateTerminated
}

// CanAcceptWork reports whether Submit may still queue tasks.
func (s *FastState) CanAcceptWork() bool {
	return s.Load() != StateTerminated
}
