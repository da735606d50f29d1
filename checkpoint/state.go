package checkpoint

// State is the state of a [Coordinator].
//
// State Machine:
//
//	StateIdle → StateQuiescing        [BeforeCheckpoint]
//	StateQuiescing → StateQuiesced    [every loop closed its descriptors]
//	StateQuiescing → StateIdle        [rollback, some loop failed]
//	StateQuiesced → StateResuming     [AfterRestore]
//	StateResuming → StateIdle         [loops released]
type State uint32

const (
	// StateIdle indicates the loops are running normally.
	StateIdle State = iota
	// StateQuiescing indicates BeforeCheckpoint is in progress.
	StateQuiescing
	// StateQuiesced indicates every loop is parked, holding no descriptors.
	StateQuiesced
	// StateResuming indicates AfterRestore is in progress.
	StateResuming
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateQuiescing:
		return "Quiescing"
	case StateQuiesced:
		return "Quiesced"
	case StateResuming:
		return "Resuming"
	default:
		return "Unknown"
	}
}

// Phase identifies the step of the protocol an error occurred in.
type Phase uint8

const (
	// PhaseSubmit is the submission of the quiesce task to a loop.
	PhaseSubmit Phase = iota
	// PhaseClose is a loop closing its descriptors.
	PhaseClose
	// PhaseReopen is a loop reopening its descriptors.
	PhaseReopen
	// PhaseBeforeCheckpoint is a resource's BeforeCheckpoint, within a
	// [Context] or [Registry].
	PhaseBeforeCheckpoint
	// PhaseAfterRestore is a resource's AfterRestore, within a [Context] or
	// [Registry].
	PhaseAfterRestore
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseSubmit:
		return "submit"
	case PhaseClose:
		return "close"
	case PhaseReopen:
		return "reopen"
	case PhaseBeforeCheckpoint:
		return "before checkpoint"
	case PhaseAfterRestore:
		return "after restore"
	default:
		return "unknown"
	}
}

// ReopenPolicy controls when AfterRestore returns.
type ReopenPolicy uint8

const (
	// AwaitReopen waits for every loop to reopen its descriptors, returning
	// any failures. This is the default.
	AwaitReopen ReopenPolicy = iota
	// SignalOnly returns as soon as the loops are released. Reopen failures
	// are reported later, by [Coordinator.Err] and the next
	// BeforeCheckpoint.
	SignalOnly
)

// String returns a human-readable representation of the policy.
func (p ReopenPolicy) String() string {
	switch p {
	case AwaitReopen:
		return "AwaitReopen"
	case SignalOnly:
		return "SignalOnly"
	default:
		return "Unknown"
	}
}
