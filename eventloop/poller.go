package eventloop

import (
	"errors"
	"sync/atomic"
	"time"
)

// FD registration errors.
var (
	ErrFDOutOfRange        = errors.New("eventloop: fd out of range")
	ErrFDAlreadyRegistered = errors.New("eventloop: fd already registered")
	ErrFDNotRegistered     = errors.New("eventloop: fd not registered")
)

// IOEvents represents the type of I/O events to monitor.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// IOCallback is the callback type for I/O events.
type IOCallback func(IOEvents)

// DescriptorKind identifies the role of a descriptor owned by a poller.
type DescriptorKind uint8

const (
	// KindPoll is the polling instance itself (e.g. epoll).
	KindPoll DescriptorKind = iota
	// KindWake is the descriptor used to wake a sleeping loop.
	KindWake
	// KindTimer bounds a poll by the next timer deadline.
	KindTimer
	// KindOther is any other descriptor a poller chooses to own.
	KindOther
)

// String returns a human-readable representation of the kind.
func (k DescriptorKind) String() string {
	switch k {
	case KindPoll:
		return "poll"
	case KindWake:
		return "wake"
	case KindTimer:
		return "timer"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// Descriptor is a handle to an OS descriptor owned by a poller.
//
// The kernel recycles descriptor numbers, so FD alone doesn't identify a
// descriptor across a close/reopen cycle. Serial is unique for the life of
// the process.
type Descriptor struct {
	FD     int
	Serial uint64
	Kind   DescriptorKind
}

var descriptorSerial atomic.Uint64

// NewDescriptor mints a handle for a freshly created descriptor.
func NewDescriptor(fd int, kind DescriptorKind) Descriptor {
	return Descriptor{
		FD:     fd,
		Serial: descriptorSerial.Add(1),
		Kind:   kind,
	}
}

// Poller is the polling mechanism driven by a single loop.
//
// Open, Close and Poll are only ever called from the loop goroutine. Wake
// and Descriptors may be called from any goroutine, at any time, including
// while the poller is closed, in which case Wake must be a no-op.
type Poller interface {
	// Open creates every descriptor the poller owns. On failure, any
	// descriptor created by the failed call must already be released.
	Open() error

	// Close releases every descriptor the poller owns. It must release all
	// of them even if some fail to close, reporting the first error.
	Close() error

	// Descriptors returns the currently open descriptors.
	Descriptors() []Descriptor

	// Poll blocks until woken, until I/O callbacks have been dispatched, or
	// until timeout elapses. A negative timeout blocks indefinitely.
	Poll(timeout time.Duration) error

	// Wake causes a blocked or subsequent Poll to return.
	Wake() error
}

// FDPoller is implemented by pollers that support I/O readiness
// registration. Registrations must survive a Close/Open cycle.
type FDPoller interface {
	Poller
	RegisterFD(fd int, events IOEvents, cb IOCallback) error
	UnregisterFD(fd int) error
	ModifyFD(fd int, events IOEvents) error
}

// PollerFactory constructs the poller for the loop at the given index.
// The returned poller must already be open.
type PollerFactory func(index int) (Poller, error)
