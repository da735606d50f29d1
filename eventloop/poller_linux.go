//go:build linux

package eventloop

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// fdInfo stores per-FD callback information.
type fdInfo struct {
	callback IOCallback
	events   IOEvents
}

// EpollPoller is the default Linux [Poller]. It owns an epoll instance, an
// eventfd for wake-ups, and a timerfd bounding each poll.
//
// FD registrations are kept independently of the epoll instance, and are
// replayed onto each new instance by Open.
type EpollPoller struct { // betteralign:ignore
	mu      sync.RWMutex // Guards the descriptor fields, for Wake and Descriptors
	epfd    int
	wakefd  int
	timerfd int
	descs   []Descriptor
	open    bool

	fdMu sync.RWMutex // Protects fds
	fds  map[int]fdInfo

	eventBuf []unix.EpollEvent
	wakeBuf  [8]byte
}

var _ FDPoller = (*EpollPoller)(nil)

func defaultPollerFactory(maxEvents int) PollerFactory {
	return func(int) (Poller, error) {
		p, err := NewEpollPoller(maxEvents)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// NewEpollPoller creates and opens an epoll based poller.
func NewEpollPoller(maxEvents int) (*EpollPoller, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	p := &EpollPoller{
		epfd:     -1,
		wakefd:   -1,
		timerfd:  -1,
		fds:      make(map[int]fdInfo),
		eventBuf: make([]unix.EpollEvent, maxEvents),
	}
	if err := p.Open(); err != nil {
		return nil, err
	}
	return p, nil
}

// Open creates the epoll instance, the eventfd and the timerfd, then
// replays every FD registration.
func (p *EpollPoller) Open() (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open {
		return ErrDescriptorsOpen
	}

	var created []int
	defer func() {
		if err != nil {
			for _, fd := range created {
				_ = unix.Close(fd)
			}
		}
	}()

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("eventloop: epoll_create1: %w", err)
	}
	created = append(created, epfd)

	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return fmt.Errorf("eventloop: eventfd: %w", err)
	}
	created = append(created, wakefd)

	timerfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return fmt.Errorf("eventloop: timerfd_create: %w", err)
	}
	created = append(created, timerfd)

	for _, fd := range [...]int{wakefd, timerfd} {
		ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
			return fmt.Errorf("eventloop: epoll_ctl add %d: %w", fd, err)
		}
	}

	if err = p.replay(epfd); err != nil {
		return err
	}

	p.epfd = epfd
	p.wakefd = wakefd
	p.timerfd = timerfd
	p.descs = []Descriptor{
		NewDescriptor(epfd, KindPoll),
		NewDescriptor(wakefd, KindWake),
		NewDescriptor(timerfd, KindTimer),
	}
	p.open = true

	return nil
}

// replay adds every registered FD to a fresh epoll instance.
func (p *EpollPoller) replay(epfd int) error {
	p.fdMu.RLock()
	defer p.fdMu.RUnlock()
	for fd, info := range p.fds {
		ev := &unix.EpollEvent{Events: eventsToEpoll(info.events), Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
			return fmt.Errorf("eventloop: replay fd %d: %w", fd, err)
		}
	}
	return nil
}

// Close closes all three descriptors. Registrations are retained.
func (p *EpollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return nil
	}

	var first error
	for _, d := range p.descs {
		if err := unix.Close(d.FD); err != nil && first == nil {
			first = fmt.Errorf("eventloop: close %s fd %d: %w", d.Kind, d.FD, err)
		}
	}

	p.descs = nil
	p.epfd, p.wakefd, p.timerfd = -1, -1, -1
	p.open = false

	return first
}

// Descriptors returns a copy of the open descriptors.
func (p *EpollPoller) Descriptors() []Descriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.descs) == 0 {
		return nil
	}
	return append([]Descriptor(nil), p.descs...)
}

// Poll waits for events, arming the timerfd for positive timeouts.
// Must only be called from the loop goroutine.
func (p *EpollPoller) Poll(timeout time.Duration) error {
	if !p.open {
		return ErrDescriptorsClosed
	}

	msec := -1
	armed := false
	switch {
	case timeout == 0:
		msec = 0
	case timeout > 0:
		spec := unix.ItimerSpec{Value: unix.NsecToTimespec(int64(timeout))}
		if err := unix.TimerfdSettime(p.timerfd, 0, &spec, nil); err != nil {
			return fmt.Errorf("eventloop: timerfd_settime: %w", err)
		}
		armed = true
	}

	n, err := unix.EpollWait(p.epfd, p.eventBuf, msec)

	if armed {
		_ = unix.TimerfdSettime(p.timerfd, 0, &unix.ItimerSpec{}, nil)
	}

	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("eventloop: epoll_wait: %w", err)
	}

	p.dispatchEvents(n)

	return nil
}

// dispatchEvents executes callbacks inline, draining the wake and timer
// descriptors. The callback is copied under lock then called outside it.
func (p *EpollPoller) dispatchEvents(n int) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		switch fd {
		case p.wakefd, p.timerfd:
			for {
				if _, err := unix.Read(fd, p.wakeBuf[:]); err != nil {
					break
				}
			}
			continue
		}

		p.fdMu.RLock()
		info, ok := p.fds[fd]
		p.fdMu.RUnlock()

		if ok && info.callback != nil {
			info.callback(epollToEvents(p.eventBuf[i].Events))
		}
	}
}

// Wake writes to the eventfd. It is a no-op while the poller is closed.
func (p *EpollPoller) Wake() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.open {
		return nil
	}

	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]

	if _, err := unix.Write(p.wakefd, buf); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventloop: wake: %w", err)
	}
	return nil
}

// RegisterFD registers a file descriptor for I/O event monitoring. While
// the poller is closed, the registration is only recorded.
func (p *EpollPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if _, ok := p.fds[fd]; ok {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = fdInfo{callback: cb, events: events}
	p.fdMu.Unlock()

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.open {
		return nil
	}

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	if err != nil && !errors.Is(err, unix.EEXIST) {
		p.fdMu.Lock()
		delete(p.fds, fd) // Rollback
		p.fdMu.Unlock()
		return err
	}
	return nil
}

// UnregisterFD removes a file descriptor from monitoring.
//
// In-flight callbacks are not cancelled: close the FD only after any
// callback that may already be running has returned.
func (p *EpollPoller) UnregisterFD(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if _, ok := p.fds[fd]; !ok {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)
	p.fdMu.Unlock()

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.open {
		return nil
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// ModifyFD updates the events being monitored for a file descriptor.
func (p *EpollPoller) ModifyFD(fd int, events IOEvents) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	info, ok := p.fds[fd]
	if !ok {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	info.events = events
	p.fds[fd] = info
	p.fdMu.Unlock()

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.open {
		return nil
	}
	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

// eventsToEpoll converts IOEvents to epoll event flags.
func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to IOEvents.
func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
