package eventloop

import (
	"container/heap"
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

const (
	// tickBudget bounds the number of queued tasks run per tick.
	tickBudget = 1024

	// maxPollDelay caps a single poll, even with no timers pending.
	maxPollDelay = 10 * time.Second
)

// timer represents a scheduled task
type timer struct {
	when time.Time
	fn   func()
}

// timerHeap is a min-heap of timers
type timerHeap []timer

// Implement heap.Interface for timerHeap
func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Loop is a single-threaded execution context, exclusively owning the
// descriptors of its [Poller]. Loops are created by [NewGroup].
type Loop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter

	poller Poller

	// State machine (cache-line padded internally)
	state *FastState

	// Task queue, guarded by queueMu
	queueMu  sync.Mutex
	queue    *queue.Queue
	batchBuf []func()

	// Only accessed from the loop goroutine
	timers timerHeap

	// Wake-up mechanism. wakeCh is used only while descriptors are closed.
	wakePending atomic.Bool
	wakeCh      chan struct{}

	descriptorsOpen atomic.Bool

	loopGoroutineID atomic.Uint64
	started         chan struct{}
	loopDone        chan struct{}
	stopOnce        sync.Once

	index        int
	lockOSThread bool
}

func newLoop(index int, poller Poller, cfg *loopOptions, limiter *catrate.Limiter) *Loop {
	l := &Loop{
		logger:       cfg.logger,
		limiter:      limiter,
		poller:       poller,
		state:        NewFastState(),
		queue:        queue.New(),
		batchBuf:     make([]func(), 0, 64),
		timers:       make(timerHeap, 0),
		wakeCh:       make(chan struct{}, 1),
		started:      make(chan struct{}),
		loopDone:     make(chan struct{}),
		index:        index,
		lockOSThread: cfg.lockOSThread,
	}
	l.descriptorsOpen.Store(true)
	return l
}

// start launches the loop goroutine, and waits for it to identify itself.
func (l *Loop) start() {
	go l.run()
	<-l.started
}

// run is the main loop goroutine.
func (l *Loop) run() {
	if l.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	l.loopGoroutineID.Store(getGoroutineID())
	defer close(l.loopDone)

	l.state.TryTransition(StateAwake, StateRunning)
	close(l.started)

	l.logger.Debug().
		Int(`loop`, l.index).
		Log(`loop started`)

	for {
		if s := l.state.Load(); s == StateTerminating || s == StateTerminated {
			l.shutdown()
			return
		}
		l.tick()
	}
}

// tick is a single iteration of the event loop.
func (l *Loop) tick() {
	l.runTimers()
	l.processQueue()
	l.poll()
}

// processQueue runs up to tickBudget queued tasks.
func (l *Loop) processQueue() {
	l.queueMu.Lock()
	n := min(l.queue.Length(), tickBudget)
	batch := l.batchBuf[:0]
	for i := 0; i < n; i++ {
		batch = append(batch, l.queue.Remove().(func()))
	}
	remaining := l.queue.Length()
	l.queueMu.Unlock()

	for i, fn := range batch {
		l.safeExecute(fn)
		batch[i] = nil // Clear for GC
	}
	l.batchBuf = batch[:0]

	if remaining > 0 {
		if _, ok := l.limiter.Allow(l.index); ok {
			l.logger.Warning().
				Int(`loop`, l.index).
				Int(`pending`, remaining).
				Log(`loop overloaded`)
		}
	}
}

func (l *Loop) queueLength() int {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	return l.queue.Length()
}

// poll performs the blocking poll.
func (l *Loop) poll() {
	if !l.state.TryTransition(StateRunning, StateSleeping) {
		return
	}

	// Submit reads the state after pushing, so one side always sees the other
	if l.queueLength() > 0 {
		l.state.TryTransition(StateSleeping, StateRunning)
		return
	}

	timeout := l.calculateTimeout()

	var err error
	if l.descriptorsOpen.Load() {
		err = l.poller.Poll(timeout)
	} else {
		l.waitClosed(timeout)
	}

	l.wakePending.Store(false)

	if err != nil {
		l.logger.Err().
			Int(`loop`, l.index).
			Err(err).
			Log(`poll failed, terminating loop`)
		l.state.TryTransition(StateSleeping, StateTerminating)
		return
	}

	l.state.TryTransition(StateSleeping, StateRunning)
}

// waitClosed stands in for the poller while the loop's descriptors are
// closed, which only persists past a task if a reopen failed.
func (l *Loop) waitClosed(timeout time.Duration) {
	var expired <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-l.wakeCh:
	case <-expired:
	}
}

// wake signals a sleeping loop, deduplicating concurrent calls.
func (l *Loop) wake() {
	if !l.wakePending.CompareAndSwap(false, true) {
		return
	}
	if err := l.poller.Wake(); err != nil {
		l.wakePending.Store(false)
		l.logger.Warning().
			Int(`loop`, l.index).
			Err(err).
			Log(`wake failed`)
	}
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

// calculateTimeout determines how long to block in poll.
func (l *Loop) calculateTimeout() time.Duration {
	delay := maxPollDelay
	if len(l.timers) > 0 {
		delay = max(min(time.Until(l.timers[0].when), delay), 0)
	}
	return delay
}

// runTimers executes all expired timers.
func (l *Loop) runTimers() {
	now := time.Now()
	for len(l.timers) > 0 {
		if l.timers[0].when.After(now) {
			break
		}
		t := heap.Pop(&l.timers).(timer)
		l.safeExecute(t.fn)
	}
}

// shutdown drains the queue, then releases the descriptors.
func (l *Loop) shutdown() {
	for {
		l.queueMu.Lock()
		n := l.queue.Length()
		if n == 0 {
			// Submit checks for StateTerminated under queueMu
			l.state.Store(StateTerminated)
			l.queueMu.Unlock()
			break
		}
		batch := make([]func(), 0, n)
		for i := 0; i < n; i++ {
			batch = append(batch, l.queue.Remove().(func()))
		}
		l.queueMu.Unlock()
		for _, fn := range batch {
			l.safeExecute(fn)
		}
	}

	if l.descriptorsOpen.Swap(false) {
		if err := l.poller.Close(); err != nil {
			l.logger.Err().
				Int(`loop`, l.index).
				Err(err).
				Log(`failed to close descriptors on shutdown`)
		}
	}

	l.logger.Debug().
		Int(`loop`, l.index).
		Int(`dropped_timers`, len(l.timers)).
		Log(`loop stopped`)

	l.timers = nil
}

// Submit queues a task to run on the loop goroutine. It is safe to call
// from any goroutine, including while the loop's descriptors are closed.
//
// State Policy during shutdown:
//   - StateTerminated: returns ErrLoopTerminated
//   - StateTerminating: ALLOWS submission (the loop drains before stopping)
func (l *Loop) Submit(fn func()) error {
	if fn == nil {
		return nil
	}

	l.queueMu.Lock()
	if l.state.Load() == StateTerminated {
		l.queueMu.Unlock()
		return ErrLoopTerminated
	}
	l.queue.Add(fn)
	l.queueMu.Unlock()

	if l.state.Load() == StateSleeping {
		l.wake()
	}

	return nil
}

// ScheduleTimer schedules fn to run on the loop goroutine after delay.
// Pending timers survive a descriptor close/reopen cycle.
func (l *Loop) ScheduleTimer(delay time.Duration, fn func()) error {
	t := timer{
		when: time.Now().Add(delay),
		fn:   fn,
	}
	return l.Submit(func() {
		heap.Push(&l.timers, t)
	})
}

// CloseDescriptors releases every descriptor owned by the loop. It must be
// called on the loop goroutine. Closing already closed descriptors is a
// no-op.
func (l *Loop) CloseDescriptors() error {
	if !l.IsLoopThread() {
		return ErrNotOnLoop
	}
	if !l.descriptorsOpen.Swap(false) {
		return nil
	}

	if err := l.poller.Close(); err != nil {
		l.logger.Err().
			Int(`loop`, l.index).
			Err(err).
			Log(`failed to close descriptors`)
		return fmt.Errorf("eventloop: loop %d: close descriptors: %w", l.index, err)
	}

	l.logger.Debug().
		Int(`loop`, l.index).
		Log(`descriptors closed`)

	return nil
}

// ReopenDescriptors recreates the loop's descriptors, via the same poller
// that created them. It must be called on the loop goroutine.
func (l *Loop) ReopenDescriptors() error {
	if !l.IsLoopThread() {
		return ErrNotOnLoop
	}
	if l.descriptorsOpen.Load() {
		return ErrDescriptorsOpen
	}

	if err := l.poller.Open(); err != nil {
		l.logger.Err().
			Int(`loop`, l.index).
			Err(err).
			Log(`failed to reopen descriptors`)
		return fmt.Errorf("eventloop: loop %d: reopen descriptors: %w", l.index, err)
	}

	l.descriptorsOpen.Store(true)

	l.logger.Debug().
		Int(`loop`, l.index).
		Int(`descriptors`, len(l.poller.Descriptors())).
		Log(`descriptors reopened`)

	return nil
}

// DescriptorsOpen reports whether the loop currently holds its descriptors.
func (l *Loop) DescriptorsOpen() bool {
	return l.descriptorsOpen.Load()
}

// OpenDescriptors returns the number of descriptors currently owned by the
// loop.
func (l *Loop) OpenDescriptors() int {
	return len(l.poller.Descriptors())
}

// Descriptors returns the descriptors currently owned by the loop.
func (l *Loop) Descriptors() []Descriptor {
	return l.poller.Descriptors()
}

// RegisterFD registers a file descriptor for I/O monitoring.
func (l *Loop) RegisterFD(fd int, events IOEvents, callback IOCallback) error {
	p, ok := l.poller.(FDPoller)
	if !ok {
		return ErrFDUnsupported
	}
	return p.RegisterFD(fd, events, callback)
}

// UnregisterFD removes a file descriptor from monitoring.
func (l *Loop) UnregisterFD(fd int) error {
	p, ok := l.poller.(FDPoller)
	if !ok {
		return ErrFDUnsupported
	}
	return p.UnregisterFD(fd)
}

// ModifyFD updates the events being monitored for a file descriptor.
func (l *Loop) ModifyFD(fd int, events IOEvents) error {
	p, ok := l.poller.(FDPoller)
	if !ok {
		return ErrFDUnsupported
	}
	return p.ModifyFD(fd, events)
}

// Shutdown stops the loop, after draining queued tasks. It blocks until the
// loop goroutine exits, or ctx is done. Called from the loop goroutine, it
// only initiates shutdown.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.stop()

	if l.IsLoopThread() {
		return nil
	}

	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop moves the loop to StateTerminating, waking it if necessary.
func (l *Loop) stop() {
	l.stopOnce.Do(func() {
		for {
			s := l.state.Load()
			if s == StateTerminating || s == StateTerminated {
				return
			}
			if l.state.TryTransition(s, StateTerminating) {
				if s == StateSleeping {
					l.wakePending.Store(false)
					l.wake()
				}
				return
			}
		}
	})
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.loopDone
}

// Index returns the loop's position within its group.
func (l *Loop) Index() int {
	return l.index
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// IsLoopThread reports whether the caller is running on the loop goroutine.
func (l *Loop) IsLoopThread() bool {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

// safeExecute executes a task with panic recovery.
func (l *Loop) safeExecute(fn func()) {
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Err().
				Int(`loop`, l.index).
				Err(PanicError{Value: r, Loop: l.index}).
				Log(`task panicked`)
		}
	}()

	fn()
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
