package checkpoint

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/joeycumines/go-crloop/eventloop"
	"github.com/joeycumines/logiface"
)

// Coordinator quiesces every loop of a single [eventloop.Group] around a
// process checkpoint, implementing [Hook].
//
// BeforeCheckpoint parks a task on each loop, which closes the loop's
// descriptors and waits. AfterRestore releases those tasks, which reopen
// the descriptors. The loops and the caller meet at a cyclic barrier of
// Len()+1 parties:
//
//	A: every loop has closed (or failed to close) its descriptors
//	B: the caller allows the loops to reopen
//	C: every loop has reopened (AwaitReopen only)
//
// A Coordinator holds only a weak reference to its group, between cycles.
// If the group has been reclaimed or shut down, both hook methods are
// no-ops.
type Coordinator struct { // betteralign:ignore
	logger  *logiface.Logger[logiface.Event]
	group   weak.Pointer[eventloop.Group]
	barrier *Barrier

	// active keeps the group reachable while its loops are parked
	active *eventloop.Group

	state atomic.Uint32

	mu      sync.Mutex
	pending []error

	checkpoints atomic.Uint64
	restores    atomic.Uint64
	rollbacks   atomic.Uint64

	loops  int
	policy ReopenPolicy
}

var _ Hook = (*Coordinator)(nil)

// Stats are cumulative counters for a [Coordinator].
type Stats struct {
	// Checkpoints is the number of successful BeforeCheckpoint calls.
	Checkpoints uint64
	// Restores is the number of completed AfterRestore calls.
	Restores uint64
	// Rollbacks is the number of BeforeCheckpoint calls that failed, and
	// restored the loops.
	Rollbacks uint64
}

// NewCoordinator creates a coordinator for g, without registering it. Most
// callers should use [Registry.Register] instead, which returns the same
// coordinator for every call with the same group.
//
// Only one coordinator may checkpoint a group at a time. BeforeCheckpoint
// fails with [ErrGroupBusy] while another coordinator has the group's loops
// parked.
func NewCoordinator(g *eventloop.Group, opts ...CoordinatorOption) (*Coordinator, error) {
	if g == nil {
		return nil, ErrNilGroup
	}
	cfg, err := resolveCoordinatorOptions(opts)
	if err != nil {
		return nil, err
	}
	return newCoordinator(weak.Make(g), g.Len(), cfg), nil
}

func newCoordinator(group weak.Pointer[eventloop.Group], loops int, cfg *coordinatorOptions) *Coordinator {
	return &Coordinator{
		logger:  cfg.logger,
		group:   group,
		barrier: NewBarrier(loops + 1),
		loops:   loops,
		policy:  cfg.policy,
	}
}

// BeforeCheckpoint closes the descriptors of every loop in the group, and
// returns once none remain open. The loops stay parked until AfterRestore.
//
// If any loop fails, every loop is released to reopen its descriptors, the
// coordinator returns to StateIdle, and a [*PhaseError] naming each failed
// loop is returned.
func (c *Coordinator) BeforeCheckpoint() error {
	g := c.group.Value()
	if g == nil || g.IsShutdown() {
		c.logger.Debug().
			Log(`group gone, skipping checkpoint`)
		return nil
	}

	loops := g.Loops()
	for _, l := range loops {
		if l.IsLoopThread() {
			return ErrCalledFromLoop
		}
	}

	if !c.state.CompareAndSwap(uint32(StateIdle), uint32(StateQuiescing)) {
		return fmt.Errorf("%w: before checkpoint called in state %s", ErrInvalidState, c.State())
	}

	if err := c.takePending(); err != nil {
		c.state.Store(uint32(StateIdle))
		return err
	}

	if !c.claim() {
		c.state.Store(uint32(StateIdle))
		return ErrGroupBusy
	}

	start := time.Now()
	c.active = g

	c.logger.Info().
		Int(`loops`, c.loops).
		Log(`quiescing loops`)

	for _, l := range loops {
		if err := l.Submit(func() { c.quiesce(l) }); err != nil {
			go c.proxy(l.Index(), err)
		}
	}

	// A
	_, errs := c.barrier.Await(nil)

	if len(errs) == 0 {
		c.state.Store(uint32(StateQuiesced))
		c.checkpoints.Add(1)
		c.logger.Info().
			Int(`loops`, c.loops).
			Dur(`elapsed`, time.Since(start)).
			Log(`loops quiesced`)
		return nil
	}

	c.logger.Err().
		Int(`loops`, c.loops).
		Int(`failed`, len(errs)).
		Log(`quiesce failed, rolling back`)

	// B
	c.barrier.Await(nil)

	if c.policy == AwaitReopen {
		// C
		_, reopenErrs := c.barrier.Await(nil)
		errs = append(errs, reopenErrs...)
	}

	c.active = nil
	c.release()
	c.rollbacks.Add(1)
	c.state.Store(uint32(StateIdle))

	return &PhaseError{Phase: PhaseClose, Errors: errs}
}

// AfterRestore releases every loop parked by BeforeCheckpoint, to reopen
// its descriptors. Under AwaitReopen (the default) it waits for them, and
// returns a [*PhaseError] naming each loop that failed. A loop that fails
// to reopen is left holding no descriptors.
func (c *Coordinator) AfterRestore() error {
	if !c.state.CompareAndSwap(uint32(StateQuiesced), uint32(StateResuming)) {
		if g := c.group.Value(); g == nil || g.IsShutdown() {
			return nil
		}
		return fmt.Errorf("%w: after restore called in state %s", ErrInvalidState, c.State())
	}

	start := time.Now()

	c.logger.Info().
		Int(`loops`, c.loops).
		Stringer(`policy`, c.policy).
		Log(`resuming loops`)

	// B
	c.barrier.Await(nil)

	var err error
	if c.policy == AwaitReopen {
		// C
		if _, errs := c.barrier.Await(nil); len(errs) != 0 {
			err = &PhaseError{Phase: PhaseReopen, Errors: errs}
		}
	}

	c.active = nil
	c.release()
	c.restores.Add(1)
	c.state.Store(uint32(StateIdle))

	if err != nil {
		c.logger.Err().
			Err(err).
			Log(`loops failed to reopen`)
	} else {
		c.logger.Info().
			Int(`loops`, c.loops).
			Dur(`elapsed`, time.Since(start)).
			Log(`loops resumed`)
	}

	return err
}

// claimed holds the coordinator with each group's loops parked, keyed by
// the group's weak pointer.
var claimed sync.Map

func (c *Coordinator) claim() bool {
	holder, loaded := claimed.LoadOrStore(c.group, c)
	return !loaded || holder == c
}

func (c *Coordinator) release() {
	claimed.CompareAndDelete(c.group, c)
}

// quiesce runs on the loop goroutine, parking it for the duration of the
// checkpoint. It arrives at every rendezvous even if a step panics.
func (c *Coordinator) quiesce(l *eventloop.Loop) {
	closeErr := c.step(l, PhaseClose, l.CloseDescriptors)

	// A
	c.barrier.Await(closeErr)
	// B
	c.barrier.Await(nil)

	reopenErr := c.step(l, PhaseReopen, l.ReopenDescriptors)

	if c.policy == AwaitReopen {
		// C
		c.barrier.Await(reopenErr)
	} else if reopenErr != nil {
		c.logger.Err().
			Int(`loop`, l.Index()).
			Err(reopenErr).
			Log(`loop failed to reopen`)
		c.mu.Lock()
		c.pending = append(c.pending, reopenErr)
		c.mu.Unlock()
	}
}

// step runs fn on behalf of l, returning its failure or recovered panic as
// a [*LoopError].
func (c *Coordinator) step(l *eventloop.Loop, phase Phase, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &LoopError{
				Loop:  l.Index(),
				Phase: phase,
				Err:   eventloop.PanicError{Value: r, Loop: l.Index()},
			}
			c.logger.Err().
				Int(`loop`, l.Index()).
				Stringer(`phase`, phase).
				Err(err).
				Log(`loop panicked`)
		}
	}()
	if e := fn(); e != nil {
		return &LoopError{Loop: l.Index(), Phase: phase, Err: e}
	}
	return nil
}

// proxy arrives on behalf of a loop that could not be submitted to.
func (c *Coordinator) proxy(index int, err error) {
	c.barrier.Await(&LoopError{Loop: index, Phase: PhaseSubmit, Err: err})
	c.barrier.Await(nil)
	if c.policy == AwaitReopen {
		c.barrier.Await(nil)
	}
}

func (c *Coordinator) takePending() error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	return pendingError(pending)
}

func pendingError(pending []error) error {
	if len(pending) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPendingReopenFailure, &PhaseError{Phase: PhaseReopen, Errors: pending})
}

// Err returns the reopen failures recorded under SignalOnly, since the last
// BeforeCheckpoint.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	pending := append([]error(nil), c.pending...)
	c.mu.Unlock()
	return pendingError(pending)
}

// State returns the current state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Policy returns the reopen policy.
func (c *Coordinator) Policy() ReopenPolicy {
	return c.policy
}

// Group returns the coordinated group, or nil if it has been reclaimed.
func (c *Coordinator) Group() *eventloop.Group {
	return c.group.Value()
}

// Stats returns a snapshot of the coordinator's counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Checkpoints: c.checkpoints.Load(),
		Restores:    c.restores.Load(),
		Rollbacks:   c.rollbacks.Load(),
	}
}
