package checkpoint

import (
	"fmt"
	"slices"
	"sync"

	"github.com/joeycumines/logiface"
)

// Hook is the pair of callbacks an orchestrator invokes around a process
// snapshot. BeforeCheckpoint returns once it is safe to take the snapshot,
// and AfterRestore once the process may continue.
type Hook interface {
	BeforeCheckpoint() error
	AfterRestore() error
}

// Resource is anything that participates in a checkpoint, via a [Context].
type Resource = Hook

// Context is an ordered set of resources, checkpointed together.
//
// BeforeCheckpoint runs in reverse registration order. If a resource fails,
// the resources already checkpointed are restored, and the failure is
// returned. AfterRestore runs in registration order, and continues past
// failures. A Context is itself a [Resource].
type Context struct {
	logger *logiface.Logger[logiface.Event]

	mu        sync.Mutex
	resources []Resource

	cycleMu  sync.Mutex
	quiesced []Resource
	cycling  bool
}

var _ Resource = (*Context)(nil)

// NewContext returns an empty context. The logger may be nil.
func NewContext(logger *logiface.Logger[logiface.Event]) *Context {
	return &Context{logger: logger}
}

var globalContext = sync.OnceValue(func() *Context {
	c := NewContext(nil)
	c.Register(DefaultRegistry())
	return c
})

// GlobalContext returns the process-wide context. It already contains
// [DefaultRegistry].
func GlobalContext() *Context {
	return globalContext()
}

// Register appends r. Registering during a checkpoint affects only the next
// one.
func (c *Context) Register(r Resource) {
	if r == nil {
		return
	}
	c.mu.Lock()
	c.resources = append(c.resources, r)
	c.mu.Unlock()
}

// Len returns the number of registered resources.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resources)
}

// BeforeCheckpoint implements [Resource].
func (c *Context) BeforeCheckpoint() error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	if c.cycling {
		return fmt.Errorf("%w: context checkpoint already in progress", ErrInvalidState)
	}

	c.mu.Lock()
	resources := slices.Clone(c.resources)
	c.mu.Unlock()

	quiesced, err := beforeAll(resources, c.logger)
	if err != nil {
		return err
	}

	c.quiesced = quiesced
	c.cycling = true
	return nil
}

// AfterRestore implements [Resource].
func (c *Context) AfterRestore() error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	if !c.cycling {
		return fmt.Errorf("%w: context restore without checkpoint", ErrInvalidState)
	}

	quiesced := c.quiesced
	c.quiesced = nil
	c.cycling = false

	return afterAll(quiesced, c.logger)
}

// beforeAll checkpoints resources newest first, returning those that
// succeeded, oldest first. On failure every one of them is restored.
func beforeAll[R Resource](resources []R, logger *logiface.Logger[logiface.Event]) ([]R, error) {
	quiesced := make([]R, 0, len(resources))
	for i := len(resources) - 1; i >= 0; i-- {
		if err := resources[i].BeforeCheckpoint(); err != nil {
			logger.Err().
				Int(`resource`, i).
				Int(`restoring`, len(quiesced)).
				Err(err).
				Log(`checkpoint failed, restoring resources`)

			errs := []error{err}
			slices.Reverse(quiesced)
			if restoreErr := afterAll(quiesced, logger); restoreErr != nil {
				errs = append(errs, restoreErr)
			}
			return nil, &PhaseError{Phase: PhaseBeforeCheckpoint, Errors: errs}
		}
		quiesced = append(quiesced, resources[i])
	}
	slices.Reverse(quiesced)
	return quiesced, nil
}

// afterAll restores resources in order, continuing past failures.
func afterAll[R Resource](resources []R, logger *logiface.Logger[logiface.Event]) error {
	var errs []error
	for i, r := range resources {
		if err := r.AfterRestore(); err != nil {
			logger.Err().
				Int(`resource`, i).
				Err(err).
				Log(`restore failed`)
			errs = append(errs, err)
		}
	}
	if len(errs) != 0 {
		return &PhaseError{Phase: PhaseAfterRestore, Errors: errs}
	}
	return nil
}
