package checkpoint

import (
	"slices"
	"sync"
)

// Barrier is a cyclic barrier for a fixed number of parties. Each arrival
// may carry an error, and every party leaves with all the errors carried
// into that generation.
//
// Waiting is uninterruptible: Await observes no context, deadline or
// signal. Every party must eventually arrive.
type Barrier struct {
	mu   sync.Mutex
	cond sync.Cond

	current *barrierPhase

	generation uint64
	parties    int
	arrived    int
}

type barrierPhase struct {
	errs []error
	done bool
}

// NewBarrier returns a barrier for the given number of parties, which must
// be positive.
func NewBarrier(parties int) *Barrier {
	if parties <= 0 {
		panic("checkpoint: barrier requires at least one party")
	}
	b := &Barrier{
		parties: parties,
		current: &barrierPhase{},
	}
	b.cond.L = &b.mu
	return b
}

// Parties returns the number of parties required to trip the barrier.
func (b *Barrier) Parties() int {
	return b.parties
}

// Generation returns the number of times the barrier has tripped.
func (b *Barrier) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Arrived returns the number of parties waiting in the current generation.
func (b *Barrier) Arrived() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}

// Await arrives at the barrier, carrying err if non-nil, and blocks until
// every party has arrived. It returns the generation that tripped, and the
// errors carried into it, in arrival order.
func (b *Barrier) Await(err error) (generation uint64, errs []error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ph := b.current
	generation = b.generation

	if err != nil {
		ph.errs = append(ph.errs, err)
	}

	b.arrived++
	if b.arrived == b.parties {
		ph.done = true
		b.arrived = 0
		b.generation++
		b.current = &barrierPhase{}
		b.cond.Broadcast()
	} else {
		for !ph.done {
			b.cond.Wait()
		}
	}

	return generation, slices.Clone(ph.errs)
}
