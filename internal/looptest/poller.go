// Package looptest provides an in-memory [eventloop.Poller], for exercising
// loops and checkpoint coordination without real OS descriptors.
package looptest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-crloop/eventloop"
)

// fakeFD hands out descriptor numbers that never collide with real ones.
var fakeFD atomic.Int64

func init() {
	fakeFD.Store(1 << 20)
}

// Factory creates a [Poller] per loop. The zero value is ready to use, and
// creates pollers owning two descriptors each.
//
// The hooks are called with the loop index. Attempt is zero for the initial
// open, and counts reopens after that.
type Factory struct {
	// Descriptors is the number of descriptors each poller owns (default 2).
	Descriptors int

	OpenErr  func(index, attempt int) error
	CloseErr func(index int) error
	OnOpen   func(index, attempt int)
	OnClose  func(index int)

	mu      sync.Mutex
	pollers []*Poller
}

// New implements [eventloop.PollerFactory].
func (f *Factory) New(index int) (eventloop.Poller, error) {
	n := f.Descriptors
	if n <= 0 {
		n = 2
	}
	p := &Poller{
		factory: f,
		index:   index,
		count:   n,
		wake:    make(chan struct{}, 1),
	}
	if err := p.Open(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.pollers = append(f.pollers, p)
	f.mu.Unlock()
	return p, nil
}

// Pollers returns every poller created so far, in creation order.
func (f *Factory) Pollers() []*Poller {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Poller(nil), f.pollers...)
}

// Poller is a fake [eventloop.Poller].
type Poller struct {
	factory *Factory
	wake    chan struct{}

	mu     sync.Mutex
	descs  []eventloop.Descriptor
	opens  int
	closes int
	open   bool

	index int
	count int
}

var _ eventloop.Poller = (*Poller)(nil)

// Open implements [eventloop.Poller].
func (p *Poller) Open() error {
	p.mu.Lock()
	if p.open {
		p.mu.Unlock()
		return eventloop.ErrDescriptorsOpen
	}
	attempt := p.opens
	p.opens++
	p.mu.Unlock()

	if fn := p.factory.OpenErr; fn != nil {
		if err := fn(p.index, attempt); err != nil {
			return err
		}
	}

	descs := make([]eventloop.Descriptor, p.count)
	for i := range descs {
		kind := eventloop.KindOther
		if i == 0 {
			kind = eventloop.KindPoll
		}
		descs[i] = eventloop.NewDescriptor(int(fakeFD.Add(1)), kind)
	}

	p.mu.Lock()
	p.descs = descs
	p.open = true
	p.mu.Unlock()

	if fn := p.factory.OnOpen; fn != nil {
		fn(p.index, attempt)
	}
	return nil
}

// Close implements [eventloop.Poller]. Descriptors are released even when
// CloseErr reports a failure.
func (p *Poller) Close() error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return nil
	}
	p.descs = nil
	p.open = false
	p.closes++
	p.mu.Unlock()

	if fn := p.factory.OnClose; fn != nil {
		fn(p.index)
	}
	if fn := p.factory.CloseErr; fn != nil {
		return fn(p.index)
	}
	return nil
}

// Descriptors implements [eventloop.Poller].
func (p *Poller) Descriptors() []eventloop.Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]eventloop.Descriptor(nil), p.descs...)
}

// Poll implements [eventloop.Poller].
func (p *Poller) Poll(timeout time.Duration) error {
	if !p.IsOpen() {
		return eventloop.ErrDescriptorsClosed
	}
	if timeout == 0 {
		select {
		case <-p.wake:
		default:
		}
		return nil
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-p.wake:
	case <-expired:
	}
	return nil
}

// Wake implements [eventloop.Poller].
func (p *Poller) Wake() error {
	if !p.IsOpen() {
		return nil
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// IsOpen reports whether the poller currently holds descriptors.
func (p *Poller) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Opens returns the number of Open calls, including failed ones.
func (p *Poller) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

// Closes returns the number of times the descriptors were released.
func (p *Poller) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}
