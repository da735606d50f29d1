package eventloop

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

// overloadRates limits the "loop overloaded" warning, per loop.
var overloadRates = map[time.Duration]int{
	time.Second: 1,
	time.Minute: 10,
}

// Group is a fixed-size pool of loops, created together and shut down
// together.
//
// Loops never reference their group, so a group that is no longer
// referenced may be reclaimed by the garbage collector, even while its
// loops are still running. Callers relying on weak references to a Group
// should still call Shutdown.
type Group struct { // betteralign:ignore
	logger *logiface.Logger[logiface.Event]
	loops  []*Loop

	done chan struct{}

	mu         sync.Mutex
	onShutdown []func()
	shutdown   atomic.Bool
}

// NewGroup starts n loops, each driving its own poller. If n <= 0, the
// number of CPUs is used.
func NewGroup(n int, opts ...Option) (*Group, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	if n <= 0 {
		n = runtime.NumCPU()
	}

	limiter := catrate.NewLimiter(overloadRates)

	g := &Group{
		logger: cfg.logger,
		loops:  make([]*Loop, 0, n),
		done:   make(chan struct{}),
	}

	for i := 0; i < n; i++ {
		p, err := cfg.pollerFactory(i)
		if err != nil {
			for _, l := range g.loops {
				_ = l.poller.Close()
			}
			return nil, fmt.Errorf("eventloop: create poller for loop %d: %w", i, err)
		}
		g.loops = append(g.loops, newLoop(i, p, cfg, limiter))
	}

	for _, l := range g.loops {
		l.start()
	}

	// must not capture g
	go func(loops []*Loop, done chan<- struct{}) {
		for _, l := range loops {
			<-l.Done()
		}
		close(done)
	}(g.Loops(), g.done)

	g.logger.Info().
		Int(`loops`, n).
		Log(`group started`)

	return g, nil
}

// Len returns the number of loops in the group.
func (g *Group) Len() int {
	return len(g.loops)
}

// Loop returns the loop at index i.
func (g *Group) Loop(i int) *Loop {
	return g.loops[i]
}

// Loops returns a copy of the group's loops, in index order.
func (g *Group) Loops() []*Loop {
	return append([]*Loop(nil), g.loops...)
}

// OnShutdown registers fn to be called once, when Shutdown is first called.
// If the group is already shut down, fn is called immediately.
func (g *Group) OnShutdown(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	if g.shutdown.Load() {
		g.mu.Unlock()
		fn()
		return
	}
	g.onShutdown = append(g.onShutdown, fn)
	g.mu.Unlock()
}

// Done is closed once every loop in the group has exited.
func (g *Group) Done() <-chan struct{} {
	return g.done
}

// IsShutdown reports whether Shutdown has been called.
func (g *Group) IsShutdown() bool {
	return g.shutdown.Load()
}

// Shutdown stops every loop in the group, waiting for each to drain and
// exit, or for ctx to be done. Callbacks registered with OnShutdown run
// before any loop is stopped. It is safe to call more than once. Called
// from one of the group's loops, it only initiates shutdown.
func (g *Group) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	first := g.shutdown.CompareAndSwap(false, true)
	hooks := g.onShutdown
	g.onShutdown = nil
	g.mu.Unlock()

	if first {
		for _, fn := range hooks {
			fn()
		}
		g.logger.Info().
			Int(`loops`, len(g.loops)).
			Log(`group shutting down`)
	}

	for _, l := range g.loops {
		if l.IsLoopThread() {
			// waiting would deadlock, the calling loop stops once its task returns
			for _, l := range g.loops {
				l.stop()
			}
			return nil
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, l := range g.loops {
		eg.Go(func() error {
			return l.Shutdown(ctx)
		})
	}
	return eg.Wait()
}
