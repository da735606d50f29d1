package eventloop_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-crloop/eventloop"
	"github.com/joeycumines/go-crloop/internal/looptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGroup(t *testing.T, n int, f *looptest.Factory, opts ...eventloop.Option) *eventloop.Group {
	t.Helper()
	g, err := eventloop.NewGroup(n, append([]eventloop.Option{eventloop.WithPollerFactory(f.New)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, g.Shutdown(ctx))
	})
	return g
}

// runOn submits fn to l and waits for it to complete.
func runOn(t *testing.T, l *eventloop.Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, l.Submit(func() {
		defer close(done)
		fn()
	}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestLoop_SubmitOrder(t *testing.T) {
	g := newTestGroup(t, 1, &looptest.Factory{})
	l := g.Loop(0)

	const n = 5000
	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < n; i++ {
		require.NoError(t, l.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	runOn(t, l, func() {})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, n)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestLoop_SubmitFromManyGoroutines(t *testing.T) {
	g := newTestGroup(t, 2, &looptest.Factory{})

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := g.Loop(i % g.Len())
			for j := 0; j < 200; j++ {
				assert.NoError(t, l.Submit(func() { count.Add(1) }))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return count.Load() == 16*200 }, 5*time.Second, time.Millisecond)
}

func TestLoop_PanicRecovered(t *testing.T) {
	g := newTestGroup(t, 1, &looptest.Factory{})
	l := g.Loop(0)

	require.NoError(t, l.Submit(func() { panic("oops") }))
	require.NoError(t, l.Submit(func() { panic(errors.New("oops")) }))
	runOn(t, l, func() {})
	assert.NotEqual(t, eventloop.StateTerminated, l.State())
}

func TestLoop_ScheduleTimer(t *testing.T) {
	g := newTestGroup(t, 1, &looptest.Factory{})
	l := g.Loop(0)

	var (
		mu    sync.Mutex
		order []int
	)
	done := make(chan struct{})
	start := time.Now()
	require.NoError(t, l.ScheduleTimer(30*time.Millisecond, func() {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		close(done)
	}))
	require.NoError(t, l.ScheduleTimer(10*time.Millisecond, func() {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, order)
}

func TestLoop_DescriptorsRequireLoopGoroutine(t *testing.T) {
	g := newTestGroup(t, 1, &looptest.Factory{})
	l := g.Loop(0)

	assert.False(t, l.IsLoopThread())
	assert.ErrorIs(t, l.CloseDescriptors(), eventloop.ErrNotOnLoop)
	assert.ErrorIs(t, l.ReopenDescriptors(), eventloop.ErrNotOnLoop)

	runOn(t, l, func() {
		assert.True(t, l.IsLoopThread())
	})
}

func TestLoop_CloseAndReopen(t *testing.T) {
	f := &looptest.Factory{Descriptors: 3}
	g := newTestGroup(t, 1, f)
	l := g.Loop(0)

	before := l.Descriptors()
	require.Len(t, before, 3)
	assert.True(t, l.DescriptorsOpen())

	runOn(t, l, func() {
		assert.ErrorIs(t, l.ReopenDescriptors(), eventloop.ErrDescriptorsOpen)
		assert.NoError(t, l.CloseDescriptors())
		assert.Zero(t, l.OpenDescriptors())
		assert.False(t, l.DescriptorsOpen())
		assert.NoError(t, l.CloseDescriptors())
		assert.NoError(t, l.ReopenDescriptors())
	})

	after := l.Descriptors()
	require.Len(t, after, 3)
	for i := range after {
		assert.NotEqual(t, before[i].Serial, after[i].Serial)
	}

	p := f.Pollers()[0]
	assert.Equal(t, 2, p.Opens())
	assert.Equal(t, 1, p.Closes())
}

func TestLoop_ReopenFailureLeavesLoopRunning(t *testing.T) {
	errBoom := errors.New("boom")
	f := &looptest.Factory{
		OpenErr: func(_, attempt int) error {
			if attempt == 1 {
				return errBoom
			}
			return nil
		},
	}
	g := newTestGroup(t, 1, f)
	l := g.Loop(0)

	runOn(t, l, func() {
		assert.NoError(t, l.CloseDescriptors())
		assert.ErrorIs(t, l.ReopenDescriptors(), errBoom)
	})
	assert.Zero(t, l.OpenDescriptors())

	// tasks and timers still run, without descriptors
	fired := make(chan struct{})
	require.NoError(t, l.ScheduleTimer(5*time.Millisecond, func() { close(fired) }))
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
	runOn(t, l, func() {
		assert.NoError(t, l.ReopenDescriptors())
	})
	assert.Equal(t, 2, l.OpenDescriptors())
}

func TestLoop_FDUnsupported(t *testing.T) {
	g := newTestGroup(t, 1, &looptest.Factory{})
	l := g.Loop(0)

	assert.ErrorIs(t, l.RegisterFD(0, eventloop.EventRead, func(eventloop.IOEvents) {}), eventloop.ErrFDUnsupported)
	assert.ErrorIs(t, l.ModifyFD(0, eventloop.EventWrite), eventloop.ErrFDUnsupported)
	assert.ErrorIs(t, l.UnregisterFD(0), eventloop.ErrFDUnsupported)
}

func TestLoop_Shutdown(t *testing.T) {
	f := &looptest.Factory{}
	g := newTestGroup(t, 1, f)
	l := g.Loop(0)

	var drained atomic.Int64
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Submit(func() { drained.Add(1) }))
	}

	require.NoError(t, l.Shutdown(context.Background()))
	assert.EqualValues(t, 100, drained.Load())
	assert.Equal(t, eventloop.StateTerminated, l.State())
	assert.ErrorIs(t, l.Submit(func() {}), eventloop.ErrLoopTerminated)
	assert.False(t, f.Pollers()[0].IsOpen())

	select {
	case <-l.Done():
	default:
		t.Fatal("done not closed")
	}

	// idempotent
	require.NoError(t, l.Shutdown(context.Background()))
}

func TestLoop_ShutdownFromLoop(t *testing.T) {
	g := newTestGroup(t, 1, &looptest.Factory{})
	l := g.Loop(0)

	runOn(t, l, func() {
		assert.NoError(t, l.Shutdown(context.Background()))
	})
	select {
	case <-l.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoop_ShutdownContext(t *testing.T) {
	g := newTestGroup(t, 1, &looptest.Factory{})
	l := g.Loop(0)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, l.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	<-l.Done()
}
