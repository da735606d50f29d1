package checkpoint_test

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/joeycumines/go-crloop/eventloop"
	"github.com/joeycumines/go-crloop/internal/looptest"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// newTestGroup starts a group of fake pollers, shut down on cleanup.
func newTestGroup(t *testing.T, n int, f *looptest.Factory) *eventloop.Group {
	t.Helper()
	g, err := eventloop.NewGroup(n, eventloop.WithPollerFactory(f.New))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, g.Shutdown(ctx))
	})
	return g
}

// run submits fn to l, and waits for it to complete.
func run(t *testing.T, l *eventloop.Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, l.Submit(func() {
		defer close(done)
		fn()
	}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("task on loop %d did not run", l.Index())
	}
}

func openCounts(g *eventloop.Group) []int {
	counts := make([]int, g.Len())
	for i, l := range g.Loops() {
		counts[i] = l.OpenDescriptors()
	}
	return counts
}

func repeat(n, v int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// checkGoroutines fails the test if the goroutine count doesn't return to
// its value at the time of the call. The count is sampled on the test
// goroutine, so no helper goroutine is included.
func checkGoroutines(t *testing.T) {
	t.Helper()
	runtime.GC()
	before := runtime.NumGoroutine()
	t.Cleanup(func() {
		t.Helper()
		after := runtime.NumGoroutine()
		for deadline := time.Now().Add(5 * time.Second); after > before && time.Now().Before(deadline); after = runtime.NumGoroutine() {
			time.Sleep(10 * time.Millisecond)
			runtime.GC()
		}
		if after > before {
			t.Errorf("goroutines leaked: before=%d after=%d", before, after)
		}
	})
}
