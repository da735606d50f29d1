//go:build linux

package checkpoint_test

import (
	"context"
	"testing"
	"time"

	"github.com/joeycumines/go-crloop/checkpoint"
	"github.com/joeycumines/go-crloop/eventloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// Two loops, three real descriptors each, through a full cycle.
func TestScenario_EpollGroup(t *testing.T) {
	r, err := checkpoint.NewRegistry()
	require.NoError(t, err)

	g, c, err := checkpoint.NewGroup(r, 2)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, g.Shutdown(context.Background()))
	})

	var pipe [2]int
	require.NoError(t, unix.Pipe2(pipe[:], unix.O_CLOEXEC|unix.O_NONBLOCK))
	t.Cleanup(func() {
		_ = unix.Close(pipe[0])
		_ = unix.Close(pipe[1])
	})

	readable := make(chan struct{}, 1)
	require.NoError(t, g.Loop(0).RegisterFD(pipe[0], eventloop.EventRead, func(eventloop.IOEvents) {
		var buf [16]byte
		_, _ = unix.Read(pipe[0], buf[:])
		select {
		case readable <- struct{}{}:
		default:
		}
	}))

	serials := make(map[uint64]struct{})
	for _, l := range g.Loops() {
		descs := l.Descriptors()
		require.Len(t, descs, 3)
		for _, d := range descs {
			serials[d.Serial] = struct{}{}
		}
	}

	require.NoError(t, c.BeforeCheckpoint())
	assert.Equal(t, []int{0, 0}, openCounts(g))

	require.NoError(t, c.AfterRestore())
	assert.Equal(t, []int{3, 3}, openCounts(g))

	for _, l := range g.Loops() {
		for _, d := range l.Descriptors() {
			_, seen := serials[d.Serial]
			assert.False(t, seen, "descriptor %d was not recreated", d.FD)
			serials[d.Serial] = struct{}{}
		}
	}
	assert.Len(t, serials, 12)

	// the registration was replayed onto the new epoll instance
	_, err = unix.Write(pipe[1], []byte{1})
	require.NoError(t, err)
	select {
	case <-readable:
	case <-time.After(5 * time.Second):
		t.Fatal("registered fd not polled after restore")
	}

	require.NoError(t, g.Loop(0).UnregisterFD(pipe[0]))
}
