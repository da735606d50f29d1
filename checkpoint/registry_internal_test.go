package checkpoint

import (
	"context"
	"testing"
	"weak"

	"github.com/joeycumines/go-crloop/eventloop"
	"github.com/joeycumines/go-crloop/internal/looptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ScavengeCompactsRing(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	f := &looptest.Factory{}
	live, err := eventloop.NewGroup(1, eventloop.WithPollerFactory(f.New))
	require.NoError(t, err)
	defer live.Shutdown(context.Background())

	liveCoord, err := r.Register(live)
	require.NoError(t, err)

	const n = 100
	for i := 0; i < n; i++ {
		g, err := eventloop.NewGroup(1, eventloop.WithPollerFactory(f.New))
		require.NoError(t, err)
		_, err = r.Register(g)
		require.NoError(t, err)
		require.NoError(t, g.Shutdown(context.Background()))
	}

	r.mu.RLock()
	assert.Len(t, r.ring, n+1)
	assert.Len(t, r.data, 1)
	r.mu.RUnlock()

	// partial batches advance the cursor
	r.Scavenge(10)
	r.mu.RLock()
	assert.Equal(t, 10, r.head)
	r.mu.RUnlock()

	for i := 0; i < 20; i++ {
		r.Scavenge(10)
	}

	r.mu.RLock()
	assert.Equal(t, 1, len(r.ring))
	assert.Len(t, r.keys, 1)
	r.mu.RUnlock()

	c, ok := r.Lookup(live)
	require.True(t, ok)
	assert.Same(t, liveCoord, c)
	assert.Equal(t, []*Coordinator{liveCoord}, r.coordinators())
}

func TestRegistry_ScavengeRemovesShutdownGroups(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	g, err := eventloop.NewGroup(1, eventloop.WithPollerFactory((&looptest.Factory{}).New))
	require.NoError(t, err)
	require.NoError(t, g.Shutdown(context.Background()))

	// an entry that missed its shutdown notification
	key := weak.Make(g)
	r.mu.Lock()
	r.data[r.nextID] = &registryEntry{key: key, coord: newCoordinator(key, g.Len(), r.cfg)}
	r.keys[key] = r.nextID
	r.ring = append(r.ring, r.nextID)
	r.nextID++
	r.mu.Unlock()

	r.Scavenge(0)
	assert.Equal(t, 1, r.Len())

	r.Scavenge(10)
	assert.Zero(t, r.Len())
	_, ok := r.Lookup(g)
	assert.False(t, ok)
}
