package checkpoint_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-crloop/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrier_Cyclic(t *testing.T) {
	const parties = 4
	b := checkpoint.NewBarrier(parties)
	require.Equal(t, parties, b.Parties())

	for gen := uint64(0); gen < 3; gen++ {
		var wg sync.WaitGroup
		results := make([]uint64, parties)
		for i := 0; i < parties; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				g, errs := b.Await(nil)
				results[i] = g
				assert.Empty(t, errs)
			}()
		}
		wg.Wait()
		for _, g := range results {
			assert.Equal(t, gen, g)
		}
		assert.Equal(t, gen+1, b.Generation())
	}
}

func TestBarrier_Blocks(t *testing.T) {
	b := checkpoint.NewBarrier(2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Await(nil)
	}()

	require.Eventually(t, func() bool { return b.Arrived() == 1 }, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("barrier released early")
	case <-time.After(20 * time.Millisecond):
	}

	b.Await(nil)
	<-done
	assert.Zero(t, b.Arrived())
}

func TestBarrier_CarriesErrors(t *testing.T) {
	b := checkpoint.NewBarrier(3)
	errA := errors.New("a")
	errB := errors.New("b")

	var wg sync.WaitGroup
	got := make([][]error, 2)
	for i, err := range [...]error{errA, errB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, got[i] = b.Await(err)
		}()
	}
	require.Eventually(t, func() bool { return b.Arrived() == 2 }, time.Second, time.Millisecond)

	_, errs := b.Await(nil)
	wg.Wait()

	assert.ElementsMatch(t, []error{errA, errB}, errs)
	for _, e := range got {
		assert.ElementsMatch(t, errs, e)
	}

	// errors don't leak into the next generation
	go b.Await(nil)
	go b.Await(nil)
	_, errs = b.Await(nil)
	assert.Empty(t, errs)
}

func TestBarrier_InvalidParties(t *testing.T) {
	assert.Panics(t, func() { checkpoint.NewBarrier(0) })
}
