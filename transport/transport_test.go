package transport_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/joeycumines/go-crloop/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreshold(t *testing.T) {
	assert.Equal(t, transport.DefaultFastOpenThreshold, transport.DefaultThreshold().Get())
	assert.Same(t, transport.DefaultThreshold(), transport.DefaultThreshold())

	th, err := transport.NewThreshold(transport.DefaultFastOpenThreshold)
	require.NoError(t, err)

	for _, tc := range [...]struct {
		value int
		valid bool
	}{
		{value: -1, valid: false},
		{value: 0, valid: true},
		{value: 1000, valid: true},
	} {
		before := th.Get()
		err := th.Set(tc.value)
		if tc.valid {
			require.NoError(t, err)
			assert.Equal(t, tc.value, th.Get())
			continue
		}
		var verr *transport.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, tc.value, verr.Value)
		assert.Equal(t, before, th.Get())
	}

	_, err = transport.NewThreshold(-5)
	require.Error(t, err)
}

func TestThreshold_Concurrent(t *testing.T) {
	th, err := transport.NewThreshold(0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.NoError(t, th.Set(i*100+j))
				assert.GreaterOrEqual(t, th.Get(), 0)
			}
		}()
	}
	wg.Wait()
}

func TestIsDomainSocket(t *testing.T) {
	for network, want := range map[string]bool{
		"unix":       true,
		"unixgram":   true,
		"unixpacket": true,
		"tcp":        false,
		"tcp4":       false,
		"udp":        false,
		"":           false,
	} {
		assert.Equal(t, want, transport.IsDomainSocket(network), network)
	}
}

func TestCapabilities(t *testing.T) {
	caps := transport.Capabilities()
	require.Len(t, caps, 5)
	for _, c := range caps {
		t.Run(c.Name(), func(t *testing.T) {
			available := c.IsAvailable()
			cause := c.UnavailabilityCause()
			assert.Equal(t, available, c.IsAvailable())
			assert.Equal(t, cause, c.UnavailabilityCause())
			if available {
				assert.NoError(t, cause)
				return
			}
			var capErr *transport.CapabilityError
			require.ErrorAs(t, cause, &capErr)
			assert.Equal(t, c.Name(), capErr.Feature)
			assert.Error(t, capErr.Cause)
			t.Logf("unavailable: %v", cause)
		})
	}
}

func TestErrors(t *testing.T) {
	cause := errors.New("nope")
	capErr := &transport.CapabilityError{Feature: "x", Cause: cause}
	assert.Equal(t, "transport: x unavailable: nope", capErr.Error())
	assert.ErrorIs(t, capErr, cause)

	optErr := &transport.SockoptError{Option: "TCP_CORK", Err: cause}
	assert.Equal(t, "transport: setsockopt TCP_CORK: nope", optErr.Error())
	assert.ErrorIs(t, optErr, cause)

	verr := &transport.ValidationError{Field: "f", Value: -1, Reason: "must be >= 0"}
	assert.Equal(t, "transport: invalid f -1: must be >= 0", verr.Error())
}

func TestNew_Options(t *testing.T) {
	_, err := transport.New(transport.WithThreshold(nil))
	require.Error(t, err)

	th, err := transport.NewThreshold(7)
	require.NoError(t, err)
	tr, err := transport.New(nil, transport.WithRequireEpoll(false), transport.WithThreshold(th), transport.WithLogger(nil))
	require.NoError(t, err)
	assert.Same(t, th, tr.Threshold())

	tr, err = transport.New(transport.WithRequireEpoll(false))
	require.NoError(t, err)
	assert.Same(t, transport.DefaultThreshold(), tr.Threshold())
}
