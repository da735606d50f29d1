package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserTimeoutMillis(t *testing.T) {
	for _, tc := range [...]struct {
		in   time.Duration
		want int
	}{
		{in: 0, want: 0},
		{in: time.Nanosecond, want: 1},
		{in: 500 * time.Microsecond, want: 1},
		{in: time.Millisecond, want: 1},
		{in: 1500 * time.Microsecond, want: 2},
		{in: 30 * time.Second, want: 30000},
		{in: -time.Millisecond, want: -1},
	} {
		assert.Equal(t, tc.want, userTimeoutMillis(tc.in), tc.in.String())
	}
}

func TestServerOptions_ChildOptions(t *testing.T) {
	assert.False(t, ServerOptions{ReusePort: true, FastOpen: true}.childOptions())
	assert.True(t, ServerOptions{QuickAck: true}.childOptions())
	assert.True(t, ServerOptions{Cork: true}.childOptions())
}
