package transport

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

// ServerOptions are applied to listeners, and to the connections they
// accept.
type ServerOptions struct {
	// ReusePort sets SO_REUSEPORT on the listener.
	ReusePort bool
	// FastOpen sets TCP_FASTOPEN on the listener, to the transport's
	// current threshold.
	FastOpen bool
	// QuickAck sets TCP_QUICKACK on each accepted connection.
	QuickAck bool
	// Cork sets TCP_CORK on each accepted connection.
	Cork bool
}

func (o ServerOptions) childOptions() bool {
	return o.QuickAck || o.Cork
}

// ClientOptions are applied to dialed connections, before they connect.
type ClientOptions struct {
	// UserTimeout sets TCP_USER_TIMEOUT when non-zero. It is rounded up to
	// whole milliseconds, as zero would disable the option.
	UserTimeout time.Duration
	// FastOpen sets TCP_FASTOPEN_CONNECT.
	FastOpen bool
	// QuickAck sets TCP_QUICKACK.
	QuickAck bool
	// Cork sets TCP_CORK.
	Cork bool
}

// userTimeoutMillis converts d to TCP_USER_TIMEOUT milliseconds, rounding
// positive durations up.
func userTimeoutMillis(d time.Duration) int {
	if d <= 0 {
		return int(d / time.Millisecond)
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

// DatagramOptions are applied to packet sockets.
type DatagramOptions struct {
	// ReusePort sets SO_REUSEPORT.
	ReusePort bool
}

// transportOptions holds configuration options for Transport creation.
type transportOptions struct {
	logger       *logiface.Logger[logiface.Event]
	threshold    *Threshold
	requireEpoll bool
}

// Option configures a [Transport].
type Option interface {
	applyTransport(*transportOptions) error
}

// transportOptionImpl implements Option.
type transportOptionImpl struct {
	applyTransportFunc func(*transportOptions) error
}

func (t *transportOptionImpl) applyTransport(opts *transportOptions) error {
	return t.applyTransportFunc(opts)
}

// WithLogger attaches a structured logger. A nil logger disables logging,
// which is the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &transportOptionImpl{func(opts *transportOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithThreshold sets the threshold read by listeners requesting fast open.
// Defaults to [DefaultThreshold].
func WithThreshold(threshold *Threshold) Option {
	return &transportOptionImpl{func(opts *transportOptions) error {
		if threshold == nil {
			return fmt.Errorf("transport: nil threshold")
		}
		opts.threshold = threshold
		return nil
	}}
}

// WithRequireEpoll controls whether New fails if [Epoll] is unavailable
// (default true).
func WithRequireEpoll(required bool) Option {
	return &transportOptionImpl{func(opts *transportOptions) error {
		opts.requireEpoll = required
		return nil
	}}
}

// resolveTransportOptions applies Option instances to transportOptions.
func resolveTransportOptions(opts []Option) (*transportOptions, error) {
	cfg := &transportOptions{
		threshold:    DefaultThreshold(),
		requireEpoll: true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyTransport(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
