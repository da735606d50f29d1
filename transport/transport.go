package transport

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/joeycumines/logiface"
)

// ControlFunc is the signature of [net.ListenConfig.Control] and
// [net.Dialer.Control].
type ControlFunc = func(network, address string, c syscall.RawConn) error

// Transport creates sockets configured with the requested options.
type Transport struct {
	logger    *logiface.Logger[logiface.Event]
	threshold *Threshold
}

// New returns a transport. Unless [WithRequireEpoll] is false, it fails with
// the cause reported by [Epoll], if that is unavailable.
func New(opts ...Option) (*Transport, error) {
	cfg, err := resolveTransportOptions(opts)
	if err != nil {
		return nil, err
	}
	if cfg.requireEpoll {
		if err := Epoll.UnavailabilityCause(); err != nil {
			return nil, err
		}
	}
	return &Transport{
		logger:    cfg.logger,
		threshold: cfg.threshold,
	}, nil
}

// Threshold returns the threshold read by listeners requesting fast open.
func (t *Transport) Threshold() *Threshold {
	return t.threshold
}

// IsDomainSocket reports whether network names a Unix domain socket family.
func IsDomainSocket(network string) bool {
	switch network {
	case "unix", "unixgram", "unixpacket":
		return true
	default:
		return false
	}
}

// ServerControl returns the control function applying the listener options
// of opts. Options for accepted connections are applied by Listen.
func (t *Transport) ServerControl(opts ServerOptions) (ControlFunc, error) {
	if err := errors.Join(
		requireCapability(opts.ReusePort, ReusePort),
		requireCapability(opts.FastOpen, FastOpen),
	); err != nil {
		return nil, err
	}
	return func(network, _ string, c syscall.RawConn) error {
		if IsDomainSocket(network) {
			return nil
		}
		threshold := t.threshold.Get()
		return control(c, func(fd int) error {
			return setListenerOptions(fd, opts, threshold)
		})
	}, nil
}

// ClientControl returns the control function applying opts.
func (t *Transport) ClientControl(opts ClientOptions) (ControlFunc, error) {
	if err := requireCapability(opts.FastOpen, FastOpenConnect); err != nil {
		return nil, err
	}
	return func(network, _ string, c syscall.RawConn) error {
		if IsDomainSocket(network) {
			return nil
		}
		return control(c, func(fd int) error {
			return setClientOptions(fd, opts)
		})
	}, nil
}

// DatagramControl returns the control function applying opts.
func (t *Transport) DatagramControl(opts DatagramOptions) (ControlFunc, error) {
	if err := requireCapability(opts.ReusePort, ReusePort); err != nil {
		return nil, err
	}
	return func(network, _ string, c syscall.RawConn) error {
		if IsDomainSocket(network) {
			return nil
		}
		return control(c, func(fd int) error {
			return setDatagramOptions(fd, opts)
		})
	}, nil
}

// Listen announces on the local address, applying opts.
func (t *Transport) Listen(ctx context.Context, network, address string, opts ServerOptions) (net.Listener, error) {
	if IsDomainSocket(network) {
		if err := DomainSockets.UnavailabilityCause(); err != nil {
			return nil, err
		}
	}

	ctrl, err := t.ServerControl(opts)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{Control: ctrl}
	ln, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, err
	}

	t.logger.Debug().
		Str(`network`, network).
		Stringer(`address`, ln.Addr()).
		Bool(`reuse_port`, opts.ReusePort).
		Bool(`fast_open`, opts.FastOpen).
		Log(`listening`)

	if IsDomainSocket(network) || !opts.childOptions() {
		return ln, nil
	}
	return &listener{Listener: ln, transport: t, opts: opts}, nil
}

// Dial connects to the address, applying opts before connecting.
func (t *Transport) Dial(ctx context.Context, network, address string, opts ClientOptions) (net.Conn, error) {
	if IsDomainSocket(network) {
		if err := DomainSockets.UnavailabilityCause(); err != nil {
			return nil, err
		}
	}

	ctrl, err := t.ClientControl(opts)
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Control: ctrl}
	return d.DialContext(ctx, network, address)
}

// ListenPacket announces on the local address, applying opts.
func (t *Transport) ListenPacket(ctx context.Context, network, address string, opts DatagramOptions) (net.PacketConn, error) {
	if IsDomainSocket(network) {
		if err := DomainSockets.UnavailabilityCause(); err != nil {
			return nil, err
		}
	}

	ctrl, err := t.DatagramControl(opts)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{Control: ctrl}
	return lc.ListenPacket(ctx, network, address)
}

// listener applies the child options of a [ServerOptions] to each accepted
// connection.
type listener struct {
	net.Listener
	transport *Transport
	opts      ServerOptions
}

// Accept waits for and returns the next connection. Failing to set an
// option is logged, and the connection is still returned.
func (l *listener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	sc, ok := conn.(syscall.Conn)
	if !ok {
		return conn, nil
	}

	if err := l.applyChild(sc); err != nil {
		l.transport.logger.Warning().
			Stringer(`remote`, conn.RemoteAddr()).
			Err(err).
			Log(`failed to apply accepted connection options`)
	}

	return conn, nil
}

func (l *listener) applyChild(sc syscall.Conn) error {
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	return control(raw, func(fd int) error {
		return setChildOptions(fd, l.opts)
	})
}

// control runs fn against the descriptor of c, returning either error.
func control(c syscall.RawConn, fn func(fd int) error) error {
	var opErr error
	if err := c.Control(func(fd uintptr) {
		opErr = fn(int(fd))
	}); err != nil {
		return err
	}
	return opErr
}
