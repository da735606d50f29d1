//go:build linux

package transport

import (
	"golang.org/x/sys/unix"
)

func setsockopt(fd, level, opt int, name string, value int) error {
	if err := unix.SetsockoptInt(fd, level, opt, value); err != nil {
		return &SockoptError{Option: name, Err: err}
	}
	return nil
}

func setListenerOptions(fd int, opts ServerOptions, threshold int) error {
	if opts.ReusePort {
		if err := setsockopt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, "SO_REUSEPORT", 1); err != nil {
			return err
		}
	}
	if opts.FastOpen {
		if err := setsockopt(fd, unix.IPPROTO_TCP, unix.TCP_FASTOPEN, "TCP_FASTOPEN", threshold); err != nil {
			return err
		}
	}
	return nil
}

func setChildOptions(fd int, opts ServerOptions) error {
	if opts.QuickAck {
		if err := setsockopt(fd, unix.IPPROTO_TCP, unix.TCP_QUICKACK, "TCP_QUICKACK", 1); err != nil {
			return err
		}
	}
	if opts.Cork {
		if err := setsockopt(fd, unix.IPPROTO_TCP, unix.TCP_CORK, "TCP_CORK", 1); err != nil {
			return err
		}
	}
	return nil
}

func setClientOptions(fd int, opts ClientOptions) error {
	if opts.FastOpen {
		if err := setsockopt(fd, unix.IPPROTO_TCP, unix.TCP_FASTOPEN_CONNECT, "TCP_FASTOPEN_CONNECT", 1); err != nil {
			return err
		}
	}
	if opts.UserTimeout != 0 {
		if err := setsockopt(fd, unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, "TCP_USER_TIMEOUT", userTimeoutMillis(opts.UserTimeout)); err != nil {
			return err
		}
	}
	if opts.QuickAck {
		if err := setsockopt(fd, unix.IPPROTO_TCP, unix.TCP_QUICKACK, "TCP_QUICKACK", 1); err != nil {
			return err
		}
	}
	if opts.Cork {
		if err := setsockopt(fd, unix.IPPROTO_TCP, unix.TCP_CORK, "TCP_CORK", 1); err != nil {
			return err
		}
	}
	return nil
}

func setDatagramOptions(fd int, opts DatagramOptions) error {
	if opts.ReusePort {
		return setsockopt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, "SO_REUSEPORT", 1)
	}
	return nil
}
