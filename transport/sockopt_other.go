//go:build !linux

package transport

func unsupported(name string) error {
	return &SockoptError{Option: name, Err: ErrUnsupportedPlatform}
}

func setListenerOptions(_ int, opts ServerOptions, _ int) error {
	switch {
	case opts.ReusePort:
		return unsupported("SO_REUSEPORT")
	case opts.FastOpen:
		return unsupported("TCP_FASTOPEN")
	}
	return nil
}

func setChildOptions(_ int, opts ServerOptions) error {
	switch {
	case opts.QuickAck:
		return unsupported("TCP_QUICKACK")
	case opts.Cork:
		return unsupported("TCP_CORK")
	}
	return nil
}

func setClientOptions(_ int, opts ClientOptions) error {
	switch {
	case opts.FastOpen:
		return unsupported("TCP_FASTOPEN_CONNECT")
	case opts.UserTimeout != 0:
		return unsupported("TCP_USER_TIMEOUT")
	case opts.QuickAck:
		return unsupported("TCP_QUICKACK")
	case opts.Cork:
		return unsupported("TCP_CORK")
	}
	return nil
}

func setDatagramOptions(_ int, opts DatagramOptions) error {
	if opts.ReusePort {
		return unsupported("SO_REUSEPORT")
	}
	return nil
}
