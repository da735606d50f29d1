//go:build !linux

package eventloop

func defaultPollerFactory(int) PollerFactory {
	return func(int) (Poller, error) {
		return nil, ErrPollerUnsupported
	}
}
