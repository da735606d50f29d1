package transport

import (
	"sync"
)

// Capability is an OS feature, which may or may not be usable.
type Capability interface {
	// Name identifies the feature.
	Name() string
	// IsAvailable reports whether the feature may be requested.
	IsAvailable() bool
	// UnavailabilityCause returns nil if the feature is available, and a
	// [*CapabilityError] otherwise.
	UnavailabilityCause() error
}

// Probed capabilities. Each is probed at most once, the first time it is
// queried.
var (
	// Epoll is the epoll event notification facility, with eventfd.
	Epoll Capability = newProbe("epoll", probeEpoll)
	// DomainSockets is the AF_UNIX socket family.
	DomainSockets Capability = newProbe("domain sockets", probeDomainSockets)
	// ReusePort is the SO_REUSEPORT socket option.
	ReusePort Capability = newProbe("SO_REUSEPORT", probeReusePort)
	// FastOpen is server side TCP fast open (TCP_FASTOPEN).
	FastOpen Capability = newProbe("TCP_FASTOPEN", probeFastOpen)
	// FastOpenConnect is client side TCP fast open (TCP_FASTOPEN_CONNECT).
	FastOpenConnect Capability = newProbe("TCP_FASTOPEN_CONNECT", probeFastOpenConnect)
)

// Capabilities returns every probed capability.
func Capabilities() []Capability {
	return []Capability{Epoll, DomainSockets, ReusePort, FastOpen, FastOpenConnect}
}

type probe struct {
	result func() error
	name   string
}

func newProbe(name string, fn func() error) *probe {
	return &probe{
		name: name,
		result: sync.OnceValue(func() error {
			if err := fn(); err != nil {
				return &CapabilityError{Feature: name, Cause: err}
			}
			return nil
		}),
	}
}

func (p *probe) Name() string { return p.name }

func (p *probe) IsAvailable() bool { return p.result() == nil }

func (p *probe) UnavailabilityCause() error { return p.result() }

// requireCapability returns the cause, if c is wanted but unavailable.
func requireCapability(want bool, c Capability) error {
	if !want {
		return nil
	}
	return c.UnavailabilityCause()
}
