package checkpoint

import (
	"context"
	"fmt"

	"github.com/joeycumines/go-crloop/eventloop"
)

// NewGroup creates a group of n loops, and registers it with reg. If reg is
// nil, [DefaultRegistry] is used.
//
// The group is shut down again if it cannot be registered.
func NewGroup(reg *Registry, n int, opts ...eventloop.Option) (*eventloop.Group, *Coordinator, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}

	g, err := eventloop.NewGroup(n, opts...)
	if err != nil {
		return nil, nil, err
	}

	c, err := reg.Register(g)
	if err != nil {
		_ = g.Shutdown(context.Background())
		return nil, nil, fmt.Errorf("checkpoint: register group: %w", err)
	}

	return g, c, nil
}
