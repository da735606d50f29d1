package checkpoint

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// coordinatorOptions holds configuration options for coordinators, and the
// registries that create them.
type coordinatorOptions struct {
	logger *logiface.Logger[logiface.Event]
	policy ReopenPolicy
}

// CoordinatorOption configures a [Coordinator], or every coordinator
// created by a [Registry].
type CoordinatorOption interface {
	applyCoordinator(*coordinatorOptions) error
}

// coordinatorOptionImpl implements CoordinatorOption.
type coordinatorOptionImpl struct {
	applyCoordinatorFunc func(*coordinatorOptions) error
}

func (c *coordinatorOptionImpl) applyCoordinator(opts *coordinatorOptions) error {
	return c.applyCoordinatorFunc(opts)
}

// WithLogger attaches a structured logger. A nil logger disables logging,
// which is the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) CoordinatorOption {
	return &coordinatorOptionImpl{func(opts *coordinatorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithReopenPolicy controls when AfterRestore returns. See [ReopenPolicy].
func WithReopenPolicy(policy ReopenPolicy) CoordinatorOption {
	return &coordinatorOptionImpl{func(opts *coordinatorOptions) error {
		switch policy {
		case AwaitReopen, SignalOnly:
		default:
			return fmt.Errorf("checkpoint: invalid reopen policy: %d", policy)
		}
		opts.policy = policy
		return nil
	}}
}

// resolveCoordinatorOptions applies CoordinatorOption instances to
// coordinatorOptions.
func resolveCoordinatorOptions(opts []CoordinatorOption) (*coordinatorOptions, error) {
	cfg := &coordinatorOptions{
		policy: AwaitReopen,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyCoordinator(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
