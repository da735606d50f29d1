// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// DefaultMaxEvents is the default size of the per-poll event buffer.
const DefaultMaxEvents = 256

// loopOptions holds configuration options for Loop and Group creation.
type loopOptions struct {
	logger        *logiface.Logger[logiface.Event]
	pollerFactory PollerFactory
	maxEvents     int
	lockOSThread  bool
}

// --- Loop Options ---

// Option configures a Group, and every Loop within it.
type Option interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements Option.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger attaches a structured logger. A nil logger disables logging,
// which is the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithPollerFactory replaces the platform default poller. The factory is
// called once per loop, with the loop's index within the group.
func WithPollerFactory(factory PollerFactory) Option {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if factory == nil {
			return fmt.Errorf("eventloop: nil poller factory")
		}
		opts.pollerFactory = factory
		return nil
	}}
}

// WithMaxEvents sets the maximum number of events the default poller will
// read per poll.
func WithMaxEvents(n int) Option {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if n <= 0 {
			return fmt.Errorf("eventloop: invalid max events: %d", n)
		}
		opts.maxEvents = n
		return nil
	}}
}

// WithLockOSThread controls whether each loop goroutine is locked to its OS
// thread (default true). Some polling mechanisms require the thread that
// recreates a descriptor to be the thread that drives it.
func WithLockOSThread(enabled bool) Option {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.lockOSThread = enabled
		return nil
	}}
}

// resolveLoopOptions applies Option instances to loopOptions.
func resolveLoopOptions(opts []Option) (*loopOptions, error) {
	cfg := &loopOptions{
		maxEvents:    DefaultMaxEvents,
		lockOSThread: true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.pollerFactory == nil {
		cfg.pollerFactory = defaultPollerFactory(cfg.maxEvents)
	}
	return cfg, nil
}
