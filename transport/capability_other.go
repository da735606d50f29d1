//go:build !linux

package transport

func probeEpoll() error { return ErrUnsupportedPlatform }

func probeDomainSockets() error { return ErrUnsupportedPlatform }

func probeReusePort() error { return ErrUnsupportedPlatform }

func probeFastOpen() error { return ErrUnsupportedPlatform }

func probeFastOpenConnect() error { return ErrUnsupportedPlatform }
