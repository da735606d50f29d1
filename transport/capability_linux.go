//go:build linux

package transport

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// tcpFastOpenSysctl holds a bitmask: 1 enables client support, 2 server.
const tcpFastOpenSysctl = "/proc/sys/net/ipv4/tcp_fastopen"

func probeEpoll() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return fmt.Errorf("eventfd: %w", err)
	}
	return unix.Close(efd)
}

func probeDomainSockets() error {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	return unix.Close(fd)
}

func probeReusePort() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		fd, err = unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			return fmt.Errorf("socket: %w", err)
		}
	}
	defer unix.Close(fd)
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fmt.Errorf("setsockopt: %w", err)
	}
	return nil
}

func probeFastOpen() error {
	return probeFastOpenBit(2)
}

func probeFastOpenConnect() error {
	return probeFastOpenBit(1)
}

func probeFastOpenBit(bit int) error {
	mode, err := readFastOpenSysctl(tcpFastOpenSysctl)
	if err != nil {
		return err
	}
	if mode&bit == 0 {
		return fmt.Errorf("disabled by %s (value %d)", tcpFastOpenSysctl, mode)
	}
	return nil
}

func readFastOpenSysctl(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	mode, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return mode, nil
}
