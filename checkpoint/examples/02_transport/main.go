// Example: Transport
//
// This example reports the probed socket capabilities, then serves a
// line-echo protocol from a loop group. The listener takes part in the
// checkpoint: it is closed before the snapshot, after the loops have
// stopped accepting work, and announced again on the same address after
// restore.
//
// Run with: go run ./checkpoint/examples/02_transport/
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-crloop/checkpoint"
	"github.com/joeycumines/go-crloop/eventloop"
	"github.com/joeycumines/go-crloop/transport"
	"github.com/joeycumines/stumpy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	logger := stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr))).Logger()

	for _, c := range transport.Capabilities() {
		if c.IsAvailable() {
			fmt.Printf("%-22s available\n", c.Name())
		} else {
			fmt.Printf("%-22s %v\n", c.Name(), c.UnavailabilityCause())
		}
	}

	tr, err := transport.New(transport.WithLogger(logger), transport.WithRequireEpoll(false))
	if err != nil {
		return err
	}

	g, _, err := checkpoint.NewGroup(nil, 2, eventloop.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = g.Shutdown(ctx)
	}()

	srv := &server{
		transport: tr,
		group:     g,
		opts: transport.ServerOptions{
			ReusePort: transport.ReusePort.IsAvailable(),
			FastOpen:  transport.FastOpen.IsAvailable(),
			QuickAck:  true,
		},
	}
	if err := srv.listen("127.0.0.1:0"); err != nil {
		return err
	}
	defer srv.close()

	cr := checkpoint.GlobalContext()
	cr.Register(srv)

	if err := echo(srv.addr(), "hello"); err != nil {
		return err
	}

	if err := cr.BeforeCheckpoint(); err != nil {
		return fmt.Errorf("before checkpoint: %w", err)
	}
	fmt.Println("taking snapshot...")
	time.Sleep(100 * time.Millisecond)
	if err := cr.AfterRestore(); err != nil {
		return fmt.Errorf("after restore: %w", err)
	}

	return echo(srv.addr(), "restored")
}

// server accepts connections, and handles each one's lines on a loop,
// round robin.
type server struct {
	transport *transport.Transport
	group     *eventloop.Group
	opts      transport.ServerOptions

	mu      sync.Mutex
	ln      net.Listener
	address string
	wg      sync.WaitGroup
	next    atomic.Uint64
}

func (s *server) listen(address string) error {
	ln, err := s.transport.Listen(context.Background(), "tcp", address, s.opts)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.address = ln.Addr().String()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.accept(ln)
	return nil
}

func (s *server) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

func (s *server) close() error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	s.wg.Wait()
	return err
}

func (s *server) accept(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				fmt.Fprintln(os.Stderr, "accept:", err)
			}
			return
		}
		go s.serve(conn)
	}
}

func (s *server) serve(conn net.Conn) {
	defer conn.Close()
	l := s.group.Loop(int(s.next.Add(1) % uint64(s.group.Len())))
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		done := make(chan string, 1)
		if err := l.Submit(func() {
			done <- fmt.Sprintf("loop %d: %s\n", l.Index(), line)
		}); err != nil {
			return
		}
		if _, err := conn.Write([]byte(<-done)); err != nil {
			return
		}
	}
}

// BeforeCheckpoint implements checkpoint.Resource.
func (s *server) BeforeCheckpoint() error {
	return s.close()
}

// AfterRestore implements checkpoint.Resource.
func (s *server) AfterRestore() error {
	return s.listen(s.addr())
}

func echo(address, msg string) error {
	conn, err := net.DialTimeout("tcp", address, 5*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := fmt.Fprintln(conn, msg); err != nil {
		return err
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return err
	}
	fmt.Print(reply)
	return nil
}
