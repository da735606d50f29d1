// Example: Quiesce
//
// This example creates a group of loops registered with the default
// registry, then runs the global checkpoint context through one
// checkpoint/restore cycle, printing the descriptors of each loop before
// and after.
//
// Run with: go run ./checkpoint/examples/01_quiesce/
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joeycumines/go-crloop/checkpoint"
	"github.com/joeycumines/go-crloop/eventloop"
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

	g, coord, err := checkpoint.NewGroup(nil, 4, eventloop.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = g.Shutdown(ctx)
	}()

	printDescriptors("before checkpoint", g)

	// work submitted while quiesced runs after restore
	ran := make(chan int, g.Len())

	cr := checkpoint.GlobalContext()
	if err := cr.BeforeCheckpoint(); err != nil {
		return fmt.Errorf("before checkpoint: %w", err)
	}
	fmt.Printf("state: %s\n", coord.State())
	printDescriptors("quiesced", g)

	for _, l := range g.Loops() {
		if err := l.Submit(func() { ran <- l.Index() }); err != nil {
			return err
		}
	}

	fmt.Println("taking snapshot...")
	time.Sleep(100 * time.Millisecond)

	if err := cr.AfterRestore(); err != nil {
		return fmt.Errorf("after restore: %w", err)
	}
	fmt.Printf("state: %s\n", coord.State())

	for range g.Len() {
		fmt.Printf("loop %d ran queued work\n", <-ran)
	}
	printDescriptors("after restore", g)

	stats := coord.Stats()
	fmt.Printf("checkpoints=%d restores=%d rollbacks=%d\n", stats.Checkpoints, stats.Restores, stats.Rollbacks)
	return nil
}

func printDescriptors(label string, g *eventloop.Group) {
	fmt.Printf("%s:\n", label)
	for _, l := range g.Loops() {
		fmt.Printf("  loop %d:", l.Index())
		for _, d := range l.Descriptors() {
			fmt.Printf(" %s(fd=%d serial=%d)", d.Kind, d.FD, d.Serial)
		}
		fmt.Println()
	}
}
