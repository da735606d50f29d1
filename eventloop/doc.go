// Package eventloop provides fixed-size groups of single-threaded event loops,
// each of which exclusively owns a small set of OS polling descriptors.
//
// # Architecture
//
// A [Loop] is a single goroutine, locked to its OS thread for its whole
// lifetime, that drains a task queue and blocks in a [Poller] between ticks.
// A [Group] is an ordered, immutable set of loops, created once by
// [NewGroup] and destroyed by its owner via [Group.Shutdown].
//
// The descriptors a loop owns are created by its poller. On Linux the
// default poller (see [NewEpollPoller]) owns three:
//   - an epoll instance, driving I/O readiness ([Loop.RegisterFD])
//   - an eventfd, used by [Loop.Submit] to wake a sleeping loop
//   - a timerfd, bounding each poll by the next timer deadline
//
// # Closing and Reopening Descriptors
//
// [Loop.CloseDescriptors] and [Loop.ReopenDescriptors] release and recreate
// every descriptor owned by a loop. Both must be called on the loop
// goroutine, typically from a task passed to [Loop.Submit]; the loop itself
// does not poll again until the task returns. Queued tasks, timers and FD
// registrations survive the cycle, and registrations are replayed onto the
// fresh epoll instance.
//
// This is the primitive used by package checkpoint, to quiesce a group
// around a process snapshot.
//
// # Thread Safety
//
//   - [Loop.Submit] and [Loop.ScheduleTimer] are safe to call from any goroutine
//   - [Loop.OpenDescriptors] and [Loop.Descriptors] may be called from any goroutine
//   - [Loop.CloseDescriptors] and [Loop.ReopenDescriptors] return
//     [ErrNotOnLoop] unless called on the loop goroutine
//
// # Usage
//
//	group, err := eventloop.NewGroup(4, eventloop.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer group.Shutdown(context.Background())
//
//	_ = group.Loop(0).Submit(func() {
//	    fmt.Println("runs on loop 0")
//	})
package eventloop
