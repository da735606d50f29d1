// Package checkpoint quiesces groups of event loops around a whole-process
// checkpoint and restore, such as those taken by CRIU.
//
// Immediately before the snapshot, every loop closes the descriptors it
// owns, so that none are captured. Immediately after restore, each loop
// reopens them on its own goroutine, without losing queued tasks or timers.
//
// # Protocol
//
// A [Coordinator] drives a single [eventloop.Group] of N loops, meeting
// them at a cyclic [Barrier] of N+1 parties. The orchestrator calls
// [Coordinator.BeforeCheckpoint], which returns once every loop has closed
// its descriptors, then takes the snapshot, then calls
// [Coordinator.AfterRestore]. If any loop fails to close, the others are
// released to reopen, and the checkpoint is reported as failed, so no loop
// is ever left half closed.
//
// Waiting is uninterruptible. There are no timeouts.
//
// # Registration
//
// A [Registry] maps each live group to its coordinator, holding only weak
// references: a group that is shut down or garbage collected drops out of
// the registry on its own. [NewGroup] creates and registers a group in one
// step. Registries and coordinators are [Resource] values, ordered by a
// [Context]; [GlobalContext] holds [DefaultRegistry].
//
// # Usage
//
//	group, _, err := checkpoint.NewGroup(nil, 4)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer group.Shutdown(context.Background())
//
//	if err := checkpoint.GlobalContext().BeforeCheckpoint(); err != nil {
//	    log.Fatal(err)
//	}
//	// take the snapshot
//	if err := checkpoint.GlobalContext().AfterRestore(); err != nil {
//	    log.Print(err)
//	}
package checkpoint
