// Package examples contains runnable example programs demonstrating
// the checkpoint and transport packages.
//
// # Examples
//
//   - 01_quiesce: Quiescing a loop group around a simulated snapshot
//   - 02_transport: Probing capabilities and serving from a group
//
// # Running Examples
//
//	go run ./checkpoint/examples/01_quiesce/
//	go run ./checkpoint/examples/02_transport/
package examples
