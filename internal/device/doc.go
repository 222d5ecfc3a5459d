// Package device owns the device registry and lifecycle.
//
// Definitions (devices and their points) persist in SQLite through
// Repository. Runtime state is in-memory: each enabled device gets a
// runner goroutine that drives the connect / serve / reconnect loop
// through the lifecycle FSM, emitting point events onto the bus with
// change detection, stale marking on disconnect, and hop propagation
// for rule write-backs.
package device
