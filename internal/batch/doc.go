// Package batch implements the batch orchestrator: it turns a plan of
// (file, preset) encodes into supervised tasks, admits them against a
// concurrency ceiling, aggregates progress, and publishes lifecycle events.
//
// All state lives behind one mutex. Each encoder handle gets one forwarding
// goroutine, so events for a task are applied in the order the encoder
// emitted them. Every handle is tagged with the batch generation it was
// started under; events from an older generation, or any event arriving
// while a teardown is clearing state, are dropped without effect.
//
// Lifecycle:
//
//	uninitialized -> initializing -> active -> completed
//	                                 active -> cancelling -> tearing_down
//	any -> Teardown -> uninitialized
package batch
