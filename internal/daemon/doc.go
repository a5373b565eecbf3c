// Package daemon coordinates a long-running crunch process.
//
// It wires configuration, the batch orchestrator, the event hub, batch
// history, notifications and telemetry into a single lifecycle with
// flock-based locking to prevent two encoders fighting over one machine.
// Both crunchd (behind the ipc package) and the in-process "crunch run"
// command drive batches through the same Daemon methods.
//
// Keep batch semantics in the batch package: the daemon focuses on startup,
// shutdown, request validation and side effects of finished batches.
package daemon
