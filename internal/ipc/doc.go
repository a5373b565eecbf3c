// Package ipc exposes the daemon over JSON-RPC on a Unix domain socket and
// ships the matching client used by the CLI.
//
// Request and response types alias the daemon's own types where the daemon
// already defines a stable JSON shape, so the CLI, the RPC surface and the
// HTTP status API all agree on field names. Events is a long poll: the
// server holds the call open until something is published or the wait
// expires.
package ipc
