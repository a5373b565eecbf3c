// Command crunch compresses batches of video files with one or more presets.
//
// `crunch run` executes a batch in-process with live progress. The daemon
// commands (`start`, `submit`, `watch`, `status`, `cancel`, `teardown`,
// `stop`) drive a background crunchd over its Unix socket.
package main
