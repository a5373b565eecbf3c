// Package logging assembles structured slog loggers and formatting helpers used
// across crunch.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so orchestrator and encoder code
// can tag log lines with batch IDs and task keys. The package also provides a
// no-op logger for tests and wiring code that cannot fail.
package logging
