// Package services defines shared utilities consumed by the orchestrator,
// the encoder backends, and the daemon.
//
// Key responsibilities:
//   - Context helpers that stamp batch IDs, task keys, presets, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures carry a
//     component/operation prefix and remain classifiable with errors.Is.
//
// Use these helpers when wiring new components so error handling and
// observability stay uniform across the tool.
package services
