// Package encoder runs one external encode per (file, preset) pair and
// reports its lifecycle as a per-task event stream.
//
// Every invocation returns a Handle whose Events channel yields exactly one
// Started event, zero or more Progress events with strictly increasing
// percentages in [0,100], and exactly one terminal event (Succeeded or
// Failed) before the channel closes. Encoder failures never surface as
// synchronous errors; they arrive as the terminal Failed event.
//
// Backends:
//   - FFmpeg: shells out to ffmpeg with -progress output, writing to a
//     partial file that is renamed over the planned output on success
//   - Drapto: calls the drapto library through a Reporter adapter
//
// Router picks the backend named by the request's preset.
package encoder
