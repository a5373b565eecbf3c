// Package ffprobe wraps ffprobe's JSON output. The encoder uses it to learn
// a source's duration so ffmpeg's elapsed-time reports can become percentages.
package ffprobe
