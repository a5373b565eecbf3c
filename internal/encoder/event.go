package encoder

import (
	"time"

	"crunch/internal/preset"
	"crunch/internal/taskkey"
)

// EventKind identifies a lifecycle signal from one invocation.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
)

// Terminal reports whether the kind ends the stream.
func (k EventKind) Terminal() bool {
	return k == EventSucceeded || k == EventFailed
}

// Event is one signal from an encode invocation.
type Event struct {
	Kind    EventKind
	Key     taskkey.Key
	Percent float64
	// OutputPath is set on EventSucceeded.
	OutputPath string
	// Err is set on EventFailed. Cancellation matches services.ErrCancelled.
	Err error
	At  time.Time
}

// Request describes one encode. Preset.Args is passed to the backend
// untouched.
type Request struct {
	Key        taskkey.Key
	SourcePath string
	OutputPath string
	Preset     preset.Preset
	KeepAudio  bool
}
