// Package events carries orchestrator lifecycle events to consumers. Hub
// keeps a bounded ring of recent events for long-poll readers (the daemon's
// IPC) and fans them out to in-process subscribers (CLI progress, history).
package events

import "time"

// Kind names an event.
type Kind string

const (
	KindBatchInitialized  Kind = "batch_initialized"
	KindConflictsDetected Kind = "conflicts_detected"
	KindTaskStarted       Kind = "task_started"
	KindTaskProgress      Kind = "task_progress"
	KindTaskCompleted     Kind = "task_completed"
	KindBatchProgress     Kind = "batch_progress"
	KindBatchCompleted    Kind = "batch_completed"
	KindBatchCancelling   Kind = "batch_cancelling"
	KindBatchTornDown     Kind = "batch_torn_down"
)

// Counts summarizes task states in a batch.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Terminal returns the number of tasks in a terminal state.
func (c Counts) Terminal() int { return c.Completed + c.Failed + c.Cancelled }

// Event is one published lifecycle change.
type Event struct {
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Kind      Kind      `json:"kind"`
	BatchID   string    `json:"batch_id,omitempty"`
	TaskKey   string    `json:"task_key,omitempty"`
	// Status is the task status for task events.
	Status string `json:"status,omitempty"`
	// Percent is the task's own progress.
	Percent float64 `json:"percent,omitempty"`
	// BatchPercent is aggregate progress across the batch.
	BatchPercent float64 `json:"batch_percent,omitempty"`
	OutputPath   string  `json:"output_path,omitempty"`
	Error        string  `json:"error,omitempty"`
	Counts       *Counts `json:"counts,omitempty"`
	// Conflicts lists conflicting task keys for conflicts_detected.
	Conflicts []string `json:"conflicts,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// Sink receives events. Publish must not block; the orchestrator calls it
// while holding its state lock.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish calls f.
func (f SinkFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})
