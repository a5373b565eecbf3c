package batch

import (
	"errors"
	"fmt"
	"time"

	"crunch/internal/admission"
	"crunch/internal/events"
	"crunch/internal/plan"
	"crunch/internal/services"
	"crunch/internal/taskkey"
)

// Status is a task's position in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Lifecycle is the batch state.
type Lifecycle string

const (
	LifecycleUninitialized Lifecycle = "uninitialized"
	LifecycleInitializing  Lifecycle = "initializing"
	LifecycleActive        Lifecycle = "active"
	LifecycleCancelling    Lifecycle = "cancelling"
	LifecycleCompleted     Lifecycle = "completed"
	LifecycleTearingDown   Lifecycle = "tearing_down"
)

// ErrKeyCollision is returned when two inputs share a base name.
var ErrKeyCollision = plan.ErrKeyCollision

// ErrInvalidState matches every StateError.
var ErrInvalidState = errors.New("invalid batch state")

// StateError rejects an operation that is not valid in the current
// lifecycle. It matches ErrInvalidState and services.ErrValidation.
type StateError struct {
	Op        string
	Lifecycle Lifecycle
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed while batch is %s", e.Op, e.Lifecycle)
}

// Is supports errors.Is.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState || target == services.ErrValidation
}

// Task is a read-only view of one task.
type Task struct {
	Key        taskkey.Key `json:"key"`
	SourcePath string      `json:"source_path"`
	PresetID   string      `json:"preset_id"`
	KeepAudio  bool        `json:"keep_audio"`
	// PlannedPath is where the encode will write.
	PlannedPath string `json:"planned_path"`
	Status      Status `json:"status"`
	// Progress is 0-100 and never decreases while running.
	Progress float64 `json:"progress"`
	// OutputPath is set once the task completes.
	OutputPath string    `json:"output_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Snapshot is a consistent copy of orchestrator state.
type Snapshot struct {
	BatchID    string             `json:"batch_id,omitempty"`
	Generation uint64             `json:"generation"`
	Lifecycle  Lifecycle          `json:"lifecycle"`
	Started    bool               `json:"started"`
	Counts     events.Counts      `json:"counts"`
	Percent    float64            `json:"percent"`
	Ceiling    int                `json:"ceiling"`
	Reason     string             `json:"admission_reason,omitempty"`
	Reading    *admission.Reading `json:"reading,omitempty"`
	StartedAt  time.Time          `json:"started_at,omitzero"`
	Tasks      []Task             `json:"tasks,omitempty"`
}

// Summary is the final outcome of a batch.
type Summary struct {
	BatchID    string        `json:"batch_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Counts     events.Counts `json:"counts"`
	// Cancelled is set when the batch ended through Cancel.
	Cancelled bool `json:"cancelled"`
	// TornDown is set when Teardown cut the batch short.
	TornDown bool   `json:"torn_down"`
	Tasks    []Task `json:"tasks"`
}

// Duration returns how long the batch ran.
func (s Summary) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.Before(s.StartedAt) {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
