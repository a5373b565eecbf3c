package ipc

import (
	"crunch/internal/batch"
	"crunch/internal/daemon"
	"crunch/internal/events"
	"crunch/internal/preset"
)

// ServiceName is the JSON-RPC service prefix.
const ServiceName = "Crunch"

// PlanRequest selects files and presets for a dry run.
type PlanRequest = daemon.PlanRequest

// PlanResponse lists planned tasks and existing outputs.
type PlanResponse = daemon.PlanResult

// StartRequest starts a batch, replacing any loaded one.
type StartRequest = daemon.StartRequest

// StartResponse identifies the started batch.
type StartResponse = daemon.StartResult

// CancelRequest cancels the active batch.
type CancelRequest struct{}

// CancelResponse reports the cancelled batch.
type CancelResponse struct {
	BatchID string `json:"batch_id"`
}

// TeardownRequest clears the current batch.
type TeardownRequest struct{}

// TeardownResponse reports the cleared batch, if any.
type TeardownResponse struct {
	BatchID string `json:"batch_id,omitempty"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the daemon status including a batch snapshot.
type StatusResponse = daemon.Status

// EventsRequest polls for events after Since.
type EventsRequest struct {
	Since uint64 `json:"since"`
	Limit int    `json:"limit"`
	// WaitMillis blocks up to this long for a new event. Zero returns
	// immediately.
	WaitMillis int `json:"wait_ms"`
	// Tail returns the most recent Limit events and ignores Since.
	Tail bool `json:"tail"`
}

// EventsResponse carries events and the cursor for the next poll.
type EventsResponse struct {
	Events []events.Event `json:"events"`
	Next   uint64         `json:"next"`
}

// HistoryRequest lists recent batches, or fetches one when ID is set.
type HistoryRequest struct {
	ID    string `json:"id,omitempty"`
	Limit int    `json:"limit"`
}

// HistoryResponse holds batch summaries. Tasks are only filled for a
// single-batch lookup.
type HistoryResponse struct {
	Enabled bool            `json:"enabled"`
	Batches []batch.Summary `json:"batches"`
}

// PresetsRequest lists the preset catalog.
type PresetsRequest struct{}

// PresetsResponse holds every known preset.
type PresetsResponse struct {
	Presets []preset.Preset `json:"presets"`
}

// TestNotificationRequest sends a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse indicates whether the notification was sent.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

