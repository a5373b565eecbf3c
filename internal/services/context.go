package services

import "context"

type contextKey string

const (
	batchIDKey   contextKey = "batch_id"
	taskKeyKey   contextKey = "task_key"
	presetKey    contextKey = "preset"
	requestIDKey contextKey = "request_id"
)

// WithBatchID annotates context with the batch identifier.
func WithBatchID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, batchIDKey, id)
}

// BatchIDFromContext extracts the batch identifier if present.
func BatchIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(batchIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithTaskKey annotates context with a task key.
func WithTaskKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, taskKeyKey, key)
}

// TaskKeyFromContext returns the task key if present.
func TaskKeyFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(taskKeyKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithPreset annotates context with the preset identifier.
func WithPreset(ctx context.Context, preset string) context.Context {
	if preset == "" {
		return ctx
	}
	return context.WithValue(ctx, presetKey, preset)
}

// PresetFromContext returns the preset identifier if present.
func PresetFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(presetKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
