// Package notifications pushes batch outcomes to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never branch on whether notifications are enabled. Individual
// message kinds can be switched off in the notifications config section.
package notifications
