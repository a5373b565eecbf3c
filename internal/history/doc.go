// Package history persists finished batch summaries in SQLite.
//
// Each batch produces one row in batches and one row per task in tasks.
// Rows are written once when a batch completes or is torn down and are never
// updated afterwards; Prune removes batches older than the retention window.
//
// Schema changes are appended to migrations in schema.go and tracked with
// PRAGMA user_version. A database from a newer build is refused rather than
// guessed at; history is advisory, so the user can delete it.
package history
