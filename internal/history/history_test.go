package history_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"crunch/internal/batch"
	"crunch/internal/events"
	"crunch/internal/history"
	"crunch/internal/services"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "state", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleSummary(id string, finished time.Time) batch.Summary {
	return batch.Summary{
		BatchID:    id,
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
		Counts:     events.Counts{Total: 2, Completed: 1, Failed: 1},
		Tasks: []batch.Task{
			{Key: "b.mov::small", SourcePath: "/in/b.mov", PresetID: "small", Status: batch.StatusFailed, Progress: 12, Error: "ffmpeg exited 1"},
			{Key: "a.mov::small", SourcePath: "/in/a.mov", PresetID: "small", Status: batch.StatusCompleted, Progress: 100, OutputPath: "/out/a_small.mp4", StartedAt: finished.Add(-time.Minute), FinishedAt: finished},
		},
	}
}

func TestRecordAndGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Record(ctx, sampleSummary("batch-1", finished)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := store.Get(ctx, "batch-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Counts.Completed != 1 || got.Counts.Failed != 1 || got.Counts.Total != 2 {
		t.Fatalf("unexpected counts %+v", got.Counts)
	}
	if !got.FinishedAt.Equal(finished) || got.Duration() != time.Minute {
		t.Fatalf("unexpected times: %v -> %v", got.StartedAt, got.FinishedAt)
	}
	if len(got.Tasks) != 2 || got.Tasks[0].Key != "a.mov::small" {
		t.Fatalf("tasks should be sorted by key: %+v", got.Tasks)
	}
	if got.Tasks[0].OutputPath != "/out/a_small.mp4" || got.Tasks[1].Error != "ffmpeg exited 1" {
		t.Fatalf("task fields not preserved: %+v", got.Tasks)
	}
}

func TestRecordReplacesExistingBatch(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	summary := sampleSummary("batch-1", time.Now())
	if err := store.Record(ctx, summary); err != nil {
		t.Fatal(err)
	}
	summary.Tasks = summary.Tasks[:1]
	summary.TornDown = true
	if err := store.Record(ctx, summary); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "batch-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tasks) != 1 || !got.TornDown {
		t.Fatalf("expected replaced rows, got %+v", got)
	}
}

func TestRecordRequiresBatchID(t *testing.T) {
	store := openStore(t)
	if err := store.Record(context.Background(), batch.Summary{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	store := openStore(t)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		if err := store.Record(ctx, sampleSummary(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}
	all, err := store.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].BatchID != "new" || all[2].BatchID != "old" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if len(all[0].Tasks) != 0 {
		t.Fatal("List should not load task rows")
	}
	limited, err := store.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[1].BatchID != "mid" {
		t.Fatalf("unexpected limited list: %+v", limited)
	}
}

func TestPruneRemovesOldBatchesAndTasks(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := store.Record(ctx, sampleSummary("ancient", now.AddDate(0, 0, -120))); err != nil {
		t.Fatal(err)
	}
	if err := store.Record(ctx, sampleSummary("recent", now.AddDate(0, 0, -3))); err != nil {
		t.Fatal(err)
	}

	removed, err := store.PruneRetention(ctx, 90, now)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed %d batches, want 1", removed)
	}
	if _, err := store.Get(ctx, "ancient"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("ancient batch should be gone: %v", err)
	}
	if removed, _ := store.PruneRetention(ctx, 0, now); removed != 0 {
		t.Fatal("zero retention must keep everything")
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Record(context.Background(), sampleSummary("batch-1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	reopened, err := history.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(context.Background(), "batch-1"); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
}

func TestOpenRefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := history.Open(path); !errors.Is(err, history.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
