package conflict

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"crunch/internal/naming"
	"crunch/internal/plan"
	"crunch/internal/preset"
	"crunch/internal/services"
)

var testPresets = []preset.Preset{
	{ID: "small", Folder: "small", Suffix: "_small", Extension: "mp4", Backend: preset.BackendFFmpeg},
	{ID: "archive", Folder: "archive", Suffix: "_hevc", Extension: "mkv", Backend: preset.BackendFFmpeg},
}

func newResolver(t *testing.T, opts ...Option) *Resolver {
	t.Helper()
	r, err := NewResolver(nil, 4, opts...)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	t.Cleanup(r.Release)
	return r
}

func buildPlan(t *testing.T, dir string, names ...string) plan.Plan {
	t.Helper()
	files := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("src"), 0o644); err != nil {
			t.Fatal(err)
		}
		files = append(files, path)
	}
	p, err := plan.Build(files, testPresets, plan.Options{AudioSuffix: "_noaudio"})
	if err != nil {
		t.Fatalf("plan.Build: %v", err)
	}
	return p
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFindConflictsNone(t *testing.T) {
	p := buildPlan(t, t.TempDir(), "a.mov", "b.mov")
	conflicts, err := newResolver(t).FindConflicts(context.Background(), p)
	if err != nil {
		t.Fatalf("FindConflicts: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", conflicts)
	}
}

// Outputs pre-created with the naming rule the encoder uses must be found,
// one entry per existing path, and skipping all of them shrinks the plan by
// the same number.
func TestFindConflictsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := buildPlan(t, dir, "a.mov", "b.mov", "c.mov")

	var precreated []string
	for _, name := range []string{"a.mov", "c.mov"} {
		out := naming.OutputPath(naming.Target{
			SourcePath:  filepath.Join(dir, name),
			Rule:        testPresets[0].Rule(),
			AudioSuffix: "_noaudio",
		})
		touch(t, out)
		precreated = append(precreated, out)
	}

	conflicts, err := newResolver(t).FindConflicts(context.Background(), p)
	if err != nil {
		t.Fatalf("FindConflicts: %v", err)
	}
	if len(conflicts) != len(precreated) {
		t.Fatalf("expected %d conflicts, got %+v", len(precreated), conflicts)
	}
	got := map[string]bool{}
	for _, c := range conflicts {
		got[c.OutputPath] = true
		if c.ExistingName == "" {
			t.Fatalf("conflict %s missing descriptive name", c.Key)
		}
	}
	for _, path := range precreated {
		if !got[path] {
			t.Fatalf("precreated %s not reported; conflicts=%+v", path, conflicts)
		}
	}

	trimmed, skipped, err := Apply(p, conflicts, SkipAll(conflicts))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(skipped) != len(precreated) {
		t.Fatalf("expected %d skipped, got %v", len(precreated), skipped)
	}
	if trimmed.Len() != p.Len()-len(precreated) {
		t.Fatalf("expected %d remaining, got %d", p.Len()-len(precreated), trimmed.Len())
	}
}

func TestApplyDispositions(t *testing.T) {
	dir := t.TempDir()
	p := buildPlan(t, dir, "a.mov")
	for _, e := range p.Entries {
		touch(t, e.OutputPath)
	}
	conflicts, err := newResolver(t).FindConflicts(context.Background(), p)
	if err != nil || len(conflicts) != 2 {
		t.Fatalf("expected 2 conflicts, got %v err=%v", conflicts, err)
	}

	t.Run("replace all keeps every entry", func(t *testing.T) {
		kept, skipped, err := Apply(p, conflicts, ReplaceAll(conflicts))
		if err != nil || len(skipped) != 0 || kept.Len() != p.Len() {
			t.Fatalf("replace all: kept=%d skipped=%v err=%v", kept.Len(), skipped, err)
		}
	})
	t.Run("mixed", func(t *testing.T) {
		decisions := Decisions{conflicts[0].Key: Skip, conflicts[1].Key: Overwrite}
		kept, skipped, err := Apply(p, conflicts, decisions)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if len(skipped) != 1 || skipped[0] != conflicts[0].Key || kept.Len() != 1 {
			t.Fatalf("unexpected result kept=%+v skipped=%v", kept.Entries, skipped)
		}
	})
	t.Run("missing decision", func(t *testing.T) {
		_, _, err := Apply(p, conflicts, Decisions{conflicts[0].Key: Skip})
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
	t.Run("bad disposition", func(t *testing.T) {
		decisions := ReplaceAll(conflicts)
		decisions[conflicts[0].Key] = "maybe"
		if _, _, err := Apply(p, conflicts, decisions); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestProbeErrorFailsOpen(t *testing.T) {
	p := buildPlan(t, t.TempDir(), "a.mov")
	failing := p.Entries[0].OutputPath
	resolver := newResolver(t, WithExists(func(path string) (bool, error) {
		if path == failing {
			return false, errors.New("permission denied")
		}
		return true, nil
	}))
	conflicts, err := resolver.FindConflicts(context.Background(), p)
	if err != nil {
		t.Fatalf("FindConflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].OutputPath == failing {
		t.Fatalf("expected only the probeable entry to conflict, got %+v", conflicts)
	}
}

func TestFindConflictsHonoursCancellation(t *testing.T) {
	p := buildPlan(t, t.TempDir(), "a.mov", "b.mov")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newResolver(t).FindConflicts(ctx, p); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParseDisposition(t *testing.T) {
	if d, err := ParseDisposition("skip"); err != nil || d != Skip {
		t.Fatalf("ParseDisposition(skip) = %v, %v", d, err)
	}
	if _, err := ParseDisposition("later"); err == nil {
		t.Fatal("expected error for unknown disposition")
	}
}
