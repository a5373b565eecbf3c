package plan

import (
	"errors"
	"path/filepath"
	"testing"

	"crunch/internal/preset"
	"crunch/internal/services"
	"crunch/internal/taskkey"
)

var (
	small    = preset.Preset{ID: "small", Folder: "small", Suffix: "_small", Extension: "mp4", Backend: preset.BackendFFmpeg}
	balanced = preset.Preset{ID: "balanced", Folder: "balanced", Suffix: "_bal", Extension: "mp4", Backend: preset.BackendFFmpeg}
)

func TestBuildCrossProduct(t *testing.T) {
	dir := t.TempDir()
	files := []string{filepath.Join(dir, "a.mov"), filepath.Join(dir, "b.mov"), filepath.Join(dir, "c.mov")}
	p, err := Build(files, []preset.Preset{small, balanced}, Options{AudioSuffix: "_noaudio", KeepAudio: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Len() != 6 {
		t.Fatalf("expected 6 entries, got %d", p.Len())
	}
	first := p.Entries[0]
	if first.Key != taskkey.New(files[0], "small") {
		t.Fatalf("unexpected first key %q", first.Key)
	}
	if want := filepath.Join(dir, "small", "a_small.mp4"); first.OutputPath != want {
		t.Fatalf("output = %q, want %q", first.OutputPath, want)
	}
}

func TestBuildDeduplicatesFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.mov")
	p, err := Build([]string{file, file, " "}, []preset.Preset{small}, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Len() != 1 {
		t.Fatalf("expected duplicates collapsed, got %d entries", p.Len())
	}
}

func TestBuildRejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		files   []string
		presets []preset.Preset
		opts    Options
		want    error
	}{
		{"no files", nil, []preset.Preset{small}, Options{}, services.ErrValidation},
		{"no presets", []string{filepath.Join(dir, "a.mov")}, nil, Options{}, services.ErrValidation},
		{"duplicate preset", []string{filepath.Join(dir, "a.mov")}, []preset.Preset{small, small}, Options{}, services.ErrValidation},
		{
			"base name collision",
			[]string{filepath.Join(dir, "x", "a.mov"), filepath.Join(dir, "y", "a.mov")},
			[]preset.Preset{small},
			Options{},
			ErrKeyCollision,
		},
		{
			"custom names collide",
			[]string{filepath.Join(dir, "a.mov"), filepath.Join(dir, "b.mov")},
			[]preset.Preset{small},
			Options{CustomNames: map[string]string{filepath.Join(dir, "a.mov"): "same", filepath.Join(dir, "b.mov"): "same"}},
			services.ErrValidation,
		},
		{
			"output equals source",
			[]string{filepath.Join(dir, "a.mp4")},
			[]preset.Preset{{ID: "noop", Suffix: "", Folder: "", Extension: "mp4"}},
			Options{CustomNames: map[string]string{filepath.Join(dir, "a.mp4"): "a"}},
			services.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.files, tt.presets, tt.opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Build error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWithout(t *testing.T) {
	dir := t.TempDir()
	p, err := Build([]string{filepath.Join(dir, "a.mov"), filepath.Join(dir, "b.mov")}, []preset.Preset{small}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	trimmed := p.Without(p.Entries[0].Key)
	if trimmed.Len() != 1 || trimmed.Entries[0].Key != p.Entries[1].Key {
		t.Fatalf("unexpected remaining entries %+v", trimmed.Entries)
	}
	if p.Len() != 2 {
		t.Fatal("Without must not mutate the receiver")
	}
}
