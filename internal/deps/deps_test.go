package deps

import (
	"os"
	"path/filepath"
	"testing"

	"crunch/internal/preset"
)

func writeStub(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
}

func TestCheck(t *testing.T) {
	present := filepath.Join(t.TempDir(), "present")
	writeStub(t, present)

	results := Check(
		Binary{Name: "Present", Command: present},
		Binary{Name: "Missing", Command: "clearly-not-present-binary", Purpose: "needed for tests"},
		Binary{Name: "Blank", Command: "  "},
	)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Available || results[0].Path != present || results[0].Detail != "" {
		t.Fatalf("unexpected present status %+v", results[0])
	}
	if results[1].Available || results[1].Detail != "clearly-not-present-binary not found; needed for tests" {
		t.Fatalf("unexpected missing status %+v", results[1])
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected blank status %+v", results[2])
	}
	if missing := Missing(results); len(missing) != 2 {
		t.Fatalf("expected 2 missing, got %+v", missing)
	}
}

func TestForBackends(t *testing.T) {
	t.Setenv("PATH", "")

	ffmpeg := ForBackends("clearly-not-present-ffmpeg", "", preset.BackendFFmpeg, preset.BackendFFmpeg)
	if len(ffmpeg) != 2 {
		t.Fatalf("duplicate backend should be checked once, got %+v", ffmpeg)
	}
	if ffmpeg[0].Command != "clearly-not-present-ffmpeg" || ffmpeg[1].Command != "ffprobe" || !ffmpeg[1].Optional {
		t.Fatalf("unexpected statuses %+v", ffmpeg)
	}
	if missing := Missing(ffmpeg); len(missing) != 1 || missing[0].Name != "FFmpeg" {
		t.Fatalf("only ffmpeg should be required, got %+v", missing)
	}

	if got := ForBackends("", ""); len(got) != 2 {
		t.Fatalf("no backends should default to ffmpeg, got %+v", got)
	}
	drapto := ForBackends("", "", preset.BackendDrapto)
	if len(drapto) != 1 || !drapto[0].Optional {
		t.Fatalf("unexpected drapto statuses %+v", drapto)
	}
}

func TestDraptoFFmpeg(t *testing.T) {
	tests := []struct {
		name     string
		sidecar  bool
		onPath   bool
		wantPath func(dir string) string
	}{
		{"sidecar wins", true, true, func(dir string) string { return filepath.Join(dir, "app", "ffmpeg") }},
		{"path fallback", false, true, func(dir string) string { return filepath.Join(dir, "bin", "ffmpeg") }},
		{"not found", false, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			exe := filepath.Join(dir, "app", "crunchd")
			writeStub(t, exe)
			if tt.sidecar {
				writeStub(t, filepath.Join(dir, "app", "ffmpeg"))
			}
			pathEnv := ""
			if tt.onPath {
				writeStub(t, filepath.Join(dir, "bin", "ffmpeg"))
				pathEnv = filepath.Join(dir, "bin")
			}
			t.Setenv("PATH", pathEnv)

			st := DraptoFFmpeg(exe)
			if tt.wantPath == nil {
				if st.Available || st.Detail == "" {
					t.Fatalf("expected unavailable with detail, got %+v", st)
				}
				return
			}
			if !st.Available || st.Path != tt.wantPath(dir) {
				t.Fatalf("got %+v, want path %s", st, tt.wantPath(dir))
			}
		})
	}
}

func TestOr(t *testing.T) {
	cases := []struct{ configured, fallback, want string }{
		{"", "ffmpeg", "ffmpeg"},
		{"  ", "ffprobe", "ffprobe"},
		{"/opt/ffmpeg/bin/ffmpeg", "ffmpeg", "/opt/ffmpeg/bin/ffmpeg"},
	}
	for _, tc := range cases {
		if got := Or(tc.configured, tc.fallback); got != tc.want {
			t.Errorf("Or(%q, %q) = %q, want %q", tc.configured, tc.fallback, got, tc.want)
		}
	}
}
