package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMoveFileReplacesDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "movie.mp4.part")
	dst := filepath.Join(dir, "movie.mp4")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "new" {
		t.Fatalf("dst = %q, %v", got, err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected src to be gone, got %v", err)
	}
}

func TestMoveFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := MoveFile(filepath.Join(dir, "nope"), filepath.Join(dir, "dst")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestCopyBesideLeavesVerifiedTemp(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	src := filepath.Join(srcDir, "a.mkv")
	payload := []byte("payload bytes for digest check")
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	tmp, err := copyBeside(src, filepath.Join(dstDir, "a.mkv"))
	if err != nil {
		t.Fatalf("copyBeside: %v", err)
	}
	if filepath.Dir(tmp) != dstDir {
		t.Fatalf("temp %s not beside destination", tmp)
	}
	got, err := os.ReadFile(tmp)
	if err != nil || string(got) != string(payload) {
		t.Fatalf("temp contents %q, %v", got, err)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "present")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{file, true},
		{dir, true},
		{filepath.Join(dir, "absent"), false},
	}
	for _, tt := range tests {
		got, err := Exists(tt.path)
		if err != nil {
			t.Fatalf("Exists(%s): %v", tt.path, err)
		}
		if got != tt.want {
			t.Fatalf("Exists(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}

	if _, err := Exists(filepath.Join(file, "child")); err == nil {
		t.Fatal("expected ENOTDIR to surface as an error")
	}
}
