package deps

import (
	"os"
	"os/exec"
	"path/filepath"

	"crunch/internal/preset"
)

// FFmpeg returns the ffmpeg command for the ffmpeg backend.
func FFmpeg(configured string) string { return Or(configured, "ffmpeg") }

// FFprobe returns the ffprobe command used for duration probes.
func FFprobe(configured string) string { return Or(configured, "ffprobe") }

// ForBackends checks what each distinct backend needs. No backends means
// ffmpeg.
func ForBackends(ffmpegCmd, ffprobeCmd string, backends ...string) []Status {
	if len(backends) == 0 {
		backends = []string{preset.BackendFFmpeg}
	}
	seen := make(map[string]bool, len(backends))
	var out []Status
	for _, backend := range backends {
		if seen[backend] {
			continue
		}
		seen[backend] = true
		switch backend {
		case preset.BackendFFmpeg:
			out = append(out, Check(
				Binary{Name: "FFmpeg", Command: FFmpeg(ffmpegCmd), Purpose: "required by ffmpeg presets"},
				Binary{Name: "FFprobe", Command: FFprobe(ffprobeCmd), Purpose: "progress percentages need it", Optional: true},
			)...)
		case preset.BackendDrapto:
			exe, _ := os.Executable()
			out = append(out, DraptoFFmpeg(exe))
		}
	}
	return out
}

// DraptoFFmpeg reports the ffmpeg the drapto library will pick up: one
// sitting beside executable wins over PATH. The library works without it
// for probing, so the result is optional.
func DraptoFFmpeg(executable string) Status {
	st := Status{Binary: Binary{
		Name:     "FFmpeg (drapto)",
		Command:  "ffmpeg",
		Purpose:  "drapto presets shell out to it",
		Optional: true,
	}}
	if executable != "" {
		sidecar := filepath.Join(filepath.Dir(executable), "ffmpeg")
		if info, err := os.Stat(sidecar); err == nil && !info.IsDir() && info.Mode().Perm()&0o111 != 0 {
			st.Command, st.Path, st.Available = sidecar, sidecar, true
			return st
		}
	}
	if path, err := exec.LookPath(st.Command); err == nil {
		st.Path, st.Available = path, true
		return st
	}
	st.Detail = "ffmpeg not found beside the executable or on PATH"
	return st
}
