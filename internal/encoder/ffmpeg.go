package encoder

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"crunch/internal/fileutil"
	"crunch/internal/logging"
	"crunch/internal/media/ffprobe"
	"crunch/internal/naming"
	"crunch/internal/services"
)

var commandContext = exec.CommandContext

var probeDuration = func(ctx context.Context, binary, path string) (time.Duration, error) {
	result, err := ffprobe.Inspect(ctx, binary, path)
	if err != nil {
		return 0, err
	}
	seconds := result.DurationSeconds()
	if seconds <= 0 || math.IsNaN(seconds) {
		return 0, fmt.Errorf("ffprobe reported no duration for %s", path)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

const (
	defaultKillGrace = 10 * time.Second
	stderrTailBytes  = 4096
)

// FFmpeg encodes with the ffmpeg CLI.
type FFmpeg struct {
	binary      string
	probeBinary string
	killGrace   time.Duration
	logger      *slog.Logger
}

// FFmpegOption customizes the ffmpeg backend.
type FFmpegOption func(*FFmpeg)

// WithKillGrace sets how long ffmpeg may take to exit after an interrupt
// before it is killed.
func WithKillGrace(d time.Duration) FFmpegOption {
	return func(f *FFmpeg) {
		if d > 0 {
			f.killGrace = d
		}
	}
}

// NewFFmpeg constructs the ffmpeg backend.
func NewFFmpeg(binary, probeBinary string, logger *slog.Logger, opts ...FFmpegOption) *FFmpeg {
	f := &FFmpeg{
		binary:      strings.TrimSpace(binary),
		probeBinary: strings.TrimSpace(probeBinary),
		killGrace:   defaultKillGrace,
		logger:      logging.NewComponentLogger(logger, "ffmpeg"),
	}
	if f.binary == "" {
		f.binary = "ffmpeg"
	}
	if f.probeBinary == "" {
		f.probeBinary = "ffprobe"
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Args builds the ffmpeg argument list writing to dest.
func (f *FFmpeg) Args(req Request, dest string) []string {
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", req.SourcePath}
	args = append(args, req.Preset.Args...)
	if !req.KeepAudio {
		args = append(args, "-an")
	}
	return append(args, "-progress", "pipe:1", "-nostats", dest)
}

// Run encodes req into a partial file beside the output and renames it into
// place on success. The partial file is removed on failure or cancellation.
func (f *FFmpeg) Run(ctx context.Context, req Request, progress func(float64)) (string, error) {
	if strings.TrimSpace(req.SourcePath) == "" || strings.TrimSpace(req.OutputPath) == "" {
		return "", services.Wrap(services.ErrValidation, "ffmpeg", "validate", "source and output paths are required", nil)
	}
	if _, err := os.Stat(req.SourcePath); err != nil {
		return "", services.Wrap(services.ErrNotFound, "ffmpeg", "stat source", req.SourcePath, err)
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "ffmpeg", "create output dir", filepath.Dir(req.OutputPath), err)
	}
	logger := logging.WithContext(ctx, f.logger)

	duration, err := probeDuration(ctx, f.probeBinary, req.SourcePath)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logging.WarnWithContext(logger, "duration probe failed; progress unavailable", "ffprobe_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "verify ffprobe is installed and the source is a media file"),
			logging.String(logging.FieldImpact, "task runs without percent updates"),
		)
	}

	partial := naming.PartialPath(req.OutputPath)
	args := f.Args(req, partial)
	logger.Debug("ffmpeg command", logging.String("command", f.binary+" "+strings.Join(args, " ")))

	cmd := commandContext(ctx, f.binary, args...) //nolint:gosec
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = f.killGrace
	stderr := &tailWriter{limit: stderrTailBytes}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "ffmpeg", "stdout pipe", "", err)
	}
	if err := cmd.Start(); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "ffmpeg", "start", f.binary, err)
	}

	parser := newProgressParser(duration)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if pct, ok := parser.Feed(scanner.Text()); ok && progress != nil {
			progress(pct)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("ffmpeg progress stream ended early", logging.Error(err))
	}

	if err := cmd.Wait(); err != nil {
		_ = os.Remove(partial)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", services.Wrap(services.ErrExternalTool, "ffmpeg", "encode", stderr.String(), err)
	}
	if _, err := os.Stat(partial); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "ffmpeg", "encode", "ffmpeg exited cleanly but wrote no output", err)
	}
	if err := fileutil.MoveFile(partial, req.OutputPath); err != nil {
		_ = os.Remove(partial)
		return "", services.Wrap(services.ErrTransient, "ffmpeg", "finalize output", req.OutputPath, err)
	}
	return req.OutputPath, nil
}

// tailWriter keeps the last limit bytes written to it.
type tailWriter struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.limit; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	lines := strings.Split(strings.TrimSpace(string(w.buf)), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	text := strings.TrimSpace(strings.Join(lines, " | "))
	if text == "" {
		return "ffmpeg exited with an error"
	}
	return text
}
