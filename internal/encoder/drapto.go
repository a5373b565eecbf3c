package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	draptolib "github.com/five82/drapto"

	"crunch/internal/fileutil"
	"crunch/internal/logging"
	"crunch/internal/services"
)

// draptoEncode runs the drapto library. Tests replace it.
var draptoEncode = func(ctx context.Context, inputPath, outputDir string, rep draptolib.Reporter) error {
	enc, err := draptolib.New(draptolib.WithResponsive())
	if err != nil {
		return err
	}
	_, err = enc.EncodeWithReporter(ctx, inputPath, outputDir, rep)
	return err
}

// Drapto encodes AV1 through the drapto library. Drapto always writes
// <stem>.mkv into a directory, so the encode targets a scratch directory
// beside the planned output and the result is moved into place.
type Drapto struct {
	logger *slog.Logger
}

// NewDrapto constructs the drapto backend.
func NewDrapto(logger *slog.Logger) *Drapto {
	return &Drapto{logger: logging.NewComponentLogger(logger, "drapto")}
}

// Run encodes req.
func (d *Drapto) Run(ctx context.Context, req Request, progress func(float64)) (string, error) {
	if strings.TrimSpace(req.SourcePath) == "" || strings.TrimSpace(req.OutputPath) == "" {
		return "", services.Wrap(services.ErrValidation, "drapto", "validate", "source and output paths are required", nil)
	}
	if !req.KeepAudio {
		return "", services.Wrap(services.ErrValidation, "drapto", "validate", "drapto always keeps audio; enable keep-audio or use an ffmpeg preset", nil)
	}
	if _, err := os.Stat(req.SourcePath); err != nil {
		return "", services.Wrap(services.ErrNotFound, "drapto", "stat source", req.SourcePath, err)
	}
	outDir := filepath.Dir(req.OutputPath)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "drapto", "create output dir", outDir, err)
	}
	scratch, err := os.MkdirTemp(outDir, ".crunch-drapto-*")
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "drapto", "create scratch dir", outDir, err)
	}
	defer os.RemoveAll(scratch)

	logger := logging.WithContext(ctx, d.logger)
	rep := newReporter(logger, progress)
	if err := draptoEncode(ctx, req.SourcePath, scratch, rep); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", services.Wrap(services.ErrExternalTool, "drapto", "encode", rep.failureDetail(), err)
	}

	base := filepath.Base(req.SourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	produced := filepath.Join(scratch, stem+".mkv")
	if _, err := os.Stat(produced); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "drapto", "encode", fmt.Sprintf("expected output %s missing", produced), err)
	}
	if err := fileutil.MoveFile(produced, req.OutputPath); err != nil {
		return "", services.Wrap(services.ErrTransient, "drapto", "finalize output", req.OutputPath, err)
	}
	return req.OutputPath, nil
}
