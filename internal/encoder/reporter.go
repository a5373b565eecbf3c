package encoder

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	draptolib "github.com/five82/drapto"

	"crunch/internal/logging"
)

// reporter adapts drapto's Reporter callbacks to a percent callback and
// structured log lines. Only encoding progress moves the percentage; the
// analysis stages before it are logged.
type reporter struct {
	logger   *slog.Logger
	progress func(float64)
	sampler  *logging.ProgressSampler

	mu       sync.Mutex
	failures []string
}

func newReporter(logger *slog.Logger, progress func(float64)) *reporter {
	return &reporter{logger: logger, progress: progress, sampler: logging.NewProgressSampler(10)}
}

func (r *reporter) failureDetail() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failures) == 0 {
		return "drapto encode failed"
	}
	return strings.Join(r.failures, "; ")
}

func (r *reporter) Hardware(s draptolib.HardwareSummary) {
	r.logger.Debug("drapto hardware", logging.Any("hostname", s.Hostname))
}

func (r *reporter) Initialization(s draptolib.InitializationSummary) {
	r.logger.Info("drapto initialized",
		logging.Any("input", s.InputFile),
		logging.Any("resolution", s.Resolution),
		logging.Any("dynamic_range", s.DynamicRange),
	)
}

func (r *reporter) StageProgress(s draptolib.StageProgress) {
	r.logger.Debug("drapto stage",
		logging.Any("stage", s.Stage),
		logging.Float64("stage_percent", float64(s.Percent)),
		logging.Any("message", s.Message),
	)
}

func (r *reporter) CropResult(s draptolib.CropSummary) {
	r.logger.Debug("drapto crop", logging.Any("crop", s.Crop), logging.Any("required", s.Required))
}

func (r *reporter) EncodingConfig(s draptolib.EncodingConfigSummary) {
	r.logger.Debug("drapto encoding config",
		logging.Any("encoder", s.Encoder),
		logging.Any("preset", s.Preset),
		logging.Any("quality", s.Quality),
	)
}

func (r *reporter) EncodingStarted(totalFrames uint64) {
	r.logger.Debug("drapto encoding started", logging.Int64("total_frames", int64(totalFrames)))
}

func (r *reporter) EncodingProgress(s draptolib.ProgressSnapshot) {
	pct := float64(s.Percent)
	if r.progress != nil {
		r.progress(pct)
	}
	if r.sampler.ShouldLog("encode", pct) {
		r.logger.Debug("drapto progress",
			logging.Float64("progress_percent", pct),
			logging.Any("progress_eta", s.ETA),
			logging.Any("progress_speed", s.Speed),
		)
	}
}

func (r *reporter) ValidationComplete(s draptolib.ValidationSummary) {
	if s.Passed {
		r.logger.Debug("drapto validation passed")
		return
	}
	logging.WarnWithContext(r.logger, "drapto validation reported failures", "drapto_validation",
		logging.String(logging.FieldErrorHint, "inspect the encoded file before relying on it"),
		logging.String(logging.FieldImpact, "output kept; quality checks did not all pass"),
	)
}

func (r *reporter) EncodingComplete(s draptolib.EncodingOutcome) {
	r.logger.Info("drapto encoding complete",
		logging.Any("output", s.OutputPath),
		logging.Int64("original_size", int64(s.OriginalSize)),
		logging.Int64("encoded_size", int64(s.EncodedSize)),
	)
}

func (r *reporter) Warning(message string) {
	logging.WarnWithContext(r.logger, "drapto warning", "drapto_warning",
		logging.String("message", message),
		logging.String(logging.FieldErrorHint, "review drapto output for this file"),
	)
}

func (r *reporter) Error(e draptolib.ReporterError) {
	detail := strings.TrimSpace(fmt.Sprintf("%v: %v", e.Title, e.Message))
	r.mu.Lock()
	r.failures = append(r.failures, detail)
	r.mu.Unlock()
	logging.ErrorWithContext(r.logger, "drapto error", "drapto_error",
		logging.Any("title", e.Title),
		logging.Any("message", e.Message),
		logging.Any("context", e.Context),
		logging.Any(logging.FieldErrorHint, e.Suggestion),
	)
}

func (r *reporter) OperationComplete(message string) {
	r.logger.Debug("drapto operation complete", logging.String("message", message))
}

func (r *reporter) BatchStarted(s draptolib.BatchStartInfo) {
	r.logger.Debug("drapto batch started", logging.Any("total_files", s.TotalFiles))
}

func (r *reporter) FileProgress(s draptolib.FileProgressContext) {
	r.logger.Debug("drapto file progress", logging.Any("current_file", s.CurrentFile), logging.Any("total_files", s.TotalFiles))
}

func (r *reporter) BatchComplete(s draptolib.BatchSummary) {
	r.logger.Debug("drapto batch complete", logging.Any("successful", s.SuccessfulCount))
}

var _ draptolib.Reporter = (*reporter)(nil)
