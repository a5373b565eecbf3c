package daemon

import (
	"log/slog"

	"crunch/internal/admission"
	"crunch/internal/config"
	"crunch/internal/deps"
	"crunch/internal/encoder"
	"crunch/internal/preset"
)

// PolicyFromConfig converts the admission section into an orchestrator policy.
func PolicyFromConfig(cfg *config.Config) admission.Policy {
	return admission.Policy{
		Ceiling:         cfg.Admission.MaxConcurrent,
		Adaptive:        cfg.Admission.Adaptive,
		CPUThreshold:    cfg.Admission.CPUThreshold,
		PauseOnOverheat: cfg.Admission.PauseOnOverheat,
	}
}

// LoadCatalog loads built-in presets plus the configured preset file.
func LoadCatalog(cfg *config.Config) (*preset.Catalog, error) {
	return preset.Load(cfg.Paths.PresetFile, cfg.Encoder.DefaultBackend, cfg.Encoder.DefaultExtension)
}

// NewInvoker builds the backend router used for real encodes.
func NewInvoker(cfg *config.Config, logger *slog.Logger) encoder.Invoker {
	return encoder.NewRouter(logger, map[string]encoder.Backend{
		preset.BackendFFmpeg: encoder.NewFFmpeg(
			deps.FFmpeg(cfg.Encoder.FFmpegBinary),
			deps.FFprobe(cfg.Encoder.FFprobeBinary),
			logger,
		),
		preset.BackendDrapto: encoder.NewDrapto(logger),
	})
}
