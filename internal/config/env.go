package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

// envOverrides lists the CRUNCH_* variables honoured on top of the file.
// Pointer fields stay nil when the variable is absent.
type envOverrides struct {
	StateDir        string   `env:"CRUNCH_STATE_DIR"`
	OutputDir       string   `env:"CRUNCH_OUTPUT_DIR"`
	PresetFile      string   `env:"CRUNCH_PRESET_FILE"`
	FFmpegBinary    string   `env:"CRUNCH_FFMPEG"`
	FFprobeBinary   string   `env:"CRUNCH_FFPROBE"`
	MaxConcurrent   *int     `env:"CRUNCH_MAX_CONCURRENT, noinit"`
	Adaptive        *bool    `env:"CRUNCH_ADAPTIVE, noinit"`
	CPUThreshold    *float64 `env:"CRUNCH_CPU_THRESHOLD, noinit"`
	PauseOnOverheat *bool    `env:"CRUNCH_PAUSE_ON_OVERHEAT, noinit"`
	NtfyTopic       string   `env:"CRUNCH_NTFY_TOPIC"`
	LogFormat       string   `env:"CRUNCH_LOG_FORMAT"`
	LogLevel        string   `env:"CRUNCH_LOG_LEVEL"`
	APIBind         string   `env:"CRUNCH_API_BIND"`
	APIToken        string   `env:"CRUNCH_API_TOKEN"`
}

func (c *Config) applyEnvOverrides() error {
	var input envOverrides
	if err := envconfig.Process(context.Background(), &input); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	c.apply(input)
	return nil
}

func (c *Config) apply(o envOverrides) {
	setString(&c.Paths.StateDir, o.StateDir)
	setString(&c.Paths.OutputDir, o.OutputDir)
	setString(&c.Paths.PresetFile, o.PresetFile)
	setString(&c.Encoder.FFmpegBinary, o.FFmpegBinary)
	setString(&c.Encoder.FFprobeBinary, o.FFprobeBinary)
	setString(&c.Notifications.NtfyTopic, o.NtfyTopic)
	setString(&c.Logging.Format, o.LogFormat)
	setString(&c.Logging.Level, o.LogLevel)
	setString(&c.API.Bind, o.APIBind)
	setString(&c.API.Token, o.APIToken)
	if o.MaxConcurrent != nil {
		c.Admission.MaxConcurrent = *o.MaxConcurrent
	}
	if o.Adaptive != nil {
		c.Admission.Adaptive = *o.Adaptive
	}
	if o.CPUThreshold != nil {
		c.Admission.CPUThreshold = *o.CPUThreshold
	}
	if o.PauseOnOverheat != nil {
		c.Admission.PauseOnOverheat = *o.PauseOnOverheat
	}
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
