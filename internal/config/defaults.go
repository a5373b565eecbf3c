package config

const (
	defaultStateDir          = "~/.local/share/crunch"
	defaultLogDir            = "~/.local/share/crunch/logs"
	defaultPresetFile        = "~/.config/crunch/presets.toml"
	defaultFFmpegBinary      = "ffmpeg"
	defaultFFprobeBinary     = "ffprobe"
	defaultBackend           = "ffmpeg"
	defaultAudioSuffix       = "_noaudio"
	defaultExtension         = "mp4"
	defaultMaxConcurrent     = 2
	maxConcurrentLimit       = 64
	defaultCPUThreshold      = 85
	defaultSeriousTempC      = 85
	defaultCriticalTempC     = 95
	defaultTelemetryInterval = 5
	defaultNtfyTimeout       = 10
	defaultHistoryRetention  = 90
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
			PresetFile: defaultPresetFile,
		},
		Encoder: Encoder{
			FFmpegBinary:     defaultFFmpegBinary,
			FFprobeBinary:    defaultFFprobeBinary,
			DefaultBackend:   defaultBackend,
			AudioSuffix:      defaultAudioSuffix,
			DefaultExtension: defaultExtension,
			KeepAudio:        true,
		},
		Admission: Admission{
			MaxConcurrent:     defaultMaxConcurrent,
			Adaptive:          false,
			CPUThreshold:      defaultCPUThreshold,
			SeriousTempC:      defaultSeriousTempC,
			CriticalTempC:     defaultCriticalTempC,
			PauseOnOverheat:   false,
			TelemetryInterval: defaultTelemetryInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
			BatchComplete:  true,
			Errors:         true,
		},
		History: History{
			Enabled:       true,
			RetentionDays: defaultHistoryRetention,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
