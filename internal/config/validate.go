package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateAdmission(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}

func (c *Config) validateEncoder() error {
	switch c.Encoder.DefaultBackend {
	case "ffmpeg", "drapto":
	default:
		return fmt.Errorf("encoder.default_backend: unsupported value %q (expected ffmpeg or drapto)", c.Encoder.DefaultBackend)
	}
	return nil
}

func (c *Config) validateAdmission() error {
	a := c.Admission
	if a.MaxConcurrent < 1 || a.MaxConcurrent > maxConcurrentLimit {
		return fmt.Errorf("admission.max_concurrent must be between 1 and %d", maxConcurrentLimit)
	}
	if a.CPUThreshold <= 0 || a.CPUThreshold > 100 {
		return errors.New("admission.cpu_threshold must be within (0, 100]")
	}
	if a.SeriousTempC <= 0 || a.CriticalTempC <= a.SeriousTempC {
		return errors.New("admission.critical_temp_c must be greater than admission.serious_temp_c")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
