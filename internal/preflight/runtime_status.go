package preflight

import (
	"context"
	"fmt"
	"time"

	"crunch/internal/admission"
	"crunch/internal/config"
	"crunch/internal/telemetry"
)

// CheckNtfyFromConfig evaluates ntfy status from config and connectivity.
func CheckNtfyFromConfig(ctx context.Context, cfg *config.Config) Result {
	if cfg == nil {
		return Result{Name: "ntfy", Detail: "Unknown", Optional: true}
	}
	return CheckNtfy(ctx, cfg.Notifications.NtfyTopic)
}

// TelemetryProbe is one reading rendered for status UIs.
type TelemetryProbe struct {
	Available bool
	Reading   admission.Reading
	Ceiling   int
	Reason    string
	Err       string
}

// ProbeTelemetry takes one reading from src and the admission ceiling it
// would produce under cfg.
func ProbeTelemetry(ctx context.Context, cfg *config.Config, src telemetry.Source) TelemetryProbe {
	policy := admission.Policy{
		Ceiling:         cfg.Admission.MaxConcurrent,
		Adaptive:        cfg.Admission.Adaptive,
		CPUThreshold:    cfg.Admission.CPUThreshold,
		PauseOnOverheat: cfg.Admission.PauseOnOverheat,
	}
	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	reading, err := src.Read(readCtx)
	if err != nil {
		ceiling, reason := admission.EffectiveCeiling(policy, nil)
		return TelemetryProbe{Ceiling: ceiling, Reason: reason, Err: err.Error()}
	}
	ceiling, reason := admission.EffectiveCeiling(policy, &reading)
	return TelemetryProbe{Available: true, Reading: reading, Ceiling: ceiling, Reason: reason}
}

// Detail renders a display-friendly summary.
func (p TelemetryProbe) Detail() string {
	if !p.Available {
		return fmt.Sprintf("unavailable (%s); ceiling %d", p.Err, p.Ceiling)
	}
	temp := "n/a"
	if p.Reading.TempC > 0 {
		temp = fmt.Sprintf("%.0f°C", p.Reading.TempC)
	}
	return fmt.Sprintf("cpu %.0f%%, thermal %s (%s); ceiling %d (%s)",
		p.Reading.CPUPercent, p.Reading.Thermal, temp, p.Ceiling, p.Reason)
}

// Result converts the probe into a check result.
func (p TelemetryProbe) Result() Result {
	return Result{Name: "Telemetry", Passed: p.Available, Detail: p.Detail(), Optional: true}
}
