// Package admission decides how many more encodes may start right now. It is
// stateless: callers pass the running count and the latest telemetry on every
// call.
package admission

import (
	"fmt"
	"time"
)

// Pressure classifies thermal state, ordered from coolest to hottest.
type Pressure int

const (
	PressureNominal Pressure = iota
	PressureFair
	PressureSerious
	PressureCritical
)

func (p Pressure) String() string {
	switch p {
	case PressureNominal:
		return "nominal"
	case PressureFair:
		return "fair"
	case PressureSerious:
		return "serious"
	case PressureCritical:
		return "critical"
	default:
		return fmt.Sprintf("pressure(%d)", int(p))
	}
}

// Reading is one telemetry sample.
type Reading struct {
	// CPUPercent is system load normalized to 0-100 across all CPUs. Values
	// above 100 mean the run queue exceeds the CPU count.
	CPUPercent float64
	Thermal    Pressure
	// TempC is the hottest zone temperature, zero when unknown.
	TempC float64
	At    time.Time
}

// Policy configures admission.
type Policy struct {
	// Ceiling is the maximum number of concurrent encodes; values below one
	// are treated as one.
	Ceiling int
	// Adaptive enables telemetry-driven reduction.
	Adaptive bool
	// CPUThreshold halves the ceiling while CPUPercent exceeds it. Zero
	// disables the CPU rule.
	CPUThreshold float64
	// PauseOnOverheat admits nothing under critical thermal pressure.
	PauseOnOverheat bool
}

// Decision explains an admission result.
type Decision struct {
	Slots     int
	Effective int
	Reason    string
}

// Decide returns how many tasks may start given running tasks and the latest
// reading, which may be nil when no telemetry is available.
func Decide(running int, policy Policy, reading *Reading) Decision {
	effective, reason := EffectiveCeiling(policy, reading)
	slots := effective - running
	if slots < 0 {
		slots = 0
	}
	return Decision{Slots: slots, Effective: effective, Reason: reason}
}

// Admit is Decide without the explanation.
func Admit(running int, policy Policy, reading *Reading) int {
	return Decide(running, policy, reading).Slots
}

// EffectiveCeiling applies the adaptive rules to the configured ceiling.
func EffectiveCeiling(policy Policy, reading *Reading) (int, string) {
	ceiling := policy.Ceiling
	if ceiling < 1 {
		ceiling = 1
	}
	if !policy.Adaptive || reading == nil {
		return ceiling, "ceiling"
	}
	switch reading.Thermal {
	case PressureCritical:
		if policy.PauseOnOverheat {
			return 0, "paused: critical thermal pressure"
		}
		return 1, "critical thermal pressure"
	case PressureSerious:
		return 1, "serious thermal pressure"
	}
	if policy.CPUThreshold > 0 && reading.CPUPercent > policy.CPUThreshold {
		reduced := ceiling / 2
		if reduced < 1 {
			reduced = 1
		}
		return reduced, fmt.Sprintf("cpu %.0f%% above %.0f%%", reading.CPUPercent, policy.CPUThreshold)
	}
	return ceiling, "ceiling"
}
