// Package telemetry samples CPU load and thermal state for adaptive
// admission.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"crunch/internal/admission"
	"crunch/internal/logging"
)

// Source produces telemetry readings.
type Source interface {
	Read(ctx context.Context) (admission.Reading, error)
}

const defaultThermalGlob = "/sys/class/thermal/thermal_zone*/temp"

// errNoThermal means no thermal zone could be read.
var errNoThermal = errors.New("no readable thermal zones")

// Sampler reads load average and thermal zones from the local host.
type Sampler struct {
	seriousC    float64
	criticalC   float64
	thermalGlob string
	cpus        int
	loadAverage func() (float64, error)
	now         func() time.Time
}

// NewSampler builds a sampler classifying temperatures against the given
// thresholds in degrees Celsius.
func NewSampler(seriousC, criticalC float64) *Sampler {
	return &Sampler{
		seriousC:    seriousC,
		criticalC:   criticalC,
		thermalGlob: defaultThermalGlob,
		cpus:        runtime.NumCPU(),
		loadAverage: loadAverage,
		now:         time.Now,
	}
}

// Read samples the host. A missing thermal source is not an error; the
// reading then reports nominal pressure. A load failure is returned.
func (s *Sampler) Read(ctx context.Context) (admission.Reading, error) {
	if err := ctx.Err(); err != nil {
		return admission.Reading{}, err
	}
	reading := admission.Reading{At: s.now()}
	load, err := s.loadAverage()
	if err != nil {
		return admission.Reading{}, fmt.Errorf("read load average: %w", err)
	}
	cpus := s.cpus
	if cpus < 1 {
		cpus = 1
	}
	reading.CPUPercent = load / float64(cpus) * 100

	if temp, err := s.hottestZone(); err == nil {
		reading.TempC = temp
		reading.Thermal = Classify(temp, s.seriousC, s.criticalC)
	}
	return reading, nil
}

func (s *Sampler) hottestZone() (float64, error) {
	paths, err := filepath.Glob(s.thermalGlob)
	if err != nil {
		return 0, err
	}
	hottest := 0.0
	found := false
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if err != nil {
			continue
		}
		if c := milli / 1000; !found || c > hottest {
			hottest = c
			found = true
		}
	}
	if !found {
		return 0, errNoThermal
	}
	return hottest, nil
}

// Classify maps a temperature to a pressure level. Fair begins ten degrees
// below the serious threshold.
func Classify(tempC, seriousC, criticalC float64) admission.Pressure {
	switch {
	case criticalC > 0 && tempC >= criticalC:
		return admission.PressureCritical
	case seriousC > 0 && tempC >= seriousC:
		return admission.PressureSerious
	case seriousC > 0 && tempC >= seriousC-10:
		return admission.PressureFair
	default:
		return admission.PressureNominal
	}
}

// Static is a Source returning a fixed reading, settable at runtime.
type Static struct {
	mu      sync.Mutex
	reading admission.Reading
}

// NewStatic returns a Static source.
func NewStatic(reading admission.Reading) *Static {
	return &Static{reading: reading}
}

// Set replaces the reading.
func (s *Static) Set(reading admission.Reading) {
	s.mu.Lock()
	s.reading = reading
	s.mu.Unlock()
}

// Read returns the current reading.
func (s *Static) Read(context.Context) (admission.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading, nil
}

// Run samples src every interval and passes readings to fn until ctx ends.
// The first sample is taken immediately. Read errors are logged at most once
// until a read succeeds again.
func Run(ctx context.Context, src Source, interval time.Duration, logger *slog.Logger, fn func(admission.Reading)) {
	if src == nil || fn == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger = logging.NewComponentLogger(logger, "telemetry")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failing := false
	for {
		reading, err := src.Read(ctx)
		switch {
		case err == nil:
			failing = false
			fn(reading)
		case ctx.Err() != nil:
			return
		case !failing:
			failing = true
			logging.WarnWithContext(logger, "telemetry sample failed", "telemetry_unavailable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "adaptive admission needs /proc load data"),
				logging.String(logging.FieldImpact, "admission falls back to the configured ceiling"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
