package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"crunch/internal/admission"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		temp float64
		want admission.Pressure
	}{
		{40, admission.PressureNominal},
		{76, admission.PressureFair},
		{85, admission.PressureSerious},
		{94.9, admission.PressureSerious},
		{95, admission.PressureCritical},
	}
	for _, tt := range tests {
		if got := Classify(tt.temp, 85, 95); got != tt.want {
			t.Fatalf("Classify(%v) = %v, want %v", tt.temp, got, tt.want)
		}
	}
	if got := Classify(120, 0, 0); got != admission.PressureNominal {
		t.Fatalf("disabled thresholds should be nominal, got %v", got)
	}
}

func TestSamplerRead(t *testing.T) {
	dir := t.TempDir()
	for i, milli := range []string{"45000\n", "88000\n", "garbage"} {
		zone := filepath.Join(dir, "thermal_zone"+string(rune('0'+i)))
		if err := os.MkdirAll(zone, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(zone, "temp"), []byte(milli), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s := NewSampler(85, 95)
	s.thermalGlob = filepath.Join(dir, "thermal_zone*", "temp")
	s.cpus = 4
	s.loadAverage = func() (float64, error) { return 3, nil }

	reading, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if reading.CPUPercent != 75 {
		t.Fatalf("CPUPercent = %v, want 75", reading.CPUPercent)
	}
	if reading.TempC != 88 || reading.Thermal != admission.PressureSerious {
		t.Fatalf("unexpected thermal reading %+v", reading)
	}
}

func TestSamplerWithoutThermalZones(t *testing.T) {
	s := NewSampler(85, 95)
	s.thermalGlob = filepath.Join(t.TempDir(), "none*")
	s.loadAverage = func() (float64, error) { return 0, nil }
	reading, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if reading.Thermal != admission.PressureNominal {
		t.Fatalf("expected nominal without zones, got %v", reading.Thermal)
	}
}

func TestSamplerLoadFailure(t *testing.T) {
	s := NewSampler(85, 95)
	s.loadAverage = func() (float64, error) { return 0, errors.New("no proc") }
	if _, err := s.Read(context.Background()); err == nil {
		t.Fatal("expected load failure to surface")
	}
}

func TestRunPushesReadings(t *testing.T) {
	src := NewStatic(admission.Reading{CPUPercent: 10})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []admission.Reading
	done := make(chan struct{})
	go func() {
		defer close(done)
		Run(ctx, src, 10*time.Millisecond, nil, func(r admission.Reading) {
			mu.Lock()
			got = append(got, r)
			n := len(got)
			mu.Unlock()
			if n == 1 {
				src.Set(admission.Reading{CPUPercent: 90})
			}
			if n >= 3 {
				cancel()
			}
		})
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	mu.Lock()
	defer mu.Unlock()
	if got[0].CPUPercent != 10 || got[len(got)-1].CPUPercent != 90 {
		t.Fatalf("unexpected readings %+v", got)
	}
}
