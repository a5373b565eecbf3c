//go:build !linux

package telemetry

import "errors"

func loadAverage() (float64, error) {
	return 0, errors.New("load average unavailable on this platform")
}
