//go:build linux

package telemetry

import "golang.org/x/sys/unix"

// siLoadShift is the fixed-point shift of sysinfo load averages.
const siLoadShift = 16

func loadAverage() (float64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return float64(info.Loads[0]) / float64(uint64(1)<<siLoadShift), nil
}
