// Package deps locates the external executables the encoder backends run.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Binary names one external executable and why crunch needs it.
type Binary struct {
	Name     string
	Command  string
	Purpose  string
	Optional bool
}

// Status is the outcome of locating a Binary.
type Status struct {
	Binary
	// Path is the resolved executable. Empty unless Available.
	Path      string
	Available bool
	Detail    string
}

// Check locates every binary, by absolute path or on PATH.
func Check(bins ...Binary) []Status {
	out := make([]Status, 0, len(bins))
	for _, b := range bins {
		out = append(out, locate(b))
	}
	return out
}

func locate(b Binary) Status {
	b.Command = strings.TrimSpace(b.Command)
	st := Status{Binary: b}
	if b.Command == "" {
		st.Detail = "command not configured"
		return st
	}
	path, err := exec.LookPath(b.Command)
	if err != nil {
		st.Detail = fmt.Sprintf("%s not found", b.Command)
		if b.Purpose != "" {
			st.Detail += "; " + b.Purpose
		}
		return st
	}
	st.Path = path
	st.Available = true
	return st
}

// Missing returns the required binaries that could not be located.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}

// Or returns configured, or fallback when configured is blank.
func Or(configured, fallback string) string {
	if v := strings.TrimSpace(configured); v != "" {
		return v
	}
	return fallback
}
