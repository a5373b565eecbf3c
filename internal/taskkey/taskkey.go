// Package taskkey derives the stable identifier that joins a (file, preset)
// pair across planning, execution, and progress reporting.
//
// Keys are built from the file's base name rather than its full path so that
// a reporter that only knows the base name can recompute them with New. Two
// sources that share a base name therefore collide; Detect reports such
// collisions so callers can reject the plan instead of misattributing progress.
package taskkey

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

const separator = "::"

// Key identifies one task within a batch.
type Key string

// New returns the key for filePath encoded with presetID.
func New(filePath, presetID string) Key {
	return Key(filepath.Base(strings.TrimSpace(filePath)) + separator + strings.TrimSpace(presetID))
}

func (k Key) String() string { return string(k) }

// Collision describes several distinct source paths mapping to one key.
type Collision struct {
	Key   Key
	Paths []string
}

func (c Collision) String() string {
	return fmt.Sprintf("%s <- %s", c.Key, strings.Join(c.Paths, ", "))
}

// Detect returns every key produced by more than one distinct file path for
// the cross product of files and presets. Results are sorted by key.
func Detect(files []string, presetIDs []string) []Collision {
	byBase := make(map[string][]string)
	for _, file := range files {
		clean := filepath.Clean(strings.TrimSpace(file))
		base := filepath.Base(clean)
		paths := byBase[base]
		duplicate := false
		for _, existing := range paths {
			if existing == clean {
				duplicate = true
				break
			}
		}
		if !duplicate {
			byBase[base] = append(paths, clean)
		}
	}

	var out []Collision
	for base, paths := range byBase {
		if len(paths) < 2 {
			continue
		}
		sorted := append([]string(nil), paths...)
		sort.Strings(sorted)
		for _, preset := range presetIDs {
			out = append(out, Collision{Key: New(base, preset), Paths: sorted})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
