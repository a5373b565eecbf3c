// Package plan expands files and presets into the ordered list of encodes a
// batch will run, computing each output path with the shared naming rule.
package plan

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"crunch/internal/naming"
	"crunch/internal/preset"
	"crunch/internal/services"
	"crunch/internal/taskkey"
)

// ErrKeyCollision reports two source files that share a base name and would
// therefore share task keys.
var ErrKeyCollision = errors.New("task key collision")

// Options carries naming inputs shared by every entry.
type Options struct {
	// OutputRoot overrides the source directory as the base for outputs.
	OutputRoot  string
	AudioSuffix string
	KeepAudio   bool
	// CustomNames maps a source path to a replacement output stem.
	CustomNames map[string]string
}

// Entry is one planned (file, preset) encode.
type Entry struct {
	Key        taskkey.Key
	SourcePath string
	Preset     preset.Preset
	KeepAudio  bool
	OutputPath string
}

// Plan is the full set of entries for a batch, ordered file-major.
type Plan struct {
	Entries []Entry
}

// Build expands files x presets. It rejects empty inputs, base-name key
// collisions, and two entries resolving to the same output path.
func Build(files []string, presets []preset.Preset, opts Options) (Plan, error) {
	if len(files) == 0 {
		return Plan{}, services.Wrap(services.ErrValidation, "plan", "build", "no input files", nil)
	}
	if len(presets) == 0 {
		return Plan{}, services.Wrap(services.ErrValidation, "plan", "build", "no presets selected", nil)
	}

	cleaned := make([]string, 0, len(files))
	seen := make(map[string]struct{}, len(files))
	for _, file := range files {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		if abs, err := filepath.Abs(file); err == nil {
			file = abs
		}
		if _, dup := seen[file]; dup {
			continue
		}
		seen[file] = struct{}{}
		cleaned = append(cleaned, file)
	}
	if len(cleaned) == 0 {
		return Plan{}, services.Wrap(services.ErrValidation, "plan", "build", "no input files", nil)
	}

	ids := make([]string, 0, len(presets))
	idSeen := make(map[string]struct{}, len(presets))
	for _, p := range presets {
		if _, dup := idSeen[p.ID]; dup {
			return Plan{}, services.Wrap(services.ErrValidation, "plan", "build", fmt.Sprintf("preset %q selected twice", p.ID), nil)
		}
		idSeen[p.ID] = struct{}{}
		ids = append(ids, p.ID)
	}

	if collisions := taskkey.Detect(cleaned, ids); len(collisions) > 0 {
		lines := make([]string, 0, len(collisions))
		for _, c := range collisions {
			lines = append(lines, c.String())
		}
		return Plan{}, fmt.Errorf("%w: files sharing a base name cannot be batched together: %s", ErrKeyCollision, strings.Join(lines, "; "))
	}

	entries := make([]Entry, 0, len(cleaned)*len(presets))
	outputs := make(map[string]taskkey.Key, cap(entries))
	for _, file := range cleaned {
		for _, p := range presets {
			out := naming.OutputPath(naming.Target{
				SourcePath:  file,
				OutputRoot:  opts.OutputRoot,
				Rule:        p.Rule(),
				AudioSuffix: opts.AudioSuffix,
				KeepAudio:   opts.KeepAudio,
				CustomName:  opts.CustomNames[file],
			})
			key := taskkey.New(file, p.ID)
			if other, dup := outputs[out]; dup {
				return Plan{}, services.Wrap(services.ErrValidation, "plan", "build",
					fmt.Sprintf("%s and %s both write %s", other, key, out), nil)
			}
			if out == file {
				return Plan{}, services.Wrap(services.ErrValidation, "plan", "build",
					fmt.Sprintf("%s would overwrite its own source", key), nil)
			}
			outputs[out] = key
			entries = append(entries, Entry{
				Key:        key,
				SourcePath: file,
				Preset:     p,
				KeepAudio:  opts.KeepAudio,
				OutputPath: out,
			})
		}
	}
	return Plan{Entries: entries}, nil
}

// Len returns the number of entries.
func (p Plan) Len() int { return len(p.Entries) }

// Keys returns entry keys sorted.
func (p Plan) Keys() []taskkey.Key {
	keys := make([]taskkey.Key, 0, len(p.Entries))
	for _, e := range p.Entries {
		keys = append(keys, e.Key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Without returns a copy of p minus the given keys.
func (p Plan) Without(keys ...taskkey.Key) Plan {
	if len(keys) == 0 {
		return Plan{Entries: append([]Entry(nil), p.Entries...)}
	}
	drop := make(map[taskkey.Key]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	kept := make([]Entry, 0, len(p.Entries))
	for _, e := range p.Entries {
		if _, ok := drop[e.Key]; !ok {
			kept = append(kept, e)
		}
	}
	return Plan{Entries: kept}
}
