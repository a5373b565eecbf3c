// Package naming owns the single output path rule shared by conflict
// detection and every encoder backend. Any divergence between the two would
// make conflict detection lie, so both sides call OutputPath.
package naming

import (
	"path/filepath"
	"strings"
)

// Rule is the naming portion of a preset.
type Rule struct {
	// Folder is a subdirectory created under the output root.
	Folder string
	// Suffix is appended to the source stem.
	Suffix string
	// Extension is the container extension without the dot.
	Extension string
}

// Target describes one planned output.
type Target struct {
	SourcePath string
	// OutputRoot is the base directory; empty means the source's directory.
	OutputRoot string
	Rule       Rule
	// AudioSuffix is appended when KeepAudio is false.
	AudioSuffix string
	KeepAudio   bool
	// CustomName replaces the derived stem and suffixes when set. Its own
	// extension, if any, is replaced by the rule's extension.
	CustomName string
}

// OutputPath builds the destination file path for t:
//
//	<root>/<folder>/<stem><suffix>[<audioSuffix>].<ext>
func OutputPath(t Target) string {
	root := strings.TrimSpace(t.OutputRoot)
	if root == "" {
		root = filepath.Dir(t.SourcePath)
	}
	dir := root
	if folder := cleanComponent(t.Rule.Folder); folder != "" {
		dir = filepath.Join(root, folder)
	}

	ext := strings.TrimPrefix(strings.TrimSpace(t.Rule.Extension), ".")
	if ext == "" {
		ext = strings.TrimPrefix(filepath.Ext(t.SourcePath), ".")
	}

	var stem string
	if custom := cleanComponent(t.CustomName); custom != "" {
		stem = strings.TrimSuffix(custom, filepath.Ext(custom))
		if stem == "" {
			stem = custom
		}
	} else {
		base := filepath.Base(t.SourcePath)
		stem = strings.TrimSuffix(base, filepath.Ext(base))
		if stem == "" {
			stem = base
		}
		stem += t.Rule.Suffix
		if !t.KeepAudio {
			stem += t.AudioSuffix
		}
	}

	if ext == "" {
		return filepath.Join(dir, stem)
	}
	return filepath.Join(dir, stem+"."+ext)
}

// PartialPath returns the in-progress path an encoder writes before the
// final rename. It lives beside the final output so the rename stays on one
// filesystem, and keeps the real extension so muxers infer the container.
func PartialPath(finalPath string) string {
	dir := filepath.Dir(finalPath)
	base := filepath.Base(finalPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, "."+stem+".partial"+ext)
}

// cleanComponent strips directory separators so user-supplied names cannot
// escape the output root.
func cleanComponent(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, "\\", "/")
	parts := strings.Split(value, "/")
	kept := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || p == "." || p == ".." {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "_")
}
