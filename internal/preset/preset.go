// Package preset defines encoding presets and the catalog they are looked up
// from. A preset carries the naming rule shared by conflict detection and the
// encoder, the backend that executes it, and an opaque argument list the
// orchestrator never interprets.
package preset

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"crunch/internal/naming"
)

// Backend names.
const (
	BackendFFmpeg = "ffmpeg"
	BackendDrapto = "drapto"
)

// Preset describes one output variant.
type Preset struct {
	ID        string            `toml:"id" yaml:"id" json:"id"`
	Name      string            `toml:"name" yaml:"name" json:"name,omitempty"`
	Folder    string            `toml:"folder" yaml:"folder" json:"folder,omitempty"`
	Suffix    string            `toml:"suffix" yaml:"suffix" json:"suffix,omitempty"`
	Extension string            `toml:"extension" yaml:"extension" json:"extension,omitempty"`
	Backend   string            `toml:"backend" yaml:"backend" json:"backend,omitempty"`
	Args      []string          `toml:"args" yaml:"args" json:"args,omitempty"`
	Params    map[string]string `toml:"params" yaml:"params" json:"params,omitempty"`
}

// Rule returns the naming rule for this preset.
func (p Preset) Rule() naming.Rule {
	return naming.Rule{Folder: p.Folder, Suffix: p.Suffix, Extension: p.Extension}
}

// DisplayName returns a human label, title-casing the ID when Name is empty.
func (p Preset) DisplayName() string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	label := strings.NewReplacer("-", " ", "_", " ").Replace(p.ID)
	return cases.Title(language.Und).String(label)
}

func (p Preset) validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("preset id is required")
	}
	if strings.ContainsAny(p.ID, "/\\") || strings.Contains(p.ID, "::") {
		return fmt.Errorf("preset %q: id must not contain path separators or '::'", p.ID)
	}
	switch p.Backend {
	case BackendFFmpeg, BackendDrapto:
	default:
		return fmt.Errorf("preset %q: unsupported backend %q", p.ID, p.Backend)
	}
	return nil
}

func (p Preset) normalized(defaultBackend, defaultExt string) Preset {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.Folder = strings.TrimSpace(p.Folder)
	p.Backend = strings.ToLower(strings.TrimSpace(p.Backend))
	if p.Backend == "" {
		p.Backend = defaultBackend
	}
	p.Extension = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p.Extension)), ".")
	if p.Extension == "" {
		p.Extension = defaultExt
		if p.Backend == BackendDrapto {
			p.Extension = "mkv"
		}
	}
	if p.Folder == "" && p.Suffix == "" {
		p.Suffix = "_" + p.ID
	}
	return p
}

// Catalog is an immutable set of presets keyed by ID.
type Catalog struct {
	presets map[string]Preset
}

// NewCatalog validates and indexes presets. Later entries override earlier
// ones with the same ID.
func NewCatalog(defaultBackend, defaultExt string, presets ...Preset) (*Catalog, error) {
	if defaultBackend == "" {
		defaultBackend = BackendFFmpeg
	}
	if defaultExt == "" {
		defaultExt = "mp4"
	}
	c := &Catalog{presets: make(map[string]Preset, len(presets))}
	for _, p := range presets {
		p = p.normalized(defaultBackend, defaultExt)
		if err := p.validate(); err != nil {
			return nil, err
		}
		c.presets[p.ID] = p
	}
	return c, nil
}

// Lookup returns the preset with the given ID.
func (c *Catalog) Lookup(id string) (Preset, bool) {
	if c == nil {
		return Preset{}, false
	}
	p, ok := c.presets[strings.TrimSpace(id)]
	return p, ok
}

// All returns every preset sorted by ID.
func (c *Catalog) All() []Preset {
	if c == nil {
		return nil
	}
	out := make([]Preset, 0, len(c.presets))
	for _, p := range c.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Builtin returns the presets shipped with crunch.
func Builtin() []Preset {
	return []Preset{
		{
			ID:     "h264-small",
			Name:   "H.264 Small",
			Folder: "small",
			Suffix: "_small",
			Args:   []string{"-c:v", "libx264", "-preset", "medium", "-crf", "28", "-vf", "scale=-2:'min(720,ih)'", "-c:a", "aac", "-b:a", "96k", "-movflags", "+faststart"},
		},
		{
			ID:     "h264-balanced",
			Name:   "H.264 Balanced",
			Folder: "balanced",
			Suffix: "_balanced",
			Args:   []string{"-c:v", "libx264", "-preset", "slow", "-crf", "22", "-c:a", "aac", "-b:a", "160k", "-movflags", "+faststart"},
		},
		{
			ID:     "hevc-archive",
			Name:   "HEVC Archive",
			Folder: "archive",
			Suffix: "_hevc",
			Args:   []string{"-c:v", "libx265", "-preset", "slow", "-crf", "24", "-tag:v", "hvc1", "-c:a", "copy"},
		},
		{
			ID:      "av1-drapto",
			Name:    "AV1 (drapto)",
			Folder:  "av1",
			Suffix:  "_av1",
			Backend: BackendDrapto,
		},
	}
}
