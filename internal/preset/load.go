package preset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Presets []Preset `toml:"presets" yaml:"presets"`
}

// LoadFile decodes a user preset file. The format is chosen by extension:
// .toml, .yaml or .yml.
func LoadFile(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file catalogFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse preset file %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse preset file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("preset file %s: unsupported extension (use .toml, .yaml or .yml)", path)
	}
	return file.Presets, nil
}

// Load builds the catalog from the built-in presets plus the optional user
// file. A missing user file is not an error.
func Load(path, defaultBackend, defaultExt string) (*Catalog, error) {
	presets := Builtin()
	if strings.TrimSpace(path) != "" {
		user, err := LoadFile(path)
		switch {
		case err == nil:
			presets = append(presets, user...)
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}
	return NewCatalog(defaultBackend, defaultExt, presets...)
}
