package recipe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a recipe file. The format is chosen by file
// extension: .yaml and .yml are parsed as YAML, .json as JSON.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe %s: %w", path, err)
	}

	r, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parse recipe %s: %w", path, err)
	}
	return r, nil
}

// Parse decodes recipe bytes according to the given file extension
// (".yaml", ".yml", or ".json").
func Parse(data []byte, ext string) (*Recipe, error) {
	var r Recipe

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("invalid yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unrecognized recipe extension %q (want .yaml, .yml, or .json)", ext)
	}

	return &r, nil
}

// IsRecipeFile reports whether a directory entry name has a recognized
// recipe extension.
func IsRecipeFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}
