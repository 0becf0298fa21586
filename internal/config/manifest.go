package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ManifestEntry declares one plugin in the YAML manifest.
type ManifestEntry struct {
	Name         string            `yaml:"name"`
	Kind         string            `yaml:"kind"`
	Capabilities []string          `yaml:"capabilities"`
	Priority     int               `yaml:"priority"`
	Disabled     bool              `yaml:"disabled,omitempty"`
	Options      map[string]string `yaml:"options,omitempty"`
}

// Manifest is the config-driven list of known plugins. Discovery is
// explicit: the registry instantiates each entry through a registered
// builder rather than scanning for duck-typed modules.
type Manifest struct {
	Plugins []ManifestEntry `yaml:"plugins"`
}

// LoadManifest parses a plugin manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	seen := make(map[string]bool, len(m.Plugins))
	for _, p := range m.Plugins {
		if p.Name == "" {
			return nil, fmt.Errorf("manifest %s: plugin with empty name", path)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("manifest %s: duplicate plugin %q", path, p.Name)
		}
		seen[p.Name] = true
	}
	return &m, nil
}
