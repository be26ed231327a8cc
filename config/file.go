package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigFromYAML decodes YAML into a copy of base. Fields absent from the
// document keep the base value.
func ConfigFromYAML(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path on base.
func LoadFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ConfigFromYAML(data, base)
}
