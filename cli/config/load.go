package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a thrivix.yaml file from disk and parses it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands environment variables in raw YAML and unmarshals it.
// Split from Load so embedded or generated configs can skip the file read.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
