// Package config loads the YAML configuration stored in the state
// directory.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GC configures event log trimming.
type GC struct {
	// RetainDays keeps transactions younger than this many days
	// regardless of reachability. 0 means never trim by age.
	RetainDays int `yaml:"retainDays"`
}

// Config is the per-repository configuration.
type Config struct {
	// MainBranch names the branch draft()/main() are relative to.
	MainBranch string `yaml:"mainBranch"`
	GC         GC     `yaml:"gc"`
	// Aliases seeds the revset alias table; definitions added with the
	// alias command are stored in the state database instead.
	Aliases map[string]string `yaml:"aliases"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{MainBranch: "main", GC: GC{RetainDays: 90}}
}

// Load reads the configuration at path, falling back to defaults when the
// file does not exist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.MainBranch == "" {
		cfg.MainBranch = "main"
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
