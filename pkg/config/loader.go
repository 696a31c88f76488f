package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the colony declaration file at the repository root.
const ConfigFileName = "colony.yml"

// Load reads and validates colony.yml from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigError{Msg: "colony.yml not found (run `colony init` first)", Err: err}
		}
		return nil, &ConfigError{Msg: "failed to read colony.yml", Err: err}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Msg: "failed to parse colony.yml", Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration back to colony.yml. Only `init` and the
// interactive config UI call this; everything else treats the file as
// read-only.
func Save(dir string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return &ConfigError{Msg: "failed to marshal colony.yml", Err: err}
	}

	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &ConfigError{Msg: "failed to write colony.yml", Err: err}
	}
	return nil
}

// Exists reports whether colony.yml is present in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}
