package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Default returns the built-in configuration.
func Default() *Config {
	loader := NewLoader()
	loader.setDefaults()
	var cfg Config
	// Unmarshal of pure defaults cannot fail.
	_ = loader.v.Unmarshal(&cfg)
	return &cfg
}

// WriteFile renders the configuration as YAML and writes it atomically.
// A half-written config file would poison every subsequent start, hence
// the rename-based write.
func WriteFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
