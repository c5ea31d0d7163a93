package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Server.EnableCORS)
	assert.Equal(t, ".magi/magi.db", cfg.Store.Path)

	assert.Equal(t, 26000, cfg.Context.Budget)
	assert.Equal(t, 12000, cfg.Context.ArtifactFloor)
	assert.Equal(t, 4000, cfg.Context.LiveFloor)
	assert.Equal(t, 1200, cfg.Context.MaxChunks)

	assert.Equal(t, "gpt-4o", cfg.Agents.Casper.Model)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Agents.Balthasar.Model)
	assert.Equal(t, "grok-3", cfg.Agents.Melchior.Model)

	assert.Equal(t, 8, cfg.Relay.TimeoutSeconds)
	assert.Equal(t, int64(262144), cfg.Relay.MaxBodyBytes)
	assert.Equal(t, 5, cfg.Relay.MaxCalls)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "magi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
context:
  budget: 30000
agents:
  casper:
    model: gpt-4o-mini
`), 0o644))

	loader := NewLoader().WithConfigFile(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 30000, cfg.Context.Budget)
	assert.Equal(t, "gpt-4o-mini", cfg.Agents.Casper.Model)
	// Untouched keys keep their defaults.
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, path, loader.ConfigFileUsed())
}

func TestMissingExplicitFileFails(t *testing.T) {
	_, err := NewLoader().WithConfigFile(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "magi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644))
	t.Setenv("MAGI_SERVER_PORT", "9001")

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"budget too low", func(c *Config) { c.Context.Budget = 23999 }, "context.budget"},
		{"budget too high", func(c *Config) { c.Context.Budget = 32001 }, "context.budget"},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"relay calls zero", func(c *Config) { c.Relay.MaxCalls = 0 }, "relay.max_calls"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultPassesValidation(t *testing.T) {
	assert.NoError(t, validate(Default()))
}
