package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "MAGI",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "MAGI",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (MAGI_*)
// 3. Project config (.magi.yaml in current directory)
// 4. User config (~/.config/magi/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".magi")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "magi"))
		}
	}

	// Read config file (ignore not found)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("server.host", "localhost")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.enable_cors", true)

	l.v.SetDefault("store.path", ".magi/magi.db")

	l.v.SetDefault("context.budget", 26000)
	l.v.SetDefault("context.artifact_floor", 12000)
	l.v.SetDefault("context.live_floor", 4000)
	l.v.SetDefault("context.max_chunks", 1200)

	l.v.SetDefault("agents.casper.model", "gpt-4o")
	l.v.SetDefault("agents.balthasar.model", "claude-sonnet-4-20250514")
	l.v.SetDefault("agents.melchior.model", "grok-3")

	l.v.SetDefault("relay.timeout_seconds", 8)
	l.v.SetDefault("relay.max_body_bytes", 262144)
	l.v.SetDefault("relay.max_calls", 5)
}

func validate(cfg *Config) error {
	if cfg.Context.Budget < 24000 || cfg.Context.Budget > 32000 {
		return fmt.Errorf("context.budget must be in [24000, 32000], got %d", cfg.Context.Budget)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", cfg.Server.Port)
	}
	if cfg.Relay.MaxCalls <= 0 {
		return fmt.Errorf("relay.max_calls must be positive, got %d", cfg.Relay.MaxCalls)
	}
	return nil
}
