// Package config loads magi configuration from defaults, config files,
// environment variables and CLI flags, in ascending precedence.
package config

// Config holds all application configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Context ContextConfig `mapstructure:"context" yaml:"context"`
	Agents  AgentsConfig  `mapstructure:"agents" yaml:"agents"`
	Relay   RelayConfig   `mapstructure:"relay" yaml:"relay"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	EnableCORS bool   `mapstructure:"enable_cors" yaml:"enable_cors"`
}

// StoreConfig configures session persistence.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ContextConfig configures the context assembler budget.
type ContextConfig struct {
	// Budget is the global character budget for assembled context.
	// Valid range is 24000-32000.
	Budget        int `mapstructure:"budget" yaml:"budget"`
	ArtifactFloor int `mapstructure:"artifact_floor" yaml:"artifact_floor"`
	LiveFloor     int `mapstructure:"live_floor" yaml:"live_floor"`
	MaxChunks     int `mapstructure:"max_chunks" yaml:"max_chunks"`
}

// AgentsConfig configures per-agent model overrides.
type AgentsConfig struct {
	Casper    AgentConfig `mapstructure:"casper" yaml:"casper"`
	Balthasar AgentConfig `mapstructure:"balthasar" yaml:"balthasar"`
	Melchior  AgentConfig `mapstructure:"melchior" yaml:"melchior"`
}

// AgentConfig configures a single agent.
type AgentConfig struct {
	Model string `mapstructure:"model" yaml:"model"`
}

// RelayConfig bounds the HTTP-relay tool exposed to agents.
type RelayConfig struct {
	TimeoutSeconds int   `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxBodyBytes   int64 `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	MaxCalls       int   `mapstructure:"max_calls" yaml:"max_calls"`
}
