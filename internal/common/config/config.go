// Package config provides configuration management for the agent runtime.
// It supports loading from environment variables, a config file, and defaults,
// following the same viper-based layering the rest of the ecosystem uses.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/fluxforge/agentcore/internal/common/logger"
)

// Config holds all configuration sections for the agent runtime.
type Config struct {
	Decision  DecisionConfig  `mapstructure:"decision"`
	GitHost   GitHostConfig   `mapstructure:"githost"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Run       RunConfig       `mapstructure:"run"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   logger.Config   `mapstructure:"logging"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

// DecisionConfig configures the decision-maker (LLM) client.
type DecisionConfig struct {
	APIKey string `mapstructure:"apiKey"`
	Model  string `mapstructure:"model"`
}

// GitHostConfig configures the repository-hosting adapter.
type GitHostConfig struct {
	Token string `mapstructure:"token"`
}

// SandboxConfig configures the Sandbox Provider.
type SandboxConfig struct {
	// Backend selects the Sandbox Provider implementation: "local" or "container".
	Backend string `mapstructure:"backend"`

	Container ContainerBackendConfig `mapstructure:"container"`
}

// ContainerBackendConfig configures the remote container backend.
type ContainerBackendConfig struct {
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"apiVersion"`
	Image      string `mapstructure:"image"`
}

// RunConfig bounds a single run's resource usage.
type RunConfig struct {
	MaxRuntimeSeconds int `mapstructure:"maxRuntimeSeconds"`
	MaxIterations     int `mapstructure:"maxIterations"`
}

// ArtifactsConfig configures where durable run artifacts are written.
type ArtifactsConfig struct {
	RootDir        string `mapstructure:"rootDir"`
	MaxArtifactSizeMB int  `mapstructure:"maxArtifactSizeMB"`
}

// StoreConfig configures the durable store connection. DriverName is any
// database/sql driver registered by the binary's blank imports — "sqlite"
// (modernc.org/sqlite, the default) or "pgx" (github.com/jackc/pgx/v5/stdlib,
// for deployments that already run Postgres).
type StoreConfig struct {
	DriverName string `mapstructure:"driverName"`
	DSN        string `mapstructure:"dsn"`
}

// CORSConfig is accepted as a passthrough configuration value even though the
// HTTP transport surface is out of scope for this module; it is part of the
// named configuration surface and external callers read it back.
type CORSConfig struct {
	Origins []string `mapstructure:"origins"`
}

// Load reads configuration from a file (if present), environment variables
// prefixed AGENTCORE_, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("decision.model", "claude-sonnet-4-20250514")
	v.SetDefault("sandbox.backend", "local")
	v.SetDefault("sandbox.container.image", "agentcore/sandbox:latest")
	v.SetDefault("run.maxRuntimeSeconds", 300)
	v.SetDefault("run.maxIterations", 60)
	v.SetDefault("artifacts.rootDir", "./artifacts")
	v.SetDefault("artifacts.maxArtifactSizeMB", 10)
	v.SetDefault("store.driverName", "sqlite")
	v.SetDefault("store.dsn", "agentcore.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
	v.SetDefault("cors.origins", []string{"http://localhost:5173"})
}
