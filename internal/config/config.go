// Package config loads assistant configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Agent    AgentConfig    `yaml:"agent"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host" env:"ASSISTANT_HOST"`
	Port int    `yaml:"port" env:"ASSISTANT_PORT"`
}

type DatabaseConfig struct {
	// Driver is "sqlite", "postgres", or "memory".
	Driver string `yaml:"driver" env:"ASSISTANT_DB_DRIVER"`

	// URL is the Postgres DSN; Path is the SQLite file.
	URL  string `yaml:"url" env:"ASSISTANT_DB_URL"`
	Path string `yaml:"path" env:"ASSISTANT_DB_PATH"`
}

type LLMConfig struct {
	APIKey     string        `yaml:"api_key" env:"ANTHROPIC_API_KEY"`
	BaseURL    string        `yaml:"base_url" env:"ANTHROPIC_BASE_URL"`
	Model      string        `yaml:"model" env:"ASSISTANT_MODEL"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type AgentConfig struct {
	MaxToolRounds int    `yaml:"max_tool_rounds"`
	MaxTokens     int    `yaml:"max_tokens"`
	System        string `yaml:"system"`

	TurnLimit      int           `yaml:"turn_limit"`
	TurnWindow     time.Duration `yaml:"turn_window"`
	ToolCallLimit  int           `yaml:"tool_call_limit"`
	ToolCallWindow time.Duration `yaml:"tool_call_window"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"ASSISTANT_LOG_LEVEL"`
	Format string `yaml:"format" env:"ASSISTANT_LOG_FORMAT"`
}

// Load reads the YAML file at path, then applies environment overrides and
// defaults. An empty path loads from environment and defaults alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment wins over the file.
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "assistant.db"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-sonnet-4-20250514"
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = time.Second
	}
	if cfg.Agent.MaxToolRounds == 0 {
		cfg.Agent.MaxToolRounds = 10
	}
	if cfg.Agent.MaxTokens == 0 {
		cfg.Agent.MaxTokens = 4096
	}
	if cfg.Agent.TurnLimit == 0 {
		cfg.Agent.TurnLimit = 20
	}
	if cfg.Agent.TurnWindow == 0 {
		cfg.Agent.TurnWindow = time.Minute
	}
	if cfg.Agent.ToolCallLimit == 0 {
		cfg.Agent.ToolCallLimit = 50
	}
	if cfg.Agent.ToolCallWindow == 0 {
		cfg.Agent.ToolCallWindow = time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
