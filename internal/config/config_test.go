package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Agent.MaxToolRounds != 10 || cfg.Agent.ToolCallLimit != 50 {
		t.Errorf("agent defaults = %+v", cfg.Agent)
	}
	if cfg.Agent.TurnWindow != time.Minute {
		t.Errorf("turn window = %v", cfg.Agent.TurnWindow)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9000
database:
  driver: postgres
  url: postgres://localhost/assistant
agent:
  max_tool_rounds: 5
  system: "You help run a business."
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.URL == "" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Agent.MaxToolRounds != 5 {
		t.Errorf("rounds = %d", cfg.Agent.MaxToolRounds)
	}
	// Unset fields still get defaults.
	if cfg.Agent.MaxTokens != 4096 {
		t.Errorf("max tokens = %d", cfg.Agent.MaxTokens)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ASSISTANT_PORT", "7070")
	t.Setenv("ASSISTANT_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("env must win over file: port = %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
