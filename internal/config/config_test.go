package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetDefaults(t *testing.T) {
	cfg := GetDefaults()

	if err := validateConfig(cfg); err != nil {
		t.Fatalf("Defaults do not validate: %v", err)
	}
	if cfg.Pipeline.SentinelCooldown != 10*time.Second {
		t.Errorf("Wrong default cooldown: %s", cfg.Pipeline.SentinelCooldown)
	}
	if cfg.Engine.Transport != "auto" || cfg.Engine.Timeout != 2*time.Minute {
		t.Errorf("Wrong engine defaults: %+v", cfg.Engine)
	}
	if !cfg.Rules.Enabled || len(cfg.Rules.Entities) == 0 {
		t.Errorf("Default rules not populated: %+v", cfg.Rules)
	}
	if cfg.Dashboard.Enabled {
		t.Error("Dashboard on by default")
	}
	if cfg.Statistics.Path == "" || cfg.History.Path == "" {
		t.Error("Default data paths empty")
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"BadTransport", func(c *Config) { c.Engine.Transport = "carrier-pigeon" }},
		{"ZeroTimeout", func(c *Config) { c.Engine.Timeout = 0 }},
		{"NegativeCooldown", func(c *Config) { c.Pipeline.SentinelCooldown = -time.Second }},
		{"BadDashboardPort", func(c *Config) { c.Dashboard.Enabled = true; c.Dashboard.Port = 0 }},
		{"BadLogLevel", func(c *Config) { c.Logging.Level = "verbose" }},
		{"BadLogFormat", func(c *Config) { c.Logging.Format = "xml" }},
		{"BadRules", func(c *Config) { c.Rules.Entities[0].Method = "rot13" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := GetDefaults()
			tc.mutate(cfg)
			if err := validateConfig(cfg); err == nil {
				t.Error("Invalid configuration accepted")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
pipeline:
  sentinel_cooldown: 5s
engine:
  transport: file
  timeout: 30s
rules:
  confidence_threshold: 0.9
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Pipeline.SentinelCooldown != 5*time.Second {
		t.Errorf("Cooldown override lost: %s", cfg.Pipeline.SentinelCooldown)
	}
	if cfg.Engine.Transport != "file" || cfg.Engine.Timeout != 30*time.Second {
		t.Errorf("Engine overrides lost: %+v", cfg.Engine)
	}
	if cfg.Rules.ConfidenceThreshold != 0.9 {
		t.Errorf("Threshold override lost: %v", cfg.Rules.ConfidenceThreshold)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Log level override lost: %s", cfg.Logging.Level)
	}

	// Keys absent from the file keep their defaults.
	if cfg.Engine.Command == "" || len(cfg.Rules.Entities) == 0 {
		t.Error("Defaults lost for absent keys")
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  transport: smoke-signal\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Invalid transport accepted")
	}
}
