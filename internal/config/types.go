package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/securepaste/securepaste/internal/rules"
)

// Config represents the main configuration structure
type Config struct {
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Rules      rules.RuleSet    `yaml:"rules" mapstructure:"rules"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Statistics StatisticsConfig `yaml:"statistics" mapstructure:"statistics"`
	History    HistoryConfig    `yaml:"history" mapstructure:"history"`
	Dashboard  DashboardConfig  `yaml:"dashboard" mapstructure:"dashboard"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
}

// PipelineConfig contains the anonymization pipeline tuning knobs
type PipelineConfig struct {
	// SentinelCooldown is how long the pipeline's own write-back suppresses
	// identical clipboard content before a manual re-copy is honored again.
	SentinelCooldown time.Duration `yaml:"sentinel_cooldown" mapstructure:"sentinel_cooldown"`
	// EventsPerSecond/EventBurst throttle clipboard change notifications
	// during copy storms; throttled events are dropped, not queued.
	EventsPerSecond float64 `yaml:"events_per_second" mapstructure:"events_per_second"`
	EventBurst      int     `yaml:"event_burst" mapstructure:"event_burst"`
}

// EngineConfig contains the external analysis engine configuration
type EngineConfig struct {
	// Command is the interpreter used to run the worker (e.g. "python3").
	Command string `yaml:"command" mapstructure:"command"`
	// Script is the path to the anonymizer worker script.
	Script string `yaml:"script" mapstructure:"script"`
	// Transport selects the exchange channel: auto, pipe or file.
	Transport string `yaml:"transport" mapstructure:"transport"`
	// Timeout bounds a single anonymization call end to end.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// ProbeTimeout bounds the startup installation check.
	ProbeTimeout time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	// TempDir overrides the directory used by the file transport. Empty means
	// the OS default.
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// CacheConfig contains the optional engine-result cache configuration
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// StatisticsConfig contains statistics persistence configuration
type StatisticsConfig struct {
	// Path of the write-through JSON statistics file. Empty disables
	// persistence (counters stay in memory only).
	Path string `yaml:"path" mapstructure:"path"`
}

// HistoryConfig contains the per-operation audit trail configuration
type HistoryConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Path of the embedded SQLite database file.
	Path string `yaml:"path" mapstructure:"path"`
	// Retention caps how many operations are kept; 0 keeps everything.
	Retention int `yaml:"retention" mapstructure:"retention"`
}

// DashboardConfig contains the localhost monitoring surface configuration
type DashboardConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Bind         string        `yaml:"bind" mapstructure:"bind"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Path     string `yaml:"path" mapstructure:"path"`
		MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
		Compress bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			SentinelCooldown: 10 * time.Second,
			EventsPerSecond:  2,
			EventBurst:       4,
		},
		Rules: rules.Defaults(),
		Engine: EngineConfig{
			Command:      "python3",
			Script:       filepath.Join(dataDir(), "securepaste_anonymizer.py"),
			Transport:    "auto",
			Timeout:      2 * time.Minute,
			ProbeTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 4,
			MinIdleConns:   1,
			DefaultTTL:     time.Hour,
			KeyPrefix:      "securepaste:result:",
		},
		Statistics: StatisticsConfig{
			Path: filepath.Join(dataDir(), "statistics.json"),
		},
		History: HistoryConfig{
			Enabled:   true,
			Path:      filepath.Join(dataDir(), "history.db"),
			Retention: 10000,
		},
		Dashboard: DashboardConfig{
			Enabled:      false,
			Bind:         "127.0.0.1",
			Port:         7489,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// dataDir returns the per-user data directory for SecurePaste state.
func dataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "securepaste")
}
