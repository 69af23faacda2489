package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	// Configure viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(dataDir())

	// Environment variable overrides
	viper.SetEnvPrefix("SECUREPASTE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	switch config.Engine.Transport {
	case "auto", "pipe", "file":
	default:
		return fmt.Errorf("invalid engine transport: %s (must be auto, pipe, or file)", config.Engine.Transport)
	}

	if config.Engine.Timeout <= 0 {
		return fmt.Errorf("engine timeout must be positive, got %s", config.Engine.Timeout)
	}

	if config.Pipeline.SentinelCooldown < 0 {
		return fmt.Errorf("sentinel cooldown must not be negative, got %s", config.Pipeline.SentinelCooldown)
	}

	if config.Dashboard.Enabled && (config.Dashboard.Port <= 0 || config.Dashboard.Port > 65535) {
		return fmt.Errorf("invalid dashboard port: %d", config.Dashboard.Port)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	// Broken rule sets are rejected here, at edit/load time, so that the
	// pipeline never has to abort a run over configuration.
	if err := config.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		if err := validateConfig(newConfig); err != nil {
			// Keep running on the previous valid configuration
			return
		}

		callback(newConfig)
	})

	return nil
}

// Save writes the configuration back to disk at the given path, creating the
// parent directory if needed. Used by the settings surface when rules change.
func Save(config *Config, path string) error {
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("refusing to save invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("pipeline", config.Pipeline)
	v.Set("rules", config.Rules)
	v.Set("engine", config.Engine)
	v.Set("cache", config.Cache)
	v.Set("statistics", config.Statistics)
	v.Set("history", config.History)
	v.Set("dashboard", config.Dashboard)
	v.Set("logging", config.Logging)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
