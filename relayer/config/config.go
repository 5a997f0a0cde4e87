package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vaultbridge/relay-node/relayer/relayerr"
)

const (
	configSubdir   = "config"
	configFileName = "vaultrelay_config.json"
)

//go:embed default_config.json
var defaultConfigJSON []byte

// validateConfig checks required fields and applies defaults in place.
// A missing required field is a fatal configuration fault.
func validateConfig(cfg *Config) error {
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return relayerr.New(relayerr.CodeConfig, "log level must be between 0 and 5")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return relayerr.New(relayerr.CodeConfig, "log format must be 'json' or 'console'")
	}

	// Required external endpoints. Without them no processing loop may start.
	if cfg.SubgraphURL == "" {
		return relayerr.New(relayerr.CodeConfig, "subgraph_url is required")
	}
	if len(cfg.DestinationRPCURLs) == 0 {
		return relayerr.New(relayerr.CodeConfig, "at least one destination_rpc_url is required")
	}
	if len(cfg.EventNames) == 0 {
		return relayerr.New(relayerr.CodeConfig, "at least one event name is required")
	}

	if cfg.DatabaseFile == "" {
		cfg.DatabaseFile = "relay_data.db"
	}
	if cfg.EventPollingIntervalSeconds == 0 {
		cfg.EventPollingIntervalSeconds = 5
	}
	if cfg.BatchPollingIntervalSeconds == 0 {
		cfg.BatchPollingIntervalSeconds = 30
	}
	if cfg.FeedBatchSize == 0 {
		cfg.FeedBatchSize = 100
	}
	if cfg.SubmitMaxAttempts == 0 {
		cfg.SubmitMaxAttempts = 3
	}
	if cfg.SubmitBackoffSeconds == 0 {
		cfg.SubmitBackoffSeconds = 1
	}
	if cfg.SubmitBackoffMaxSeconds == 0 {
		cfg.SubmitBackoffMaxSeconds = 30
	}
	if cfg.FinalizationDeadlineSeconds == 0 {
		cfg.FinalizationDeadlineSeconds = 86400
	}
	if cfg.OrphanRetentionSeconds == 0 {
		cfg.OrphanRetentionSeconds = 604800
	}

	return nil
}

// Save writes the given config to <NodeHome>/config/vaultrelay_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, configFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads, validates and defaults the config from
// <basePath>/config/vaultrelay_config.json.
func Load(basePath string) (Config, error) {
	configFile := filepath.Join(basePath, configSubdir, configFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON.
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return &cfg, nil
}
