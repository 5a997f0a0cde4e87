package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultbridge/relay-node/relayer/relayerr"
)

func minimalConfig() Config {
	return Config{
		LogLevel:           1,
		LogFormat:          "console",
		SubgraphURL:        "http://localhost:8000/subgraphs/name/vault-bridge",
		EventNames:         []string{"BridgeFinalized"},
		DestinationRPCURLs: []string{"http://localhost:8545"},
	}
}

func TestValidateConfig(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		cfg := minimalConfig()
		require.NoError(t, validateConfig(&cfg))

		assert.Equal(t, "relay_data.db", cfg.DatabaseFile)
		assert.Equal(t, 5, cfg.EventPollingIntervalSeconds)
		assert.Equal(t, 30, cfg.BatchPollingIntervalSeconds)
		assert.Equal(t, 100, cfg.FeedBatchSize)
		assert.Equal(t, 3, cfg.SubmitMaxAttempts)
		assert.Equal(t, 1, cfg.SubmitBackoffSeconds)
		assert.Equal(t, 30, cfg.SubmitBackoffMaxSeconds)
		assert.Equal(t, 86400, cfg.FinalizationDeadlineSeconds)
		assert.Equal(t, 604800, cfg.OrphanRetentionSeconds)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		cfg := minimalConfig()
		cfg.FeedBatchSize = 25
		cfg.SubmitMaxAttempts = 7
		require.NoError(t, validateConfig(&cfg))

		assert.Equal(t, 25, cfg.FeedBatchSize)
		assert.Equal(t, 7, cfg.SubmitMaxAttempts)
	})

	t.Run("missing required fields are configuration faults", func(t *testing.T) {
		for name, mutate := range map[string]func(*Config){
			"subgraph url":    func(c *Config) { c.SubgraphURL = "" },
			"rpc urls":        func(c *Config) { c.DestinationRPCURLs = nil },
			"event names":     func(c *Config) { c.EventNames = nil },
			"log format":      func(c *Config) { c.LogFormat = "xml" },
			"log level range": func(c *Config) { c.LogLevel = 9 },
		} {
			t.Run(name, func(t *testing.T) {
				cfg := minimalConfig()
				mutate(&cfg)
				err := validateConfig(&cfg)
				require.Error(t, err)
				assert.True(t, relayerr.HasCode(err, relayerr.CodeConfig))
			})
		}
	})
}

func TestSaveLoadRoundtrip(t *testing.T) {
	home := t.TempDir()

	cfg := minimalConfig()
	cfg.EventNames = []string{"BridgeInitiatedOriginA", "BridgeFinalized"}
	cfg.SubmitMaxAttempts = 5
	require.NoError(t, Save(&cfg, home))

	loaded, err := Load(home)
	require.NoError(t, err)
	assert.Equal(t, cfg.SubgraphURL, loaded.SubgraphURL)
	assert.Equal(t, cfg.EventNames, loaded.EventNames)
	assert.Equal(t, 5, loaded.SubmitMaxAttempts)
	// Defaults were written out by Save.
	assert.Equal(t, "relay_data.db", loaded.DatabaseFile)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestLoadDefaultConfig(t *testing.T) {
	cfg, err := LoadDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "relay_data.db", cfg.DatabaseFile)
	assert.Contains(t, cfg.EventNames, "BridgeFinalized")
	assert.NotEmpty(t, cfg.DestinationRPCURLs)

	// The embedded defaults must pass validation as-is.
	require.NoError(t, validateConfig(cfg))
}
