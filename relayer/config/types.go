package config

// Config holds all relay node configuration. Loaded from
// <NodeHome>/config/vaultrelay_config.json.
type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Node Config
	NodeHome     string `json:"node_home"`     // Node home directory (default: ~/.vaultrelay)
	DatabaseFile string `json:"database_file"` // SQLite database filename (default: relay_data.db)

	// Upstream event source
	SubgraphURL string   `json:"subgraph_url"` // Event feed endpoint (required)
	EventNames  []string `json:"event_names"`  // Event names to ingest; each is an independent partition

	// Destination chain
	DestinationRPCURLs []string `json:"destination_rpc_urls"` // Destination chain JSON-RPC endpoints (required)

	// Polling cadence
	EventPollingIntervalSeconds int `json:"event_polling_interval_seconds"` // How often to poll the event feed (default: 5)
	BatchPollingIntervalSeconds int `json:"batch_polling_interval_seconds"` // How often to check for closed batches (default: 30)
	FeedBatchSize               int `json:"feed_batch_size"`                // Max events fetched per poll (default: 100)

	// Submission retry budget
	SubmitMaxAttempts        int `json:"submit_max_attempts"`         // Attempts before a controller submission fails (default: 3)
	SubmitBackoffSeconds     int `json:"submit_backoff_seconds"`      // Initial backoff between attempts (default: 1)
	SubmitBackoffMaxSeconds  int `json:"submit_backoff_max_seconds"`  // Backoff ceiling (default: 30)

	// Lifecycle deadlines
	FinalizationDeadlineSeconds int `json:"finalization_deadline_seconds"` // Pending transactions older than this fail (default: 86400)
	OrphanRetentionSeconds      int `json:"orphan_retention_seconds"`      // Quarantined finalizations older than this are pruned (default: 604800)
}
