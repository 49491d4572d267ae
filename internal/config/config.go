// Package config loads process configuration from environment variables,
// following the flat key/value table with defaults that every binary in
// this module shares.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds every environment-driven setting used across the four
// service binaries. Each binary reads only the fields it needs; Load
// always populates the full table so defaults stay centralized in one
// place.
type Config struct {
	NATSURI              string
	NATSStream           string
	NATSStreamMaxAgeDays int
	NATSStreamMaxSizeGB  int

	MongoURI string

	FartPort int
	FartDB   string
	FartKey  string

	FirehoseHost          string
	FirehoseCheckpoint    int
	FirehoseSubjectPrefix string

	IndexerEnable    bool
	IndexerConsumer  string
	IndexerBatchSize int

	ChronoTriggerTopInteractionsInterval string

	IdentityDirectoryURL string
	MetricsPort          int

	LogLevel  string
	LogFormat string
}

// Load reads Config from the environment and validates it. A
// validation failure is fatal at startup per the error handling design.
func Load() (*Config, error) {
	cfg := &Config{
		NATSURI:              getString("NATS_URI", "nats://nats:4222"),
		NATSStream:           getString("NATS_STREAM", "bsky"),
		NATSStreamMaxAgeDays: getInt("NATS_STREAM_MAX_AGE", 7),
		NATSStreamMaxSizeGB:  getInt("NATS_STREAM_MAX_SIZE", 5),

		MongoURI: getString("MONGO_URI", "mongodb://mongodb:27017"),

		FartPort: getInt("FART_PORT", 8000),
		FartDB:   getString("FART_DB", "bsky"),
		FartKey:  getString("FART_KEY", ""),

		FirehoseHost:          getString("FIREHOSE_HOST", "bsky.network"),
		FirehoseCheckpoint:    getInt("FIREHOSE_ENJOYER_CHECKPOINT", 1000),
		FirehoseSubjectPrefix: getString("FIREHOSE_ENJOYER_SUBJECT_PREFIX", "firehose"),

		IndexerEnable:    getBool("INDEXER_ENABLE", false),
		IndexerConsumer:  getString("INDEXER_CONSUMER", "indexer"),
		IndexerBatchSize: getInt("INDEXER_BATCH_SIZE", 1000),

		ChronoTriggerTopInteractionsInterval: getString("CHRONO_TRIGGER_TOP_INTERACTIONS_INTERVAL", "0 */3 * * *"),

		IdentityDirectoryURL: getString("IDENTITY_DIRECTORY_URL", "https://plc.directory"),
		MetricsPort:          getInt("METRICS_PORT", 9090),

		LogLevel:  getString("LOG_LEVEL", "info"),
		LogFormat: getString("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.NATSURI == "":
		return fmt.Errorf("NATS_URI must not be empty")
	case c.MongoURI == "":
		return fmt.Errorf("MONGO_URI must not be empty")
	case c.FartPort <= 0 || c.FartPort > 65535:
		return fmt.Errorf("FART_PORT out of range: %d", c.FartPort)
	case c.IndexerBatchSize <= 0:
		return fmt.Errorf("INDEXER_BATCH_SIZE must be positive")
	case c.FirehoseCheckpoint <= 0:
		return fmt.Errorf("FIREHOSE_ENJOYER_CHECKPOINT must be positive")
	}
	return nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
