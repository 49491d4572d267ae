package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "nats://nats:4222", cfg.NATSURI)
	assert.Equal(t, "bsky", cfg.NATSStream)
	assert.Equal(t, 7, cfg.NATSStreamMaxAgeDays)
	assert.Equal(t, 5, cfg.NATSStreamMaxSizeGB)
	assert.Equal(t, "mongodb://mongodb:27017", cfg.MongoURI)
	assert.Equal(t, 8000, cfg.FartPort)
	assert.Equal(t, "bsky", cfg.FartDB)
	assert.Equal(t, "", cfg.FartKey)
	assert.Equal(t, 1000, cfg.FirehoseCheckpoint)
	assert.Equal(t, "firehose", cfg.FirehoseSubjectPrefix)
	assert.False(t, cfg.IndexerEnable)
	assert.Equal(t, "indexer", cfg.IndexerConsumer)
	assert.Equal(t, 1000, cfg.IndexerBatchSize)
	assert.Equal(t, "bsky.network", cfg.FirehoseHost)
	assert.Equal(t, "https://plc.directory", cfg.IdentityDirectoryURL)
	assert.Equal(t, 9090, cfg.MetricsPort)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FART_PORT", "9001")
	t.Setenv("INDEXER_ENABLE", "true")
	t.Setenv("INDEXER_BATCH_SIZE", "250")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.FartPort)
	assert.True(t, cfg.IndexerEnable)
	assert.Equal(t, 250, cfg.IndexerBatchSize)
}

func TestLoadInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("FART_PORT", "70000")

	_, err := Load()
	require.Error(t, err)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"NATS_URI", "NATS_STREAM", "NATS_STREAM_MAX_AGE", "NATS_STREAM_MAX_SIZE",
		"MONGO_URI", "FART_PORT", "FART_DB", "FART_KEY",
		"FIREHOSE_HOST", "FIREHOSE_ENJOYER_CHECKPOINT", "FIREHOSE_ENJOYER_SUBJECT_PREFIX",
		"INDEXER_ENABLE", "INDEXER_CONSUMER", "INDEXER_BATCH_SIZE",
		"CHRONO_TRIGGER_TOP_INTERACTIONS_INTERVAL", "IDENTITY_DIRECTORY_URL", "METRICS_PORT",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		os.Unsetenv(key)
	}
}
