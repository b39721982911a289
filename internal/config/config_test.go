package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8084, cfg.Server.HTTPPort)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "fieldledger.mentions", cfg.Kafka.MentionsTopic)
	assert.False(t, cfg.Neo4j.Enabled)

	assert.Equal(t, float64(80), cfg.Matching.AliasThreshold)
	assert.Equal(t, float64(60), cfg.Matching.AliasCrossThreshold)
	assert.Equal(t, float64(85), cfg.Matching.FullNameThreshold)
	assert.True(t, cfg.Matching.BlockingEnabled)
	assert.Equal(t, 3, cfg.Resolver.HistoryRetryAttempts)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("MATCH_FULL_NAME_THRESHOLD", "92.5")
	t.Setenv("MATCH_CATEGORY_SCOPED", "true")
	t.Setenv("RESOLVER_HISTORY_RETRY_BACKOFF", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 92.5, cfg.Matching.FullNameThreshold)
	assert.True(t, cfg.Matching.CategoryScoped)
	assert.Equal(t, 250*time.Millisecond, cfg.Resolver.HistoryRetryBackoff)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-number")
	t.Setenv("MATCH_BLOCKING_ENABLED", "not-a-bool")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8084, cfg.Server.HTTPPort)
	assert.True(t, cfg.Matching.BlockingEnabled)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	t.Run("rejects out-of-range port", func(t *testing.T) {
		cfg := valid()
		cfg.Server.HTTPPort = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects missing database host", func(t *testing.T) {
		cfg := valid()
		cfg.Database.Host = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects empty broker list", func(t *testing.T) {
		cfg := valid()
		cfg.Kafka.Brokers = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects threshold above 100", func(t *testing.T) {
		cfg := valid()
		cfg.Matching.FullNameThreshold = 101
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects enabled graph without URI", func(t *testing.T) {
		cfg := valid()
		cfg.Neo4j.Enabled = true
		cfg.Neo4j.URI = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects zero retry attempts", func(t *testing.T) {
		cfg := valid()
		cfg.Resolver.HistoryRetryAttempts = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestDatabaseDSN(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	dsn := cfg.DatabaseDSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=fieldledger")
	assert.Contains(t, dsn, "sslmode=disable")
}
