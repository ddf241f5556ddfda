package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCollocationWindow, cfg.Query.DefaultCollocationWindow)
	assert.Equal(t, "jaro-winkler", cfg.Query.Similarity)
	assert.Equal(t, "snapshot", cfg.Corpus.AnnotationSource)
	assert.True(t, cfg.Query.Parallel)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 25*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 100, cfg.Analytics.BatchSize)
	assert.Zero(t, cfg.Analytics.PersistInterval)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	yaml := `
server:
  port: 9999
query:
  defaultCollocationWindow: 3
  similarity: levenshtein
  timeout: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("CQ_QUERY_PARALLEL", "false")
	t.Setenv("CQ_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("CQ_REDIS_ADDR", "cache:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Query.DefaultCollocationWindow)
	assert.Equal(t, "levenshtein", cfg.Query.Similarity)
	assert.Equal(t, 2*time.Second, cfg.Query.Timeout)
	assert.False(t, cfg.Query.Parallel)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	// untouched sections keep defaults
	assert.Equal(t, 4096, cfg.Query.MaxQueryLength)
}

func TestLoadRejectsUnknownSimilarity(t *testing.T) {
	t.Setenv("CQ_QUERY_SIMILARITY", "cosine")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cosine")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
