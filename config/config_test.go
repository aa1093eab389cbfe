package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/blueprint/chunker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, BackendBadger, cfg.Storage.VectorBackend)
	assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.RetryDelay)
	assert.True(t, cfg.Pipeline.AutoRetry)
	assert.InDelta(t, 0.35, cfg.QA.MinSimilarity, 1e-6)
	assert.Equal(t, chunker.DefaultConfig(), cfg.Chunking)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "blueprint.yaml", `
log_level: debug
ai:
  embedding_model: text-embedding-3-small
  dimensions: 1536
storage:
  vector_backend: postgres
  postgres_dsn: postgres://localhost/blueprint
chunking:
  strategy: paragraph
  size: 1500
  overlap: 100
pipeline:
  retry_delay: 750ms
  auto_retry: false
qa:
  top_k: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "text-embedding-3-small", cfg.AI.EmbeddingModel)
	assert.Equal(t, "qwen2.5:7b", cfg.AI.GenerationModel)
	assert.Equal(t, 1536, cfg.AI.Dimensions)
	assert.Equal(t, BackendPostgres, cfg.Storage.VectorBackend)
	assert.Equal(t, chunker.Config{Size: 1500, Overlap: 100, Strategy: chunker.Paragraph}, cfg.Chunking)
	assert.Equal(t, 750*time.Millisecond, cfg.Pipeline.RetryDelay)
	assert.False(t, cfg.Pipeline.AutoRetry)
	assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 8, cfg.QA.TopK)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("BLUEPRINT_HOST", "http://models:8080")
	t.Setenv("BLUEPRINT_GENERATION_MODEL", "gpt-4o-mini")
	t.Setenv("BLUEPRINT_DIMENSIONS", "384")
	t.Setenv("BLUEPRINT_MAX_RETRIES", "5")
	t.Setenv("BLUEPRINT_RETRY_DELAY", "2s")
	t.Setenv("BLUEPRINT_DATA_PATH", "/var/lib/blueprint")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://models:8080", cfg.AI.EmbeddingHost)
	assert.Equal(t, "http://models:8080", cfg.AI.GenerationHost)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.GenerationModel)
	assert.Equal(t, 384, cfg.AI.Dimensions)
	assert.Equal(t, 5, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.RetryDelay)
	assert.Equal(t, "/var/lib/blueprint", cfg.Storage.Path)

	aiCfg := cfg.AIConfig()
	require.NoError(t, aiCfg.Validate())
	assert.Equal(t, "http://models:8080/v1", aiCfg.EmbeddingHost)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Run("bad number", func(t *testing.T) {
		t.Setenv("BLUEPRINT_POOL_SIZE", "many")
		_, err := Load("")
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("BLUEPRINT_TIMEOUT", "soon")
		_, err := Load("")
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("BLUEPRINT_VECTOR_BACKEND", "qdrant")
		_, err := Load("")
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("postgres without dsn", func(t *testing.T) {
		t.Setenv("BLUEPRINT_VECTOR_BACKEND", BackendPostgres)
		_, err := Load("")
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("bad log level", func(t *testing.T) {
		t.Setenv("BLUEPRINT_LOG_LEVEL", "loud")
		_, err := Load("")
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("bad chunking", func(t *testing.T) {
		path := writeFile(t, "c.yaml", "chunking:\n  size: 100\n  overlap: 100\n")
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("malformed yaml", func(t *testing.T) {
		path := writeFile(t, "c.yaml", "qa: [\n")
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestLoadEnvFiles(t *testing.T) {
	const key = "BLUEPRINT_TEST_ENV_FILE_VALUE"
	t.Cleanup(func() { os.Unsetenv(key) })

	path := writeFile(t, ".env", key+"=from-file\n")
	require.NoError(t, LoadEnvFiles(filepath.Join(t.TempDir(), "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv(key))

	// Existing variables win over file contents.
	os.Setenv(key, "from-process")
	require.NoError(t, LoadEnvFiles(path))
	assert.Equal(t, "from-process", os.Getenv(key))
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.CancelGrace = 45 * time.Second
	cfg.Chunking.Strategy = chunker.Sentence
	path := filepath.Join(t.TempDir(), "nested", "blueprint.yaml")

	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
