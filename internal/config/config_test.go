package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsInternallyConsistent(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ConnectionModeLocalFile, cfg.Storage.ConnectionMode)
	assert.Greater(t, cfg.Storage.Pool.Max, cfg.Storage.Pool.Min)
	assert.Equal(t, EmbeddingProviderMock, cfg.Embedding.Primary)
	assert.False(t, cfg.Logging.DebugMode)
	assert.Greater(t, cfg.Reparse.DebounceMs, 0)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/somewhere"
	cfg.Storage.Namespace = "custom"
	cfg.Consolidation.DecayRateLambda = 0.1

	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadOverlaysPartialFileOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  namespace: only-this-changed\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "only-this-changed", cfg.Storage.Namespace)
	assert.Equal(t, DefaultConfig().Storage.ConnectionMode, cfg.Storage.ConnectionMode)
	assert.Equal(t, DefaultConfig().Reparse, cfg.Reparse)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unclosed\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
