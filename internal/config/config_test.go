package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsDefaults(t *testing.T) {
	cfg := New()
	require.NotNil(t, cfg)

	assert.Equal(t, []string{"specs"}, cfg.MemoryRoots)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, DefaultDecayTauDays, cfg.Retrieval.DecayTauDays)
	assert.Equal(t, DefaultSearchLimit, cfg.Retrieval.DefaultLimit)
	assert.Equal(t, DefaultBatchConcurrency, cfg.Index.BatchConcurrency)
	assert.Equal(t, DefaultWorkingMemoryCap, cfg.WorkingMemory.MaxEntries)
	assert.Equal(t, 0.75, cfg.WorkingMemory.HotThreshold)
	assert.Equal(t, 0.35, cfg.WorkingMemory.WarmThreshold)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engram.yaml")
	yaml := `
data_dir: /tmp/engram-test
memory_roots: ["notes", "specs"]
embedding:
  provider: static
retrieval:
  decay_tau_days: 10.5
index:
  scan_cooldown_seconds: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/engram-test", cfg.DataDir)
	assert.Equal(t, []string{"notes", "specs"}, cfg.MemoryRoots)
	assert.Equal(t, "static", cfg.Embedding.Provider)
	assert.Equal(t, 10.5, cfg.Retrieval.DecayTauDays)
	assert.Equal(t, 5*time.Second, cfg.ScanCooldown())
	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultSearchLimit, cfg.Retrieval.DefaultLimit)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENGRAM_DATA_DIR", "/tmp/env-data")
	t.Setenv("ENGRAM_EMBED_PROVIDER", "static")
	t.Setenv("ENGRAM_LOG_LEVEL", "debug")
	t.Setenv("ENGRAM_SCAN_COOLDOWN_SECONDS", "0")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env-data", cfg.DataDir)
	assert.Equal(t, "static", cfg.Embedding.Provider)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, time.Duration(0), cfg.ScanCooldown())
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := New()
	cfg.Embedding.Provider = "quantum"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := New()
	cfg.WorkingMemory.HotThreshold = 0.3
	cfg.WorkingMemory.WarmThreshold = 0.5
	assert.Error(t, cfg.Validate())
}

func TestValidateRepairsOutOfRangeValues(t *testing.T) {
	cfg := New()
	cfg.Retrieval.DecayTauDays = -1
	cfg.Index.BatchConcurrency = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultDecayTauDays, cfg.Retrieval.DecayTauDays)
	assert.Equal(t, DefaultBatchConcurrency, cfg.Index.BatchConcurrency)
}
