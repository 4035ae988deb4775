package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncwave/syncwave/internal/types"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := load(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "syncwave.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, types.DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, types.DefaultThreadCount, cfg.ThreadCount)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("log_level: debug\nbatch_size: 250\n"), 0o644))

	cfg, err := load(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, types.DefaultThreadCount, cfg.ThreadCount)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("log_level: debug\n"), 0o644))
	t.Setenv("SYNCWAVE_LOG_LEVEL", "warn")
	t.Setenv("SYNCWAVE_THREAD_COUNT", "8")

	cfg, err := load(dir)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 8, cfg.ThreadCount)
}

func TestInvalidNumbersFallBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("batch_size: -5\n"), 0o644))

	cfg, err := load(dir)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultBatchSize, cfg.BatchSize)
}
