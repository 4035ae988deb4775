// Package config resolves engine settings from the config file, the
// SYNCWAVE_* environment and built-in defaults, in that order of
// precedence (highest last to first: env over file over defaults).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/syncwave/syncwave/internal/types"
)

// Config is the resolved engine configuration.
type Config struct {
	// DataDir holds the SQLite state database and the credentials key.
	DataDir string
	// DBPath is the SQLite database file inside DataDir.
	DBPath string
	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string
	// BatchSize and ThreadCount are fallbacks for task configs that omit
	// the knob.
	BatchSize   int
	ThreadCount int
}

// DefaultDataDir is the per-user application directory.
func DefaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "syncwave"), nil
}

// Load reads config.yaml from the data dir (when present) and applies
// SYNCWAVE_* environment overrides.
func Load() (*Config, error) {
	dataDir, err := DefaultDataDir()
	if err != nil {
		return nil, err
	}
	return load(dataDir)
}

func load(dataDir string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SYNCWAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("log_level", "info")
	v.SetDefault("batch_size", types.DefaultBatchSize)
	v.SetDefault("thread_count", types.DefaultThreadCount)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		DataDir:     v.GetString("data_dir"),
		LogLevel:    v.GetString("log_level"),
		BatchSize:   v.GetInt("batch_size"),
		ThreadCount: v.GetInt("thread_count"),
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = types.DefaultBatchSize
	}
	if cfg.ThreadCount <= 0 {
		cfg.ThreadCount = types.DefaultThreadCount
	}
	cfg.DBPath = filepath.Join(cfg.DataDir, "syncwave.db")
	return cfg, nil
}
