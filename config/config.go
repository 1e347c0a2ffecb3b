// Package config loads procwatch configuration from file, environment and
// defaults, in that order of precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DataPaths holds data directory and file path configuration.
type DataPaths struct {
	// DataDir is the base data directory (PROCWATCH_DATA_PATHS_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the SQLite database file path (default: ${DataDir}/procwatch.db)
	SQLitePath string `mapstructure:"sqlite_path"`
	// SchemaHintsPath is an optional YAML schema hints file
	SchemaHintsPath string `mapstructure:"schema_hints_path"`
}

// Config holds all configuration for the procwatch core.
type Config struct {
	DataPaths DataPaths `mapstructure:"data_paths"`

	Detection struct {
		// Sigma is the control-chart multiplier k; limits are mean ± k·σ
		Sigma float64 `mapstructure:"sigma" validate:"gt=0"`
		// MinSamples gates the stored baseline; below it scoring uses in-batch stats
		MinSamples int64 `mapstructure:"min_samples" validate:"gte=1"`
		// SnapshotCacheSize is the baseline snapshot LRU size
		SnapshotCacheSize int `mapstructure:"snapshot_cache_size" validate:"gte=1"`
	} `mapstructure:"detection"`

	Backfill struct {
		// Parallelism is how many batches a sweep scores concurrently
		Parallelism int `mapstructure:"parallelism" validate:"gte=1"`
	} `mapstructure:"backfill"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port" validate:"gte=0,lte=65535"`
	} `mapstructure:"metrics"`
}

// LoadConfig reads procwatch.yaml (working directory or /etc/procwatch),
// applies PROCWATCH_* environment overrides and validates the result.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("procwatch")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/procwatch")

	v.SetEnvPrefix("PROCWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataPaths.SQLitePath == "" {
		cfg.DataPaths.SQLitePath = cfg.DataPaths.DataDir + "/procwatch.db"
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_paths.data_dir", "./data")
	v.SetDefault("data_paths.sqlite_path", "")
	v.SetDefault("data_paths.schema_hints_path", "")
	v.SetDefault("detection.sigma", 3.0)
	v.SetDefault("detection.min_samples", 2)
	v.SetDefault("detection.snapshot_cache_size", 128)
	v.SetDefault("backfill.parallelism", 4)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
}
