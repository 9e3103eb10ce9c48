// Package config loads application configuration from a YAML file with
// SHIFTSYNC_* environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the application's global configuration.
type Config struct {
	Remote  RemoteConfig  `mapstructure:"remote"`
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`
	Log     LogConfig     `mapstructure:"log"`
}

// RemoteConfig configures the remote document store client.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
	Enabled bool          `mapstructure:"enabled"`
}

// StorageConfig configures the local tiers.
type StorageConfig struct {
	DataDir         string `mapstructure:"data_dir"`
	CacheQuotaBytes int64  `mapstructure:"cache_quota_bytes"`
	CapacityBytes   int64  `mapstructure:"capacity_bytes"`
	LocalEnabled    bool   `mapstructure:"local_enabled"`
}

// SyncConfig tunes batching and retry.
type SyncConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

// DaemonConfig tunes the background daemon.
type DaemonConfig struct {
	SpoolDir         string        `mapstructure:"spool_dir"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
	DebounceInterval time.Duration `mapstructure:"debounce_interval"`
	DashboardPort    int           `mapstructure:"dashboard_port"`
}

// LogConfig configures the rotating log file.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads configuration from path (or the defaults when path is "")
// and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SHIFTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("shiftsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/shiftsync")
		if err := v.ReadInConfig(); err != nil {
			// Missing config is fine; defaults + env apply.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("remote.enabled", true)
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("storage.data_dir", ".shiftsync")
	v.SetDefault("storage.cache_quota_bytes", 5*1024*1024)
	v.SetDefault("storage.capacity_bytes", 50*1024*1024)
	v.SetDefault("storage.local_enabled", true)
	v.SetDefault("sync.batch_size", 450)
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("sync.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("daemon.probe_interval", 10*time.Second)
	v.SetDefault("daemon.flush_interval", 30*time.Second)
	v.SetDefault("daemon.debounce_interval", 200*time.Millisecond)
	v.SetDefault("daemon.dashboard_port", 8080)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// Validate checks cross-field constraints and fills derived paths.
func (c *Config) Validate() error {
	if c.Remote.Enabled && c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required when remote is enabled")
	}
	if c.Sync.BatchSize <= 0 || c.Sync.BatchSize > 500 {
		return fmt.Errorf("sync.batch_size must be in (0, 500] (got %d)", c.Sync.BatchSize)
	}
	if c.Sync.RetryAttempts <= 0 {
		return fmt.Errorf("sync.retry_attempts must be positive")
	}
	if c.Daemon.SpoolDir == "" {
		c.Daemon.SpoolDir = filepath.Join(c.Storage.DataDir, "spool")
	}
	return nil
}

// CachePath returns the fast cache directory.
func (c *Config) CachePath() string {
	return filepath.Join(c.Storage.DataDir, "cache")
}

// DBPath returns the durable local store file.
func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, "local.db")
}
