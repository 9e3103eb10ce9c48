// Command shiftsync manages the multi-tier shift data store: a fast local
// cache, a durable SQLite store and a remote document store, kept
// consistent by diff-based synchronization.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kmorita/shiftsync/internal/cache"
	"github.com/kmorita/shiftsync/internal/config"
	"github.com/kmorita/shiftsync/internal/engine"
	"github.com/kmorita/shiftsync/internal/local"
	"github.com/kmorita/shiftsync/internal/remote"
)

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "shiftsync",
	Short: "Multi-tier persistence and sync engine for shift data",
	Long: `shiftsync keeps shift assignments and schedules consistent across
three storage tiers: a fast local cache, a durable SQLite store and a
remote document store.

Writes land locally first and are reconciled against the remote store
with a diff-based sync that touches only changed records. When the
device is offline, changes accumulate and are flushed once
connectivity returns.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log to stderr as well as the log file")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(benchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles the wired storage stack for a command invocation.
type app struct {
	cfg    *config.Config
	engine *engine.Engine
	local  *local.DB
	logger *log.Logger
}

// close releases the durable store.
func (a *app) close() {
	if a.local != nil {
		_ = a.local.Close()
	}
}

// buildApp constructs the tier clients and the engine from configuration.
// The engine owns nothing globally; every command wires its own instance.
func buildApp() (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	fastCache, err := cache.New(cfg.CachePath(), cfg.Storage.CacheQuotaBytes, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	var db *local.DB
	if cfg.Storage.LocalEnabled {
		db, err = local.Open(cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open local store: %w", err)
		}
		if err := db.InitSchema(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize local schema: %w", err)
		}
	}

	var remoteClient *remote.Client
	if cfg.Remote.Enabled {
		remoteClient, err = remote.New(remote.Config{
			BaseURL:   cfg.Remote.BaseURL,
			APIKey:    cfg.Remote.APIKey,
			BatchSize: cfg.Sync.BatchSize,
			Timeout:   cfg.Remote.Timeout,
			Retry: remote.RetryPolicy{
				Attempts:  cfg.Sync.RetryAttempts,
				BaseDelay: cfg.Sync.RetryBaseDelay,
			},
			Logger: logger,
		})
		if err != nil {
			if db != nil {
				_ = db.Close()
			}
			return nil, fmt.Errorf("failed to build remote client: %w", err)
		}
	}

	engCfg := engine.Config{
		Cache:         fastCache,
		UseLocal:      cfg.Storage.LocalEnabled,
		UseRemote:     cfg.Remote.Enabled,
		CapacityBytes: cfg.Storage.CapacityBytes,
		Logger:        logger,
	}
	if db != nil {
		engCfg.Local = db
	}
	if remoteClient != nil {
		engCfg.Remote = remoteClient
	}

	eng, err := engine.New(engCfg)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}

	return &app{cfg: cfg, engine: eng, local: db, logger: logger}, nil
}

// newLogger writes to the rotating log file when configured, optionally
// teeing to stderr with --verbose.
func newLogger(cfg *config.Config) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.Log.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		}
		if flagVerbose {
			out = io.MultiWriter(rotating, os.Stderr)
		} else {
			out = rotating
		}
	}
	return log.New(out, "[shiftsync] ", log.LstdFlags)
}
