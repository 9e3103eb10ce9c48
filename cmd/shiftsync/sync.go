package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kmorita/shiftsync/internal/daemon"
	"github.com/kmorita/shiftsync/internal/dashboard"
	"github.com/kmorita/shiftsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Full sync of local data to the remote store",
	Long: `Push the durable local snapshot of every collection to the remote
store using the diff-based write: only changed records are touched.

The sync requires connectivity; when the remote store is unreachable
the command fails and local data is left pending.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if !a.engine.Ping(ctx) {
			return fmt.Errorf("remote store unreachable")
		}
		a.engine.SetOnline(true)

		fmt.Printf("%s Syncing...\n", ui.RenderAccent("→"))
		start := time.Now()
		if err := a.engine.SyncNow(ctx); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		fmt.Printf("%s Sync complete in %v\n", ui.RenderSuccess("✓"), time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run the daemon that probes connectivity, watches the spool
directory for snapshots dropped by the UI process, and flushes pending
changes to the remote store once online.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		d, err := daemon.New(a.engine, a.cfg.Daemon.SpoolDir, &daemon.Config{
			ProbeInterval:    a.cfg.Daemon.ProbeInterval,
			FlushInterval:    a.cfg.Daemon.FlushInterval,
			DebounceInterval: a.cfg.Daemon.DebounceInterval,
			Logger:           a.logger,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%s Daemon running (spool: %s)\n", ui.RenderAccent("●"), a.cfg.Daemon.SpoolDir)
		return d.Start(ctx)
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Serve the real-time sync dashboard",
	Long: `Serve a WebSocket endpoint that broadcasts engine events (state
transitions, sync progress, warnings) to connected clients, alongside
the background daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		srv := dashboard.NewServer(a.engine, &dashboard.Config{
			Port:   a.cfg.Daemon.DashboardPort,
			Logger: a.logger,
		})
		if err := srv.Start(); err != nil {
			return err
		}
		fmt.Printf("%s Dashboard on %s\n", ui.RenderAccent("●"), srv.GetAddr())

		d, err := daemon.New(a.engine, a.cfg.Daemon.SpoolDir, &daemon.Config{
			ProbeInterval:    a.cfg.Daemon.ProbeInterval,
			FlushInterval:    a.cfg.Daemon.FlushInterval,
			DebounceInterval: a.cfg.Daemon.DebounceInterval,
			Logger:           a.logger,
		})
		if err != nil {
			_ = srv.Stop()
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = d.Start(ctx)
		if stopErr := srv.Stop(); err == nil {
			err = stopErr
		}
		return err
	},
}
