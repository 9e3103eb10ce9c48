// Package daemon provides the background sync daemon that orchestrates
// connectivity probing and spool-directory watching for the engine.
//
// The daemon:
//  1. Probes the remote store on an interval and feeds the result into the
//     engine's connectivity state machine
//  2. Watches a spool directory where the UI process drops collection
//     snapshots (attendance.json, schedule.json) and saves them through
//     the engine
//  3. Periodically flushes pending changes with a full sync once online
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kmorita/shiftsync/internal/engine"
	"github.com/kmorita/shiftsync/internal/record"
)

// Config holds configuration for the daemon.
type Config struct {
	// ProbeInterval is how often connectivity is checked.
	ProbeInterval time.Duration

	// FlushInterval is how often pending changes are sync-flushed.
	FlushInterval time.Duration

	// DebounceInterval is how long to wait before processing spool file
	// changes. This batches rapid updates together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval:    10 * time.Second,
		FlushInterval:    30 * time.Second,
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon drives the engine from connectivity signals and spool files.
type Daemon struct {
	engine   *engine.Engine
	spoolDir string
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> queued at
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance watching spoolDir.
func New(eng *engine.Engine, spoolDir string, config *Config) (*Daemon, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if spoolDir == "" {
		return nil, fmt.Errorf("spoolDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:      eng,
		spoolDir:    spoolDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// Import any snapshots that were spooled while we were down.
	d.importAllSpooled()

	if err := d.watcher.Add(d.spoolDir); err != nil {
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.spoolDir)

	d.wg.Add(4)
	go d.probeLoop()
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.flushLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()
	d.config.Logger.Println("Daemon stopped")
	return nil
}

// probeLoop feeds connectivity into the engine's state machine.
func (d *Daemon) probeLoop() {
	defer d.wg.Done()

	d.probeOnce()
	ticker := time.NewTicker(d.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.probeOnce()
		}
	}
}

func (d *Daemon) probeOnce() {
	online := d.engine.Ping(d.ctx)
	was := d.engine.Online()
	d.engine.SetOnline(online)
	if online != was {
		d.config.Logger.Printf("Connectivity: online=%v", online)
	}
}

// flushLoop periodically performs a full sync when changes are pending.
func (d *Daemon) flushLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if !d.engine.PendingChanges() || !d.engine.Online() {
				continue
			}
			d.config.Logger.Println("Flushing pending changes")
			if err := d.engine.SyncNow(d.ctx); err != nil {
				d.config.Logger.Printf("WARNING: flush failed: %v", err)
			}
		}
	}
}

// watchFileEvents monitors spool events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			d.config.Logger.Printf("Spool event: %s %s", event.Op, event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

// processChangeQueue imports queued spool files once they settle.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		if err := d.importSpoolFile(path); err != nil {
			d.config.Logger.Printf("WARNING: failed to import %s: %v", path, err)
		}
		delete(d.changeQueue, path)
	}
}

// importAllSpooled processes every snapshot already in the spool.
func (d *Daemon) importAllSpooled() {
	entries, err := os.ReadDir(d.spoolDir)
	if err != nil {
		d.config.Logger.Printf("WARNING: cannot read spool directory: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(d.spoolDir, entry.Name())
		if err := d.importSpoolFile(path); err != nil {
			d.config.Logger.Printf("WARNING: failed to import %s: %v", path, err)
		}
	}
}

// importSpoolFile saves one snapshot through the engine. The file name
// (without extension) names the collection; the file holds a JSON array
// of documents. The file is removed after a successful import.
func (d *Daemon) importSpoolFile(path string) error {
	name := strings.TrimSuffix(filepath.Base(path), ".json")
	kind, err := record.KindByName(name)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // deleted before we got to it
		}
		return fmt.Errorf("failed to read spool file: %w", err)
	}

	var docs []record.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	if err := d.engine.Save(d.ctx, kind, docs); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	d.config.Logger.Printf("Imported %d %s documents", len(docs), kind)
	return os.Remove(path)
}
