// Package engine implements the sync orchestrator: the single facade that
// composes the fast cache, durable local store and remote store behind one
// read/write API.
//
// Tier-priority policy:
//   - writes go cache -> local -> remote, in that order, and succeed when
//     any tier succeeds (a local-only save is still a save);
//   - reads try remote (when online), fall back to local, fall back to
//     cache, and backfill the cheaper tiers with whatever they found.
//
// The engine owns its tier clients explicitly - they are injected at
// construction, never reached through package-level singletons - and it
// publishes state transitions and progress on a subscribable event stream
// instead of nested callbacks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/kmorita/shiftsync/internal/cache"
	"github.com/kmorita/shiftsync/internal/record"
	"github.com/kmorita/shiftsync/internal/remote"
)

// ErrAllTiersFailed is returned when every active tier rejected a write.
// The caller's in-memory state is unchanged in that case.
var ErrAllTiersFailed = errors.New("all storage tiers failed")

// FastCache is the synchronous cache tier contract.
type FastCache interface {
	Set(key string, value any) bool
	Get(key string, out any) bool
	Delete(key string) error
	Clear() error
	Usage() (int64, []cache.KeyUsage, error)
	Quota() int64
	HealthCheck() bool
}

// LocalStore is the durable local tier contract.
type LocalStore interface {
	ReplaceCollection(ctx context.Context, kind record.Kind, docs []record.Document) (int, error)
	ReadCollection(ctx context.Context, kind record.Kind) ([]record.Document, error)
	DeleteDoc(ctx context.Context, kind record.Kind, id string) error
	DeleteMonth(ctx context.Context, kind record.Kind, yearMonth string) (int64, error)
	PutSetting(ctx context.Context, key string, value any) error
	GetSetting(ctx context.Context, key string, out any) (bool, error)
	Clear(ctx context.Context, kind record.Kind) error
	ClearAll(ctx context.Context) error
	HealthCheck(ctx context.Context) bool
	SizeBytes() (int64, error)
}

// RemoteStore is the authoritative remote tier contract.
type RemoteStore interface {
	ReadCollection(ctx context.Context, name string) ([]record.Document, remote.ReadStatus, error)
	WriteCollection(ctx context.Context, name string, docs []record.Document, onProgress remote.ProgressFunc) (remote.WriteStats, error)
	DeleteDoc(ctx context.Context, name, id string) error
	DeleteMonth(ctx context.Context, name, yearMonth string) error
	DeleteAll(ctx context.Context, name string) error
	ReadSetting(ctx context.Context, key string, out any) (bool, error)
	WriteSetting(ctx context.Context, key string, value any) error
	EstimateUsage(ctx context.Context) (int64, error)
	Ping(ctx context.Context) bool
}

// Config holds engine construction parameters.
type Config struct {
	Cache  FastCache
	Local  LocalStore
	Remote RemoteStore

	// UseLocal and UseRemote disable tiers without changing the wiring.
	UseLocal  bool
	UseRemote bool

	// CapacityBytes is the assumed local capacity used by storage-usage
	// diagnostics (default 50 MiB).
	CapacityBytes int64

	// Strategy resolves remote/local disagreement on reads
	// (default RemoteAuthoritative).
	Strategy ReconcileStrategy

	// Logger for engine activity (default: stderr logger).
	Logger *log.Logger
}

// Engine is the sync orchestrator.
type Engine struct {
	cache     FastCache
	local     LocalStore
	remote    RemoteStore
	useLocal  bool
	useRemote bool
	capacity  int64
	strategy  ReconcileStrategy
	logger    *log.Logger
	bus       *eventBus

	mu      sync.Mutex
	state   State
	online  bool
	pending bool
	dirty   bool

	// cleanup journals explicit remote deletions that could not be issued
	// (offline or failed). SyncNow replays it before any diff push; the
	// pending flag cannot clear while entries remain.
	cleanup []cleanupOp
}

// defaultCapacity is the assumed local capacity for usage diagnostics.
const defaultCapacity = 50 * 1024 * 1024

// New creates an engine from config. The cache tier is mandatory; local
// and remote are required only when their use flag is set.
func New(cfg Config) (*Engine, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache tier cannot be nil")
	}
	if cfg.UseLocal && cfg.Local == nil {
		return nil, fmt.Errorf("local tier enabled but nil")
	}
	if cfg.UseRemote && cfg.Remote == nil {
		return nil, fmt.Errorf("remote tier enabled but nil")
	}
	if cfg.CapacityBytes <= 0 {
		cfg.CapacityBytes = defaultCapacity
	}
	if cfg.Strategy == nil {
		cfg.Strategy = RemoteAuthoritative{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		cache:     cfg.Cache,
		local:     cfg.Local,
		remote:    cfg.Remote,
		useLocal:  cfg.UseLocal,
		useRemote: cfg.UseRemote,
		capacity:  cfg.CapacityBytes,
		strategy:  cfg.Strategy,
		logger:    cfg.Logger,
		bus:       newEventBus(),
		state:     StateIdle,
	}, nil
}

// Subscribe returns a channel of engine events and a cancel func. The
// channel is bounded; a subscriber that falls behind loses events rather
// than blocking the write path.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.bus.subscribe()
}

// Save writes a full collection snapshot through the tier pipeline:
// fast cache synchronously, then the durable local store, then (when
// online) the remote store's diff-based write.
//
// The result is success if any tier succeeded. When the remote store did
// not confirm the write - offline, disabled or failed - the mutation is
// recorded as unsynced and an advisory warning event is published.
//
// An empty docs slice is stored locally but never triggers remote
// deletions here; intentional clears go through ResetAll or DeleteMonth.
func (e *Engine) Save(ctx context.Context, kind record.Kind, docs []record.Document) error {
	stage := kind.Name()
	steps := e.activeTiers()
	step := 0

	// Tier 1: fast cache, synchronous.
	cacheOK := e.cache.Set(kind.CacheKey(), docs)
	if !cacheOK {
		e.logger.Printf("WARNING: cache write failed for %s", stage)
	}
	step++
	e.emitProgress(stage, step*100/steps)

	// Tier 2: durable local store.
	localOK := false
	if e.useLocal {
		written, err := e.local.ReplaceCollection(ctx, kind, docs)
		if err != nil {
			e.logger.Printf("WARNING: local write failed for %s: %v", stage, err)
		} else {
			localOK = true
			if written < len(docs) {
				e.logger.Printf("partial local write for %s: %d of %d", stage, written, len(docs))
			}
		}
		step++
		e.emitProgress(stage, step*100/steps)
	}

	// Tier 3: remote store, diff-based, only when online.
	remoteOK := false
	remoteActive := e.useRemote && e.Online() && len(docs) > 0
	if remoteActive {
		base := step * 100 / steps
		stats, err := e.remote.WriteCollection(ctx, stage, docs, func(percent int) {
			e.emitProgress(stage, base+percent/steps)
		})
		if err != nil {
			e.logger.Printf("WARNING: remote write failed for %s: %v", stage, err)
		} else {
			remoteOK = true
			e.logger.Printf("remote sync %s: %d upserts, %d deletes, %d batches",
				stage, stats.Upserts, stats.Deletes, stats.Batches)
		}
		step++
	}
	e.emitProgress(stage, 100)

	if !cacheOK && !localOK && !remoteOK {
		return fmt.Errorf("saving %s: %w", stage, ErrAllTiersFailed)
	}

	// An empty snapshot never awaits a remote push, so it raises no
	// pending state either.
	if e.useRemote && !remoteOK && len(docs) > 0 {
		e.markUnsynced()
		e.bus.publish(Event{
			Type:    EventWarning,
			Stage:   stage,
			Message: "saved locally, will sync later",
		})
	}
	return nil
}

// Load reads a collection through the tier-priority read path. Each tier
// overrides the previous only when it yields a non-empty result; the
// cheaper tiers are backfilled best-effort with whatever was found.
func (e *Engine) Load(ctx context.Context, kind record.Kind) ([]record.Document, error) {
	stage := kind.Name()

	// While deferred deletions await replay the remote snapshot is stale;
	// treating it as authoritative would resurrect the deleted data.
	if e.useRemote && e.Online() && !e.hasDeferredCleanup() {
		remoteDocs, status, err := e.remote.ReadCollection(ctx, stage)
		if err != nil {
			e.logger.Printf("WARNING: remote read failed for %s: %v", stage, err)
		}
		if status != remote.ReadUnavailable {
			localDocs := e.loadLocal(ctx, kind)
			docs := e.strategy.ChooseRead(status, remoteDocs, localDocs)
			if len(docs) > 0 {
				e.backfill(ctx, kind, docs)
				return docs, nil
			}
		}
	}

	if docs := e.loadLocal(ctx, kind); len(docs) > 0 {
		if !e.cache.Set(kind.CacheKey(), docs) {
			e.logger.Printf("WARNING: cache backfill failed for %s", stage)
		}
		return docs, nil
	}

	var docs []record.Document
	if e.cache.Get(kind.CacheKey(), &docs) && len(docs) > 0 {
		return docs, nil
	}
	return nil, nil
}

// loadLocal reads the durable tier, swallowing errors into a nil result.
func (e *Engine) loadLocal(ctx context.Context, kind record.Kind) []record.Document {
	if !e.useLocal {
		return nil
	}
	docs, err := e.local.ReadCollection(ctx, kind)
	if err != nil {
		e.logger.Printf("WARNING: local read failed for %s: %v", kind, err)
		return nil
	}
	return docs
}

// backfill pushes an authoritative snapshot down into the cheaper tiers.
// Best-effort: failures are logged and swallowed.
func (e *Engine) backfill(ctx context.Context, kind record.Kind, docs []record.Document) {
	if e.useLocal {
		if _, err := e.local.ReplaceCollection(ctx, kind, docs); err != nil {
			e.logger.Printf("WARNING: local backfill failed for %s: %v", kind, err)
		}
	}
	if !e.cache.Set(kind.CacheKey(), docs) {
		e.logger.Printf("WARNING: cache backfill failed for %s", kind)
	}
}

// SaveSetting writes a single setting through the same tier order.
func (e *Engine) SaveSetting(ctx context.Context, key string, value any) error {
	cacheOK := e.cache.Set(key, value)

	localOK := false
	if e.useLocal {
		if err := e.local.PutSetting(ctx, key, value); err != nil {
			e.logger.Printf("WARNING: local setting write failed for %s: %v", key, err)
		} else {
			localOK = true
		}
	}

	remoteOK := false
	if e.useRemote && e.Online() {
		if err := e.remote.WriteSetting(ctx, key, value); err != nil {
			e.logger.Printf("WARNING: remote setting write failed for %s: %v", key, err)
		} else {
			remoteOK = true
		}
	}

	if !cacheOK && !localOK && !remoteOK {
		return fmt.Errorf("saving setting %s: %w", key, ErrAllTiersFailed)
	}
	if e.useRemote && !remoteOK {
		e.markUnsynced()
	}
	return nil
}

// LoadSetting reads a setting with remote -> local -> cache priority.
// Returns false when no tier holds the key; out is untouched then.
func (e *Engine) LoadSetting(ctx context.Context, key string, out any) (bool, error) {
	if e.useRemote && e.Online() {
		found, err := e.remote.ReadSetting(ctx, key, out)
		if err != nil {
			e.logger.Printf("WARNING: remote setting read failed for %s: %v", key, err)
		} else if found {
			if e.useLocal {
				_ = e.local.PutSetting(ctx, key, out)
			}
			e.cache.Set(key, out)
			return true, nil
		}
	}

	if e.useLocal {
		found, err := e.local.GetSetting(ctx, key, out)
		if err != nil {
			e.logger.Printf("WARNING: local setting read failed for %s: %v", key, err)
		} else if found {
			e.cache.Set(key, out)
			return true, nil
		}
	}

	if e.cache.Get(key, out) {
		return true, nil
	}
	return false, nil
}

// SyncNow performs the explicit full sync: deferred remote deletions are
// replayed first, then every collection's durable snapshot is diffed
// against the remote store, and known settings are pushed. Drives
// PendingChanges -> Syncing -> Idle on success, or
// Syncing -> SyncError -> PendingChanges on any tier failure.
func (e *Engine) SyncNow(ctx context.Context) error {
	if !e.useRemote {
		return fmt.Errorf("remote tier disabled")
	}
	if !e.Online() {
		return fmt.Errorf("cannot sync while offline")
	}

	e.mu.Lock()
	e.setStateLocked(StateSyncing)
	e.mu.Unlock()

	// Deletions go first: a reset or month delete performed while the
	// store was unreachable must land before the snapshot diffs, or the
	// diff would reconcile against data the user already removed.
	firstErr := e.replayCleanup(ctx)
	for _, kind := range record.Kinds() {
		if firstErr != nil {
			break
		}
		// Push the durable local view; reconciliation happens inside the
		// diff write. Reading through the remote-first path here would
		// backfill over the very changes waiting to be pushed.
		source := e.loadLocal(ctx, kind)
		if len(source) == 0 && !e.useLocal {
			var docs []record.Document
			if e.cache.Get(kind.CacheKey(), &docs) {
				source = docs
			}
		}
		// An empty snapshot is never pushed; remote deletions flow
		// through the explicit delete operations only.
		if len(source) == 0 {
			continue
		}
		if _, err := e.remote.WriteCollection(ctx, kind.Name(), source, func(percent int) {
			e.emitProgress(kind.Name(), percent)
		}); err != nil {
			firstErr = fmt.Errorf("syncing %s: %w", kind.Name(), err)
			break
		}
	}

	if firstErr == nil {
		firstErr = e.pushSettings(ctx)
	}

	if firstErr != nil {
		e.mu.Lock()
		e.setStateLocked(StateSyncError)
		e.pending = true
		e.setStateLocked(StatePendingChanges)
		e.mu.Unlock()
		return firstErr
	}

	e.markSynced()
	e.bus.publish(Event{Type: EventSyncComplete, Message: "full sync complete"})
	return nil
}

// pushSettings copies every known setting from the durable tier to the
// remote store.
func (e *Engine) pushSettings(ctx context.Context) error {
	if !e.useLocal {
		return nil
	}
	keys := []string{
		record.SettingCurrentView,
		record.SettingCurrentDate,
		record.SettingSelectedSubject,
		record.SettingAdminMode,
	}
	for _, key := range keys {
		var value any
		found, err := e.local.GetSetting(ctx, key, &value)
		if err != nil || !found {
			continue
		}
		if err := e.remote.WriteSetting(ctx, key, value); err != nil {
			return fmt.Errorf("pushing setting %s: %w", key, err)
		}
	}
	return nil
}

// activeTiers counts the tiers a write will touch, for composite progress.
func (e *Engine) activeTiers() int {
	steps := 1 // cache
	if e.useLocal {
		steps++
	}
	if e.useRemote && e.Online() {
		steps++
	}
	return steps
}

func (e *Engine) emitProgress(stage string, percent int) {
	if percent > 100 {
		percent = 100
	}
	e.bus.publish(Event{Type: EventProgress, Stage: stage, Percent: percent})
}
