package engine

import (
	"context"
	"fmt"

	"github.com/kmorita/shiftsync/internal/record"
)

// cleanupOp is one explicit remote deletion awaiting replay. Exactly one
// of ID, Month or All is set.
type cleanupOp struct {
	Collection string
	ID         string
	Month      string
	All        bool
}

// deferCleanup journals a remote deletion that could not be issued and
// marks the engine unsynced. SyncNow drains the journal.
func (e *Engine) deferCleanup(op cleanupOp) {
	e.mu.Lock()
	e.cleanup = append(e.cleanup, op)
	e.mu.Unlock()
	e.markUnsynced()
}

func (e *Engine) hasDeferredCleanup() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cleanup) > 0
}

// replayCleanup issues every journaled deletion against the remote store.
// On failure the unsent remainder goes back into the journal so the
// pending flag cannot clear until everything has landed.
func (e *Engine) replayCleanup(ctx context.Context) error {
	e.mu.Lock()
	queue := e.cleanup
	e.cleanup = nil
	e.mu.Unlock()

	for i, op := range queue {
		var err error
		switch {
		case op.All:
			err = e.remote.DeleteAll(ctx, op.Collection)
		case op.Month != "":
			err = e.remote.DeleteMonth(ctx, op.Collection, op.Month)
		default:
			err = e.remote.DeleteDoc(ctx, op.Collection, op.ID)
		}
		if err != nil {
			e.mu.Lock()
			e.cleanup = append(queue[i:], e.cleanup...)
			e.mu.Unlock()
			return fmt.Errorf("replaying deferred delete for %s: %w", op.Collection, err)
		}
	}
	return nil
}

// DeleteAttendance removes a single attendance record by its composite
// identity. The in-memory snapshot is filtered and persisted through the
// normal save pipeline; the durable tier additionally drops the row
// directly so a below-threshold upsert pass cannot leave it behind.
func (e *Engine) DeleteAttendance(ctx context.Context, subjectID, date string) error {
	probe := record.AttendanceRecord{SubjectID: subjectID, Date: date, Category: "x"}
	if err := probe.Validate(); err != nil {
		return err
	}
	return e.deleteByIdentity(ctx, record.KindAttendance, probe.Identity())
}

// DeleteScheduleItem removes a single schedule item by id.
func (e *Engine) DeleteScheduleItem(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	return e.deleteByIdentity(ctx, record.KindSchedule, id)
}

func (e *Engine) deleteByIdentity(ctx context.Context, kind record.Kind, id string) error {
	docs, err := e.Load(ctx, kind)
	if err != nil {
		return fmt.Errorf("loading %s: %w", kind, err)
	}

	kept := docs[:0:0]
	removed := false
	for _, doc := range docs {
		if doc.ID == id {
			removed = true
			continue
		}
		kept = append(kept, doc)
	}
	if !removed {
		return nil // idempotent
	}

	if e.useLocal {
		if err := e.local.DeleteDoc(ctx, kind, id); err != nil {
			e.logger.Printf("WARNING: local delete failed for %s/%s: %v", kind, id, err)
		}
	}
	if err := e.Save(ctx, kind, kept); err != nil {
		return err
	}

	// A non-empty save diff-reconciles the remote side. The last record
	// of a collection has no diff write to ride on, so it gets a targeted
	// remote delete, journaled when the store is unreachable.
	if e.useRemote && len(kept) == 0 {
		if e.Online() {
			if err := e.remote.DeleteDoc(ctx, kind.Name(), id); err != nil {
				e.logger.Printf("WARNING: remote delete failed for %s/%s: %v", kind, id, err)
				e.deferCleanup(cleanupOp{Collection: kind.Name(), ID: id})
			}
		} else {
			e.deferCleanup(cleanupOp{Collection: kind.Name(), ID: id})
		}
	}
	return nil
}

// DeleteMonth removes every attendance record and schedule item dated in
// the given YYYY-MM month from all tiers. A remote failure is surfaced as
// a warning, not an error, when the local halves succeeded; the remote
// half is journaled and replayed by the next sync.
func (e *Engine) DeleteMonth(ctx context.Context, yearMonth string) error {
	if !record.ValidMonth(yearMonth) {
		return fmt.Errorf("invalid year-month %q", yearMonth)
	}

	localOK := true
	var affected []record.Kind
	for _, kind := range record.Kinds() {
		docs, err := e.Load(ctx, kind)
		if err != nil {
			return fmt.Errorf("loading %s: %w", kind, err)
		}

		kept := docs[:0:0]
		for _, doc := range docs {
			if record.MonthOf(kind.DateOf(doc)) == yearMonth {
				continue
			}
			kept = append(kept, doc)
		}
		if len(kept) == len(docs) {
			continue
		}
		affected = append(affected, kind)

		if e.useLocal {
			if _, err := e.local.DeleteMonth(ctx, kind, yearMonth); err != nil {
				e.logger.Printf("WARNING: local month delete failed for %s: %v", kind, err)
				localOK = false
			}
		}
		if !e.cache.Set(kind.CacheKey(), kept) {
			e.logger.Printf("WARNING: cache update failed for %s", kind)
		}
	}

	if e.useRemote {
		for _, kind := range affected {
			if e.Online() {
				err := e.remote.DeleteMonth(ctx, kind.Name(), yearMonth)
				if err == nil {
					continue
				}
				e.logger.Printf("WARNING: remote month delete failed for %s: %v", kind, err)
			}
			e.deferCleanup(cleanupOp{Collection: kind.Name(), Month: yearMonth})
			e.bus.publish(Event{
				Type:    EventWarning,
				Stage:   kind.Name(),
				Message: fmt.Sprintf("deleted %s locally, remote cleanup pending", yearMonth),
			})
		}
	}

	if !localOK {
		return fmt.Errorf("month delete incomplete for %s", yearMonth)
	}
	return nil
}

// ResetAll clears every tier directly. This is the only path that may
// empty the remote collections; an empty Save never does. An unreachable
// remote store defers its half to the cleanup journal.
func (e *Engine) ResetAll(ctx context.Context) error {
	var firstErr error

	if err := e.cache.Clear(); err != nil {
		e.logger.Printf("WARNING: cache clear failed: %v", err)
		firstErr = err
	}

	if e.useLocal {
		if err := e.local.ClearAll(ctx); err != nil {
			e.logger.Printf("WARNING: local clear failed: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if e.useRemote {
		for _, kind := range record.Kinds() {
			if e.Online() {
				err := e.remote.DeleteAll(ctx, kind.Name())
				if err == nil {
					continue
				}
				e.logger.Printf("WARNING: remote clear failed for %s: %v", kind, err)
			}
			e.deferCleanup(cleanupOp{Collection: kind.Name(), All: true})
			e.bus.publish(Event{
				Type:    EventWarning,
				Stage:   kind.Name(),
				Message: "reset locally, remote cleanup pending",
			})
		}
	}

	return firstErr
}
