package daemon

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kmorita/shiftsync/internal/cache"
	"github.com/kmorita/shiftsync/internal/engine"
	"github.com/kmorita/shiftsync/internal/record"
)

func testDaemon(t *testing.T) (*Daemon, *engine.Engine, string) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)

	fc, err := cache.New(filepath.Join(t.TempDir(), "cache"), 0, logger)
	if err != nil {
		t.Fatal(err)
	}
	eng, err := engine.New(engine.Config{Cache: fc, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}

	spoolDir := filepath.Join(t.TempDir(), "spool")
	cfg := DefaultConfig()
	cfg.Logger = logger
	cfg.DebounceInterval = 10 * time.Millisecond
	d, err := New(eng, spoolDir, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = d.watcher.Close() })
	return d, eng, spoolDir
}

func writeSpool(t *testing.T, dir, name string, records []record.AttendanceRecord) string {
	t.Helper()
	docs, skipped := record.AttendanceDocs(records)
	if skipped != 0 {
		t.Fatalf("%d records skipped", skipped)
	}
	data, err := json.Marshal(docs)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportSpoolFile(t *testing.T) {
	d, eng, spoolDir := testDaemon(t)

	path := writeSpool(t, spoolDir, "attendance.json", []record.AttendanceRecord{
		{SubjectID: "s1", Date: "2025-01-10", Category: "day"},
		{SubjectID: "s2", Date: "2025-01-11", Category: "late"},
	})

	if err := d.importSpoolFile(path); err != nil {
		t.Fatalf("importSpoolFile() failed: %v", err)
	}

	docs, err := eng.Load(context.Background(), record.KindAttendance)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("engine holds %d docs, want 2", len(docs))
	}

	// Consumed snapshots leave the spool.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("spool file survived a successful import")
	}
}

func TestImportSpoolFileRejectsUnknown(t *testing.T) {
	d, _, spoolDir := testDaemon(t)

	path := filepath.Join(spoolDir, "unknown.json")
	if err := os.WriteFile(path, []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := d.importSpoolFile(path); err == nil {
		t.Error("importSpoolFile() accepted an unknown collection name")
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("rejected spool file was removed")
	}
}

func TestImportSpoolFileInvalidJSON(t *testing.T) {
	d, _, spoolDir := testDaemon(t)

	path := filepath.Join(spoolDir, "attendance.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := d.importSpoolFile(path); err == nil {
		t.Error("importSpoolFile() accepted malformed JSON")
	}
}

func TestImportAllSpooled(t *testing.T) {
	d, eng, spoolDir := testDaemon(t)

	writeSpool(t, spoolDir, "attendance.json", []record.AttendanceRecord{
		{SubjectID: "s1", Date: "2025-01-10", Category: "day"},
	})
	// Non-JSON files are ignored.
	if err := os.WriteFile(filepath.Join(spoolDir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	d.importAllSpooled()

	docs, err := eng.Load(context.Background(), record.KindAttendance)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Errorf("engine holds %d docs, want 1", len(docs))
	}
}

func TestProcessPendingChangesDebounce(t *testing.T) {
	d, eng, spoolDir := testDaemon(t)

	path := writeSpool(t, spoolDir, "attendance.json", []record.AttendanceRecord{
		{SubjectID: "s1", Date: "2025-01-10", Category: "day"},
	})

	// A freshly queued change has not settled yet.
	d.queueChange(path)
	d.changeQueueMu.Lock()
	d.changeQueue[path] = time.Now()
	d.changeQueueMu.Unlock()
	d.processPendingChanges()
	if _, err := os.Stat(path); err != nil {
		t.Fatal("file imported before the debounce interval elapsed")
	}

	// Backdate the queue entry past the interval.
	d.changeQueueMu.Lock()
	d.changeQueue[path] = time.Now().Add(-2 * d.config.DebounceInterval)
	d.changeQueueMu.Unlock()
	d.processPendingChanges()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("settled file was not imported")
	}
	docs, _ := eng.Load(context.Background(), record.KindAttendance)
	if len(docs) != 1 {
		t.Errorf("engine holds %d docs, want 1", len(docs))
	}
}

func TestStartAndStop(t *testing.T) {
	d, _, _ := testDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, t.TempDir(), nil); err == nil {
		t.Error("New() accepted a nil engine")
	}

	logger := log.New(io.Discard, "", 0)
	fc, err := cache.New(filepath.Join(t.TempDir(), "cache"), 0, logger)
	if err != nil {
		t.Fatal(err)
	}
	eng, err := engine.New(engine.Config{Cache: fc, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(eng, "", nil); err == nil {
		t.Error("New() accepted an empty spool dir")
	}
}
