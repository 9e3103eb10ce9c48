package loadtest

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kmorita/shiftsync/internal/cache"
	"github.com/kmorita/shiftsync/internal/engine"
)

func TestGenerateAttendance(t *testing.T) {
	opts := Options{Subjects: 3, Days: 5, Rounds: 1, Seed: 42}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	records := GenerateAttendance(opts, start)
	if len(records) != 15 {
		t.Fatalf("generated %d records, want 15", len(records))
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			t.Errorf("generated invalid record %+v: %v", r, err)
		}
	}

	// Same seed, same workload.
	again := GenerateAttendance(opts, start)
	for i := range records {
		if records[i] != again[i] {
			t.Fatalf("generation not reproducible at index %d", i)
		}
	}
}

func TestRun(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	fc, err := cache.New(filepath.Join(t.TempDir(), "cache"), 50*1024*1024, logger)
	if err != nil {
		t.Fatal(err)
	}
	eng, err := engine.New(engine.Config{Cache: fc, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}

	opts := Options{Subjects: 5, Days: 7, Rounds: 3, Seed: 1}
	stats, err := Run(context.Background(), eng, opts)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if stats.TotalOps != opts.Rounds*2 {
		t.Errorf("TotalOps = %d, want %d", stats.TotalOps, opts.Rounds*2)
	}
	if stats.Errors != 0 {
		t.Errorf("Errors = %d, want 0", stats.Errors)
	}
	if stats.P50 > stats.P95 || stats.P95 > stats.Max {
		t.Errorf("percentiles out of order: p50=%v p95=%v max=%v",
			stats.P50, stats.P95, stats.Max)
	}
	if stats.Min > stats.Mean {
		t.Errorf("min %v exceeds mean %v", stats.Min, stats.Mean)
	}

	summary := stats.String()
	for _, field := range []string{"p50", "p95", "ops"} {
		if !strings.Contains(summary, field) {
			t.Errorf("summary missing %q: %s", field, summary)
		}
	}
}

func TestRunValidatesOptions(t *testing.T) {
	eng, err := engine.New(engine.Config{
		Cache:  mustCache(t),
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Run(context.Background(), eng, Options{}); err == nil {
		t.Error("Run() accepted a zero workload")
	}
}

func mustCache(t *testing.T) *cache.Cache {
	t.Helper()
	fc, err := cache.New(filepath.Join(t.TempDir(), "cache"), 0, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	return fc
}
