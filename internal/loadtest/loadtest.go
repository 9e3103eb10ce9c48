// Package loadtest provides load testing utilities for the storage
// engine: synthetic collection generators plus save/load latency
// measurement against a fully wired engine.
package loadtest

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/kmorita/shiftsync/internal/engine"
	"github.com/kmorita/shiftsync/internal/record"
)

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration
	P95          time.Duration
	P99          time.Duration
	TotalOps     int
	Errors       int
	Durations    []time.Duration
}

// Options configures a load test run.
type Options struct {
	// Subjects is how many distinct subject ids to generate.
	Subjects int

	// Days is how many consecutive calendar days to cover.
	Days int

	// Rounds is how many save/load cycles to measure.
	Rounds int

	// Seed makes runs reproducible.
	Seed int64
}

// DefaultOptions returns a moderate workload.
func DefaultOptions() Options {
	return Options{Subjects: 30, Days: 31, Rounds: 10, Seed: 1}
}

var categories = []string{"early", "day", "late", "night", "off"}

// GenerateAttendance creates subjects*days synthetic attendance records
// starting from the given month.
func GenerateAttendance(opts Options, start time.Time) []record.AttendanceRecord {
	rng := rand.New(rand.NewSource(opts.Seed))
	records := make([]record.AttendanceRecord, 0, opts.Subjects*opts.Days)
	for s := 0; s < opts.Subjects; s++ {
		subjectID := fmt.Sprintf("subject-%03d", s)
		for d := 0; d < opts.Days; d++ {
			date := start.AddDate(0, 0, d).Format("2006-01-02")
			records = append(records, record.AttendanceRecord{
				SubjectID:   subjectID,
				Date:        date,
				Category:    categories[rng.Intn(len(categories))],
				DisplayName: fmt.Sprintf("Subject %d", s),
			})
		}
	}
	return records
}

// Run measures save and load latency over the configured rounds. Each
// round perturbs a few records so the diff path does real work.
func Run(ctx context.Context, eng *engine.Engine, opts Options) (*LatencyStats, error) {
	if opts.Subjects <= 0 || opts.Days <= 0 || opts.Rounds <= 0 {
		return nil, fmt.Errorf("subjects, days and rounds must be positive")
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	start := time.Now().AddDate(0, 0, -opts.Days)
	records := GenerateAttendance(opts, start)

	stats := &LatencyStats{}
	for round := 0; round < opts.Rounds; round++ {
		// Perturb ~1% of records per round.
		for i := 0; i < len(records)/100+1; i++ {
			records[rng.Intn(len(records))].Category =
				categories[rng.Intn(len(categories))]
		}
		docs, _ := record.AttendanceDocs(records)

		began := time.Now()
		err := eng.Save(ctx, record.KindAttendance, docs)
		stats.Durations = append(stats.Durations, time.Since(began))
		stats.TotalOps++
		if err != nil {
			stats.Errors++
			continue
		}

		began = time.Now()
		_, err = eng.Load(ctx, record.KindAttendance)
		stats.Durations = append(stats.Durations, time.Since(began))
		stats.TotalOps++
		if err != nil {
			stats.Errors++
		}
	}

	stats.compute()
	return stats, nil
}

// compute fills the percentile fields from the collected durations.
func (s *LatencyStats) compute() {
	if len(s.Durations) == 0 {
		return
	}
	sorted := make([]time.Duration, len(s.Durations))
	copy(sorted, s.Durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	s.Mean = total / time.Duration(len(sorted))

	s.P50 = sorted[len(sorted)*50/100]
	s.P95 = sorted[min(len(sorted)*95/100, len(sorted)-1)]
	s.P99 = sorted[min(len(sorted)*99/100, len(sorted)-1)]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// String renders the stats for CLI output.
func (s *LatencyStats) String() string {
	return fmt.Sprintf(
		"ops=%d errors=%d min=%v max=%v mean=%v p50=%v p95=%v p99=%v",
		s.TotalOps, s.Errors, s.Min, s.Max, s.Mean, s.P50, s.P95, s.P99)
}
