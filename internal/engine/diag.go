package engine

import (
	"context"
	"fmt"

	"github.com/kmorita/shiftsync/internal/cache"
)

// HealthReport summarizes a per-tier health check.
type HealthReport struct {
	FastCache    bool `json:"fast_cache"`
	DurableStore bool `json:"durable_store"`
	RemoteStore  bool `json:"remote_store"`
	SuccessCount int  `json:"success_count"`
}

// UsageReport summarizes local storage consumption against the assumed
// capacity, plus the remote store's own estimate when reachable.
type UsageReport struct {
	TotalBytes     int64            `json:"total_bytes"`
	CapacityBytes  int64            `json:"capacity_bytes"`
	UsagePercent   float64          `json:"usage_percent"`
	AvailableBytes int64            `json:"available_bytes"`
	PerKey         []cache.KeyUsage `json:"per_key"`
	LocalDBBytes   int64            `json:"local_db_bytes"`
	RemoteBytes    int64            `json:"remote_bytes,omitempty"`
}

// Health probes every active tier. Disabled tiers count as unhealthy zero,
// not as failures.
func (e *Engine) Health(ctx context.Context) HealthReport {
	var report HealthReport

	report.FastCache = e.cache.HealthCheck()
	if report.FastCache {
		report.SuccessCount++
	}

	if e.useLocal {
		report.DurableStore = e.local.HealthCheck(ctx)
		if report.DurableStore {
			report.SuccessCount++
		}
	}

	if e.useRemote {
		report.RemoteStore = e.remote.Ping(ctx)
		if report.RemoteStore {
			report.SuccessCount++
		}
	}

	return report
}

// Ping probes the remote tier with a bounded wait. Always false when the
// remote tier is disabled.
func (e *Engine) Ping(ctx context.Context) bool {
	if !e.useRemote {
		return false
	}
	return e.remote.Ping(ctx)
}

// Usage measures local consumption (cache plus durable DB file) against
// the assumed capacity. The remote estimate is best-effort and does not
// count toward local usage.
func (e *Engine) Usage(ctx context.Context) (UsageReport, error) {
	report := UsageReport{CapacityBytes: e.capacity}

	cacheBytes, perKey, err := e.cache.Usage()
	if err != nil {
		return report, fmt.Errorf("measuring cache usage: %w", err)
	}
	report.PerKey = perKey
	report.TotalBytes = cacheBytes

	if e.useLocal {
		dbBytes, err := e.local.SizeBytes()
		if err != nil {
			e.logger.Printf("WARNING: failed to measure local db size: %v", err)
		} else {
			report.LocalDBBytes = dbBytes
			report.TotalBytes += dbBytes
		}
	}

	if e.useRemote && e.Online() {
		if remoteBytes, err := e.remote.EstimateUsage(ctx); err == nil {
			report.RemoteBytes = remoteBytes
		}
	}

	report.UsagePercent = float64(report.TotalBytes) / float64(report.CapacityBytes) * 100
	report.AvailableBytes = report.CapacityBytes - report.TotalBytes
	if report.AvailableBytes < 0 {
		report.AvailableBytes = 0
	}
	return report, nil
}

// StorageWarning returns an advisory message when local usage exceeds
// thresholdPercent of the assumed capacity. The bool reports whether a
// warning applies.
func (e *Engine) StorageWarning(ctx context.Context, thresholdPercent float64) (string, bool) {
	report, err := e.Usage(ctx)
	if err != nil {
		e.logger.Printf("WARNING: usage check failed: %v", err)
		return "", false
	}
	if report.UsagePercent <= thresholdPercent {
		return "", false
	}
	return fmt.Sprintf("local storage at %.1f%% of capacity (%d of %d bytes); consider deleting old months",
		report.UsagePercent, report.TotalBytes, report.CapacityBytes), true
}
