// Package cache implements the fast cache tier: a synchronous key to
// serialized-value store with a small fixed quota.
//
// Values are JSON-serialized, one file per key, written with atomic replace
// so a crashed writer never leaves a torn value. Failures (serialization
// errors, quota exhaustion) are reported as a false return, never as a
// panic or an error that aborts the caller; the orchestrator treats a
// failed cache write as a degraded-but-non-fatal condition.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// DefaultQuota is the total byte budget across all keys.
const DefaultQuota = 5 * 1024 * 1024

const valueExt = ".val"

// ErrQuotaExceeded is returned by usage introspection when a value would
// not fit; Set itself converts it into a false return.
var ErrQuotaExceeded = errors.New("cache quota exceeded")

// Cache is a file-backed synchronous key-value store.
type Cache struct {
	dir    string
	quota  int64
	logger *log.Logger
}

// KeyUsage reports the stored size of one key.
type KeyUsage struct {
	Key   string `json:"key"`
	Bytes int64  `json:"bytes"`
}

// New creates a cache rooted at dir. A quota <= 0 selects DefaultQuota.
// If logger is nil, a default logger writing to stderr is used.
func New(dir string, quota int64, logger *log.Logger) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache dir cannot be empty")
	}
	if quota <= 0 {
		quota = DefaultQuota
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{dir: dir, quota: quota, logger: logger}, nil
}

// Set serializes value and stores it under key. Returns false when
// serialization fails or the quota would be exceeded; the failure is
// logged and the previous value for key is left intact.
func (c *Cache) Set(key string, value any) bool {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Printf("WARNING: failed to serialize %s: %v", key, err)
		return false
	}

	used, _, err := c.usageExcluding(key)
	if err != nil {
		c.logger.Printf("WARNING: failed to measure cache usage: %v", err)
		return false
	}
	if used+int64(len(data)) > c.quota {
		c.logger.Printf("WARNING: quota exceeded writing %s (%d bytes, %d used of %d)",
			key, len(data), used, c.quota)
		return false
	}

	if err := atomic.WriteFile(c.path(key), bytes.NewReader(data)); err != nil {
		c.logger.Printf("WARNING: failed to write %s: %v", key, err)
		return false
	}
	return true
}

// Get reads the value stored under key into out. Returns false when the
// key is absent or the stored value cannot be deserialized; out is left
// untouched in that case so callers can pre-load it with a default.
func (c *Cache) Get(key string, out any) bool {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Printf("WARNING: failed to read %s: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Printf("WARNING: corrupt cache value for %s: %v", key, err)
		return false
	}
	return true
}

// Delete removes key. Missing keys are not an error.
func (c *Cache) Delete(key string) error {
	err := os.Remove(c.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cache key %s: %w", key, err)
	}
	return nil
}

// Clear removes every stored key.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("reading cache directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), valueExt) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			return fmt.Errorf("removing %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Usage reports total stored bytes and the per-key breakdown.
func (c *Cache) Usage() (int64, []KeyUsage, error) {
	return c.usageExcluding("")
}

// Quota returns the configured byte budget.
func (c *Cache) Quota() int64 { return c.quota }

// HealthCheck writes and reads back a probe key.
func (c *Cache) HealthCheck() bool {
	const probe = "__health_probe"
	if !c.Set(probe, "ok") {
		return false
	}
	var got string
	ok := c.Get(probe, &got) && got == "ok"
	_ = c.Delete(probe)
	return ok
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+valueExt)
}

// usageExcluding sums stored sizes, skipping exclude so Set can measure
// the budget a replacement value must fit into.
func (c *Cache) usageExcluding(exclude string) (int64, []KeyUsage, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, nil, fmt.Errorf("reading cache directory: %w", err)
	}

	var total int64
	var perKey []KeyUsage
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), valueExt) {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), valueExt)
		if key == exclude {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
		perKey = append(perKey, KeyUsage{Key: key, Bytes: info.Size()})
	}
	return total, perKey, nil
}
