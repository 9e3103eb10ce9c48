// Package remote provides the client for the networked document store that
// serves as the authoritative tier.
//
// The store is organized into named collections of documents plus a flat
// settings namespace. Writes to a collection go through a diff-based
// reconciliation (see WriteCollection) that issues only the operations
// needed to transform the remote snapshot into the local one, committed in
// capped batches.
//
// API surface (JSON over HTTP):
//
//	GET    {base}/v1/collections/{name}/documents
//	POST   {base}/v1/collections/{name}:commit
//	DELETE {base}/v1/collections/{name}/documents[?month=YYYY-MM]
//	GET    {base}/v1/settings/{key}
//	PUT    {base}/v1/settings/{key}
//	GET    {base}/v1/usage
//	GET    {base}/v1/healthz
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kmorita/shiftsync/internal/record"
)

const (
	// DefaultBatchSize caps the operations per commit, chosen to stay
	// under the store's per-batch ceiling of 500.
	DefaultBatchSize = 450

	// DefaultTimeout bounds individual HTTP calls.
	DefaultTimeout = 15 * time.Second

	// ProbeTimeout bounds connectivity probes; past this the store is
	// concluded unreachable rather than waiting.
	ProbeTimeout = 3 * time.Second
)

// ReadStatus distinguishes the three outcomes of a collection read. An
// empty collection that the store actually served is not the same thing as
// an unreachable store, and the orchestrator's fallback policy depends on
// telling them apart.
type ReadStatus int

const (
	// ReadFound means the store returned one or more documents.
	ReadFound ReadStatus = iota
	// ReadEmpty means the store answered with a legitimately empty collection.
	ReadEmpty
	// ReadUnavailable means the store could not be reached or errored.
	ReadUnavailable
)

// String returns a human-readable representation of the status.
func (s ReadStatus) String() string {
	switch s {
	case ReadFound:
		return "found"
	case ReadEmpty:
		return "empty"
	case ReadUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the document store endpoint, e.g. https://store.example.com
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// BatchSize caps operations per commit (default DefaultBatchSize).
	BatchSize int

	// Timeout bounds individual HTTP calls (default DefaultTimeout).
	Timeout time.Duration

	// Retry controls backoff for non-diff operations.
	Retry RetryPolicy

	// Logger for client activity (default: stderr logger).
	Logger *log.Logger
}

// Client talks to the remote document store.
type Client struct {
	base      *url.URL
	apiKey    string
	batchSize int
	httpc     *http.Client
	retry     RetryPolicy
	logger    *log.Logger
}

// New creates a client from config. The base URL must be absolute.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		base:      base,
		apiKey:    cfg.APIKey,
		batchSize: cfg.BatchSize,
		httpc:     &http.Client{Timeout: cfg.Timeout},
		retry:     cfg.Retry,
		logger:    cfg.Logger,
	}, nil
}

// BatchSize returns the configured per-commit operation cap.
func (c *Client) BatchSize() int { return c.batchSize }

// ReadCollection fetches the full remote collection.
//
// The tri-state status lets the caller distinguish a legitimately empty
// collection from an unreachable store; only the latter should fall back
// to cheaper tiers.
func (c *Client) ReadCollection(ctx context.Context, name string) ([]record.Document, ReadStatus, error) {
	var docs []record.Document
	err := withRetry(ctx, c.retry, func() error {
		var resp struct {
			Documents []record.Document `json:"documents"`
		}
		if err := c.do(ctx, http.MethodGet, c.collectionPath(name, "/documents"), nil, &resp); err != nil {
			return err
		}
		docs = resp.Documents
		return nil
	})
	if err != nil {
		return nil, ReadUnavailable, fmt.Errorf("failed to read collection %s: %w", name, err)
	}
	if len(docs) == 0 {
		return nil, ReadEmpty, nil
	}
	return docs, ReadFound, nil
}

// DeleteMonth removes every document in the collection whose date falls in
// the given YYYY-MM month. The store filters by the indexed date field.
func (c *Client) DeleteMonth(ctx context.Context, name, yearMonth string) error {
	if !record.ValidMonth(yearMonth) {
		return fmt.Errorf("invalid year-month %q", yearMonth)
	}
	path := c.collectionPath(name, "/documents") + "?month=" + url.QueryEscape(yearMonth)
	err := withRetry(ctx, c.retry, func() error {
		return c.do(ctx, http.MethodDelete, path, nil, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s month %s: %w", name, yearMonth, err)
	}
	return nil
}

// DeleteDoc removes a single document by id, issued as a one-op commit.
// Unlike a multi-op batch this is idempotent, so it rides the retry helper.
func (c *Client) DeleteDoc(ctx context.Context, name, id string) error {
	if id == "" {
		return fmt.Errorf("document id cannot be empty")
	}
	err := withRetry(ctx, c.retry, func() error {
		return c.commitBatch(ctx, name, []writeOp{{Op: "delete", ID: id}})
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", name, id, err)
	}
	return nil
}

// DeleteAll removes every document in the collection.
func (c *Client) DeleteAll(ctx context.Context, name string) error {
	err := withRetry(ctx, c.retry, func() error {
		return c.do(ctx, http.MethodDelete, c.collectionPath(name, "/documents"), nil, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to clear collection %s: %w", name, err)
	}
	return nil
}

// ReadSetting reads a setting into out. The bool reports presence; out is
// untouched when the key is absent.
func (c *Client) ReadSetting(ctx context.Context, key string, out any) (bool, error) {
	found := false
	err := withRetry(ctx, c.retry, func() error {
		var resp struct {
			Value json.RawMessage `json:"value"`
		}
		err := c.do(ctx, http.MethodGet, "/v1/settings/"+url.PathEscape(key), nil, &resp)
		if err != nil {
			if isNotFound(err) {
				found = false
				return nil
			}
			return err
		}
		if len(resp.Value) == 0 {
			found = false
			return nil
		}
		if err := json.Unmarshal(resp.Value, out); err != nil {
			return fmt.Errorf("failed to decode setting %s: %w", key, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return found, nil
}

// WriteSetting stores a setting value.
func (c *Client) WriteSetting(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal setting %s: %w", key, err)
	}
	body := map[string]json.RawMessage{"value": data}
	err = withRetry(ctx, c.retry, func() error {
		return c.do(ctx, http.MethodPut, "/v1/settings/"+url.PathEscape(key), body, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// EstimateUsage returns the store's reported byte usage.
func (c *Client) EstimateUsage(ctx context.Context) (int64, error) {
	var usage int64
	err := withRetry(ctx, c.retry, func() error {
		var resp struct {
			Bytes int64 `json:"bytes"`
		}
		if err := c.do(ctx, http.MethodGet, "/v1/usage", nil, &resp); err != nil {
			return err
		}
		usage = resp.Bytes
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to estimate usage: %w", err)
	}
	return usage, nil
}

// Ping probes the store with a bounded wait. It answers reachable/not
// rather than returning an error; an unreachable store is an expected
// state, not a failure. The retry here uses a compressed backoff so all
// attempts fit inside the probe budget.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	probe := RetryPolicy{Attempts: c.retry.Attempts, BaseDelay: 250 * time.Millisecond}
	return withRetry(ctx, probe, func() error {
		return c.do(ctx, http.MethodGet, "/v1/healthz", nil, nil)
	}) == nil
}

// statusError carries an unexpected HTTP status through the retry helper.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code == http.StatusNotFound
}

func (c *Client) collectionPath(name, suffix string) string {
	return "/v1/collections/" + url.PathEscape(name) + suffix
}

// do issues one HTTP call, encoding body as JSON when non-nil and decoding
// the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	// path may carry a query string
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("invalid request path %q: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(ref).String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
