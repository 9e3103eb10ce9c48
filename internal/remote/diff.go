package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kmorita/shiftsync/internal/record"
)

// writeOp is one operation inside a commit batch.
type writeOp struct {
	Op   string          `json:"op"` // upsert, delete
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WriteStats summarizes one diff-based write.
type WriteStats struct {
	Upserts int
	Deletes int
	Batches int
}

// Total returns the number of operations issued.
func (s WriteStats) Total() int { return s.Upserts + s.Deletes }

// ProgressFunc receives throttled percentage updates during a write.
type ProgressFunc func(percent int)

// WriteCollection reconciles the remote collection to match docs.
//
// This is a true set-reconciliation diff, not a delete-all-write-all: the
// existing remote snapshot is fetched, compared against the incoming one
// by identity and serialized content, and only the changed records are
// touched. Writing the same snapshot twice issues zero operations the
// second time.
//
// Delete and upsert sets are partitioned into batches capped at the
// configured batch size and committed one batch at a time; each commit is
// its own HTTP round trip, so large collections never monopolize the
// caller. Progress is reported proportionally to committed operations and
// throttled to moves of five percentage points or more, plus the terminal
// 0 and 100 values.
func (c *Client) WriteCollection(ctx context.Context, name string, docs []record.Document, onProgress ProgressFunc) (WriteStats, error) {
	var stats WriteStats

	report := newProgressThrottle(onProgress)
	report.emit(0)

	// 1. Map incoming records by identity.
	incoming := make(map[string]record.Document, len(docs))
	for _, doc := range docs {
		incoming[doc.ID] = doc
	}

	// 2. Fetch the full existing remote collection.
	existing, status, err := c.ReadCollection(ctx, name)
	if err != nil && status == ReadUnavailable {
		return stats, fmt.Errorf("failed to fetch remote snapshot: %w", err)
	}

	// 3-5. Partition into deletes (remote-only), changed upserts and new
	// upserts. Matched records leave the incoming map so what remains is
	// exactly the set of new records.
	var ops []writeOp
	for _, remoteDoc := range existing {
		localDoc, ok := incoming[remoteDoc.ID]
		if !ok {
			ops = append(ops, writeOp{Op: "delete", ID: remoteDoc.ID})
			stats.Deletes++
			continue
		}
		if !jsonEqual(localDoc.Data, remoteDoc.Data) {
			ops = append(ops, writeOp{Op: "upsert", ID: localDoc.ID, Data: localDoc.Data})
			stats.Upserts++
		}
		delete(incoming, remoteDoc.ID)
	}
	for _, doc := range docs {
		if _, ok := incoming[doc.ID]; !ok {
			continue
		}
		ops = append(ops, writeOp{Op: "upsert", ID: doc.ID, Data: doc.Data})
		stats.Upserts++
	}

	if len(ops) == 0 {
		report.emit(100)
		return stats, nil
	}

	// 6. Commit in capped batches.
	committed := 0
	for start := 0; start < len(ops); start += c.batchSize {
		end := start + c.batchSize
		if end > len(ops) {
			end = len(ops)
		}
		if err := c.commitBatch(ctx, name, ops[start:end]); err != nil {
			return stats, fmt.Errorf("failed to commit batch %d: %w", stats.Batches+1, err)
		}
		stats.Batches++
		committed = end

		// 7. Proportional, throttled progress.
		report.emit(committed * 100 / len(ops))
	}

	report.emit(100)
	return stats, nil
}

// commitBatch sends one capped group of writes. Batch commits are not
// wrapped in the retry helper: a half-applied batch must surface to the
// orchestrator so the pending flag stays set.
func (c *Client) commitBatch(ctx context.Context, name string, ops []writeOp) error {
	body := map[string]any{"writes": ops}
	return c.do(ctx, http.MethodPost, c.collectionPath(name, ":commit"), body, nil)
}

// jsonEqual compares serialized content, tolerating whitespace differences
// between what we wrote and what the store echoes back.
func jsonEqual(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if err := json.Compact(&ca, a); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Compact(&cb, b); err != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

// progressThrottle suppresses updates that moved less than five points,
// always letting the terminal 0 and 100 values through.
type progressThrottle struct {
	fn   ProgressFunc
	last int
}

func newProgressThrottle(fn ProgressFunc) *progressThrottle {
	return &progressThrottle{fn: fn, last: -1}
}

func (p *progressThrottle) emit(percent int) {
	if p.fn == nil {
		return
	}
	if percent != 0 && percent != 100 && p.last >= 0 && percent-p.last < 5 {
		return
	}
	if percent == p.last {
		return
	}
	p.last = percent
	p.fn(percent)
}
