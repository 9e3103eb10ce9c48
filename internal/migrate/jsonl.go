// Package migrate provides JSONL backup and restore for the engine's
// collections: one document per line, one file per collection.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kmorita/shiftsync/internal/engine"
	"github.com/kmorita/shiftsync/internal/record"
)

// Options contains configuration for an export or import run.
type Options struct {
	// Dir is the directory holding <collection>.jsonl files.
	Dir string

	// DryRun previews an import without writing.
	DryRun bool
}

// Result contains statistics about a run.
type Result struct {
	Exported int
	Imported int
	Skipped  int
	Errors   []string
}

// Export writes every collection to Dir as JSONL.
func Export(ctx context.Context, eng *engine.Engine, opts Options) (*Result, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	result := &Result{}
	for _, kind := range record.Kinds() {
		docs, err := eng.Load(ctx, kind)
		if err != nil {
			return result, fmt.Errorf("failed to load %s: %w", kind, err)
		}
		path := filepath.Join(opts.Dir, kind.Name()+".jsonl")
		n, err := writeJSONL(path, docs)
		result.Exported += n
		if err != nil {
			return result, fmt.Errorf("failed to export %s: %w", kind, err)
		}
	}
	return result, nil
}

func writeJSONL(path string, docs []record.Document) (int, error) {
	file, err := os.Create(path) // #nosec G304 - controlled path from CLI
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	encoder := json.NewEncoder(w)
	written := 0
	for _, doc := range docs {
		if err := encoder.Encode(doc); err != nil {
			return written, fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
		}
		written++
	}
	if err := w.Flush(); err != nil {
		return written, err
	}
	return written, nil
}

// Import reads <collection>.jsonl files from Dir and saves them through
// the engine. Individual malformed lines are counted and skipped, not
// fatal; a collection whose file is missing is skipped silently.
func Import(ctx context.Context, eng *engine.Engine, opts Options) (*Result, error) {
	result := &Result{}

	for _, kind := range record.Kinds() {
		path := filepath.Join(opts.Dir, kind.Name()+".jsonl")
		docs, skipped, err := readJSONL(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return result, fmt.Errorf("failed to read %s: %w", path, err)
		}
		result.Skipped += skipped

		if opts.DryRun {
			result.Imported += len(docs)
			continue
		}
		if err := eng.Save(ctx, kind, docs); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", kind, err))
			continue
		}
		result.Imported += len(docs)
	}
	return result, nil
}

func readJSONL(path string) ([]record.Document, int, error) {
	file, err := os.Open(path) // #nosec G304 - controlled path from CLI
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	var docs []record.Document
	skipped := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var doc record.Document
		if err := json.Unmarshal(line, &doc); err != nil || doc.ID == "" {
			skipped++
			continue
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return docs, skipped, fmt.Errorf("failed to scan %s: %w", path, err)
	}
	return docs, skipped, nil
}
