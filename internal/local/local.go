// Package local provides the durable local store tier: an embedded SQLite
// database holding the full attendance and schedule collections plus
// arbitrary settings.
//
// The database runs in embedded mode with WAL for concurrent reads.
//
// Architecture:
//   - One table per collection, primary key = record identity
//   - Secondary indexes on subject_id and date for attendance, date for schedule
//   - A settings table keyed by setting name
//
// Writes are chunked: collections are processed in fixed-size batches, one
// transaction per batch, so no single call holds a transaction across an
// entire large collection. A single record's failure is counted and
// swallowed; the operation succeeds if at least one record was written.
package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kmorita/shiftsync/internal/record"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	// ChunkSize is how many records share one transaction.
	ChunkSize = 200

	// ClearThreshold is the incoming-collection size above which a full
	// replace clears the table first instead of upserting per key. Small
	// updates skip the clear to avoid needless delete+reinsert churn.
	ClearThreshold = 500
)

// DB wraps the SQLite connection with collection-aware operations.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The parent directory is created if needed. The caller MUST call Close()
// when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	// WAL for concurrent reads during chunked writes
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after a WAL checkpoint.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS attendance (
		subject_id   TEXT NOT NULL,
		date         TEXT NOT NULL,
		category     TEXT NOT NULL,
		display_name TEXT,
		PRIMARY KEY (subject_id, date)
	);

	CREATE TABLE IF NOT EXISTS schedule (
		id          TEXT PRIMARY KEY,
		date        TEXT NOT NULL,
		title       TEXT NOT NULL,
		details     TEXT,
		color       TEXT,
		subject_ids TEXT  -- JSON array; empty = applies to all subjects
	);

	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL  -- JSON
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_subject ON attendance(subject_id);
	CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(date);
	CREATE INDEX IF NOT EXISTS idx_schedule_date ON schedule(date);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// ReplaceCollection writes a full collection snapshot.
//
// Records are processed in chunks of ChunkSize, one transaction per chunk,
// so the connection is yielded between chunks. When the incoming snapshot
// exceeds ClearThreshold the table is cleared first; otherwise records are
// upserted per key and stale rows are left for the diff sync to reconcile.
//
// Individual record failures are swallowed and counted. The returned count
// is the number of records actually written; err is non-nil only when the
// operation as a whole could not run.
func (db *DB) ReplaceCollection(ctx context.Context, kind record.Kind, docs []record.Document) (int, error) {
	if len(docs) > ClearThreshold {
		if err := db.Clear(ctx, kind); err != nil {
			return 0, fmt.Errorf("failed to clear %s before replace: %w", kind, err)
		}
	}

	written := 0
	for start := 0; start < len(docs); start += ChunkSize {
		end := start + ChunkSize
		if end > len(docs) {
			end = len(docs)
		}
		n, err := db.upsertChunk(ctx, kind, docs[start:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	if len(docs) > 0 && written == 0 {
		return 0, fmt.Errorf("no records written to %s", kind)
	}
	return written, nil
}

// upsertChunk writes one chunk inside a single transaction. A record that
// fails to decode or insert is skipped; the chunk still commits.
func (db *DB) upsertChunk(ctx context.Context, kind record.Kind, docs []record.Document) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	written := 0
	for _, doc := range docs {
		if err := upsertDoc(ctx, tx, kind, doc); err != nil {
			continue
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit chunk: %w", err)
	}
	return written, nil
}

func upsertDoc(ctx context.Context, tx *sql.Tx, kind record.Kind, doc record.Document) error {
	switch kind {
	case record.KindAttendance:
		var r record.AttendanceRecord
		if err := json.Unmarshal(doc.Data, &r); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
		INSERT INTO attendance (subject_id, date, category, display_name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subject_id, date) DO UPDATE SET
			category = excluded.category,
			display_name = excluded.display_name
		`, r.SubjectID, r.Date, r.Category, r.DisplayName)
		return err

	case record.KindSchedule:
		var s record.ScheduleItem
		if err := json.Unmarshal(doc.Data, &s); err != nil {
			return err
		}
		subjectsJSON, err := json.Marshal(s.SubjectIDs)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
		INSERT INTO schedule (id, date, title, details, color, subject_ids)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			title = excluded.title,
			details = excluded.details,
			color = excluded.color,
			subject_ids = excluded.subject_ids
		`, s.ID, s.Date, s.Title, s.Details, s.Color, string(subjectsJSON))
		return err

	default:
		return fmt.Errorf("unknown collection kind %d", kind)
	}
}

// ReadCollection returns the full collection as documents.
func (db *DB) ReadCollection(ctx context.Context, kind record.Kind) ([]record.Document, error) {
	switch kind {
	case record.KindAttendance:
		return db.readAttendance(ctx)
	case record.KindSchedule:
		return db.readSchedule(ctx)
	default:
		return nil, fmt.Errorf("unknown collection kind %d", kind)
	}
}

func (db *DB) readAttendance(ctx context.Context) ([]record.Document, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT subject_id, date, category, display_name
	FROM attendance
	ORDER BY date ASC, subject_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()

	var docs []record.Document
	for rows.Next() {
		var r record.AttendanceRecord
		var displayName sql.NullString
		if err := rows.Scan(&r.SubjectID, &r.Date, &r.Category, &displayName); err != nil {
			return nil, fmt.Errorf("failed to scan attendance row: %w", err)
		}
		r.DisplayName = displayName.String
		data, err := json.Marshal(&r)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal attendance %s: %w", r.Identity(), err)
		}
		docs = append(docs, record.Document{ID: r.Identity(), Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance: %w", err)
	}
	return docs, nil
}

func (db *DB) readSchedule(ctx context.Context) ([]record.Document, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, date, title, details, color, subject_ids
	FROM schedule
	ORDER BY date ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule: %w", err)
	}
	defer rows.Close()

	var docs []record.Document
	for rows.Next() {
		var s record.ScheduleItem
		var details, color, subjectsJSON sql.NullString
		if err := rows.Scan(&s.ID, &s.Date, &s.Title, &details, &color, &subjectsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		s.Details = details.String
		s.Color = color.String
		if subjectsJSON.Valid && subjectsJSON.String != "" && subjectsJSON.String != "null" {
			if err := json.Unmarshal([]byte(subjectsJSON.String), &s.SubjectIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal subject_ids for %s: %w", s.ID, err)
			}
		}
		data, err := json.Marshal(&s)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schedule %s: %w", s.ID, err)
		}
		docs = append(docs, record.Document{ID: s.ID, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule: %w", err)
	}
	return docs, nil
}

// DeleteDoc removes a single record by identity.
// Returns nil if the record doesn't exist (idempotent).
func (db *DB) DeleteDoc(ctx context.Context, kind record.Kind, id string) error {
	var query string
	var args []any
	switch kind {
	case record.KindAttendance:
		subjectID, date, err := record.SplitAttendanceID(id)
		if err != nil {
			return err
		}
		query = `DELETE FROM attendance WHERE subject_id = ? AND date = ?`
		args = []any{subjectID, date}
	case record.KindSchedule:
		query = `DELETE FROM schedule WHERE id = ?`
		args = []any{id}
	default:
		return fmt.Errorf("unknown collection kind %d", kind)
	}

	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", kind, id, err)
	}
	return nil
}

// DeleteMonth removes every record in the collection whose date falls in
// the given YYYY-MM month. Applies atomically for the tier.
func (db *DB) DeleteMonth(ctx context.Context, kind record.Kind, yearMonth string) (int64, error) {
	if !record.ValidMonth(yearMonth) {
		return 0, fmt.Errorf("invalid year-month %q", yearMonth)
	}
	table := kind.Name()
	if table != "attendance" && table != "schedule" {
		return 0, fmt.Errorf("unknown collection kind %d", kind)
	}
	res, err := db.conn.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE date LIKE ?`, table), yearMonth+"-%")
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s month %s: %w", kind, yearMonth, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PutSetting stores an arbitrary JSON-serializable setting value.
func (db *DB) PutSetting(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal setting %s: %w", key, err)
	}
	_, err = db.conn.ExecContext(ctx, `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("failed to upsert setting %s: %w", key, err)
	}
	return nil
}

// GetSetting reads a setting into out. The second return value reports
// whether the key was present; out is untouched when it was not.
func (db *DB) GetSetting(ctx context.Context, key string, out any) (bool, error) {
	var raw string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("failed to unmarshal setting %s: %w", key, err)
	}
	return true, nil
}

// Clear empties one collection's table.
func (db *DB) Clear(ctx context.Context, kind record.Kind) error {
	table := kind.Name()
	if table != "attendance" && table != "schedule" {
		return fmt.Errorf("unknown collection kind %d", kind)
	}
	if _, err := db.conn.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", kind, err)
	}
	return nil
}

// ClearAll empties every collection and the settings table.
func (db *DB) ClearAll(ctx context.Context) error {
	for _, table := range []string{"attendance", "schedule", "settings"} {
		if _, err := db.conn.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// HealthCheck verifies the database answers a trivial query.
func (db *DB) HealthCheck(ctx context.Context) bool {
	var one int
	if err := db.conn.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return false
	}
	return one == 1
}

// SizeBytes reports the on-disk size of the database file.
func (db *DB) SizeBytes() (int64, error) {
	info, err := os.Stat(db.path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat database: %w", err)
	}
	return info.Size(), nil
}

// Count returns the number of records in a collection.
func (db *DB) Count(ctx context.Context, kind record.Kind) (int, error) {
	table := kind.Name()
	if table != "attendance" && table != "schedule" {
		return 0, fmt.Errorf("unknown collection kind %d", kind)
	}
	var count int
	err := db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", kind, err)
	}
	return count, nil
}
