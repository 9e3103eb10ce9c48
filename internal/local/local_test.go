package local

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/kmorita/shiftsync/internal/record"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func attendanceDocs(t *testing.T, records ...record.AttendanceRecord) []record.Document {
	t.Helper()
	docs, skipped := record.AttendanceDocs(records)
	if skipped != 0 {
		t.Fatalf("%d records skipped", skipped)
	}
	return docs
}

func TestInitSchemaIdempotent(t *testing.T) {
	db := testDB(t)
	if err := db.InitSchema(); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}

	tables := []string{"attendance", "schedule", "settings"}
	for _, table := range tables {
		var count int
		err := db.conn.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestReplaceAndReadCollection(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	docs := attendanceDocs(t,
		record.AttendanceRecord{SubjectID: "s1", Date: "2025-01-10", Category: "early", DisplayName: "One"},
		record.AttendanceRecord{SubjectID: "s2", Date: "2025-01-11", Category: "late"},
	)

	written, err := db.ReplaceCollection(ctx, record.KindAttendance, docs)
	if err != nil {
		t.Fatalf("ReplaceCollection() failed: %v", err)
	}
	if written != 2 {
		t.Errorf("written = %d, want 2", written)
	}

	got, err := db.ReadCollection(ctx, record.KindAttendance)
	if err != nil {
		t.Fatalf("ReadCollection() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}

	decoded, err := record.DecodeAttendance(got)
	if err != nil {
		t.Fatalf("DecodeAttendance() failed: %v", err)
	}
	if decoded[0].SubjectID != "s1" || decoded[0].DisplayName != "One" {
		t.Errorf("decoded[0] = %+v", decoded[0])
	}
}

func TestUpsertReplacesNotDuplicates(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	first := attendanceDocs(t,
		record.AttendanceRecord{SubjectID: "s1", Date: "2025-01-10", Category: "early"})
	if _, err := db.ReplaceCollection(ctx, record.KindAttendance, first); err != nil {
		t.Fatalf("first write failed: %v", err)
	}

	second := attendanceDocs(t,
		record.AttendanceRecord{SubjectID: "s1", Date: "2025-01-10", Category: "late"})
	if _, err := db.ReplaceCollection(ctx, record.KindAttendance, second); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	count, err := db.Count(ctx, record.KindAttendance)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 (write must replace, not duplicate)", count)
	}

	got, _ := db.ReadCollection(ctx, record.KindAttendance)
	decoded, _ := record.DecodeAttendance(got)
	if decoded[0].Category != "late" {
		t.Errorf("category = %q, want late", decoded[0].Category)
	}
}

func TestReplaceCollectionChunked(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// More records than one chunk holds.
	var records []record.AttendanceRecord
	for i := 0; i < ChunkSize*2+17; i++ {
		records = append(records, record.AttendanceRecord{
			SubjectID: fmt.Sprintf("s%04d", i),
			Date:      "2025-01-10",
			Category:  "day",
		})
	}
	docs := attendanceDocs(t, records...)

	written, err := db.ReplaceCollection(ctx, record.KindAttendance, docs)
	if err != nil {
		t.Fatalf("ReplaceCollection() failed: %v", err)
	}
	if written != len(docs) {
		t.Errorf("written = %d, want %d", written, len(docs))
	}

	count, _ := db.Count(ctx, record.KindAttendance)
	if count != len(docs) {
		t.Errorf("count = %d, want %d", count, len(docs))
	}
}

func TestReplaceSwallowsBadRecords(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	docs := attendanceDocs(t,
		record.AttendanceRecord{SubjectID: "s1", Date: "2025-01-10", Category: "day"})
	docs = append(docs, record.Document{ID: "broken", Data: []byte("not-json")})

	written, err := db.ReplaceCollection(ctx, record.KindAttendance, docs)
	if err != nil {
		t.Fatalf("ReplaceCollection() failed: %v", err)
	}
	if written != 1 {
		t.Errorf("written = %d, want 1 (bad record swallowed and counted)", written)
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	items := []record.ScheduleItem{
		{ID: "ev-1", Date: "2025-04-01", Title: "Field trip", Color: "#ff0000", SubjectIDs: []string{"s1", "s2"}},
		{ID: "ev-2", Date: "2025-04-02", Title: "All hands"},
	}
	docs, _ := record.ScheduleDocs(items)

	if _, err := db.ReplaceCollection(ctx, record.KindSchedule, docs); err != nil {
		t.Fatalf("ReplaceCollection() failed: %v", err)
	}

	got, err := db.ReadCollection(ctx, record.KindSchedule)
	if err != nil {
		t.Fatalf("ReadCollection() failed: %v", err)
	}
	decoded, err := record.DecodeSchedule(got)
	if err != nil {
		t.Fatalf("DecodeSchedule() failed: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("len = %d, want 2", len(decoded))
	}
	if decoded[0].Color != "#ff0000" || len(decoded[0].SubjectIDs) != 2 {
		t.Errorf("decoded[0] = %+v", decoded[0])
	}
	if decoded[1].SubjectIDs != nil {
		t.Errorf("empty subject list should stay empty, got %v", decoded[1].SubjectIDs)
	}
}

func TestDeleteDoc(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	docs := attendanceDocs(t,
		record.AttendanceRecord{SubjectID: "s1", Date: "2025-01-10", Category: "day"},
		record.AttendanceRecord{SubjectID: "s2", Date: "2025-01-10", Category: "day"},
	)
	if _, err := db.ReplaceCollection(ctx, record.KindAttendance, docs); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteDoc(ctx, record.KindAttendance, "s1_2025-01-10"); err != nil {
		t.Fatalf("DeleteDoc() failed: %v", err)
	}

	count, _ := db.Count(ctx, record.KindAttendance)
	if count != 1 {
		t.Errorf("count = %d, want 1 (exactly one entry removed)", count)
	}

	// Idempotent.
	if err := db.DeleteDoc(ctx, record.KindAttendance, "s1_2025-01-10"); err != nil {
		t.Errorf("second DeleteDoc() = %v, want nil", err)
	}
}

func TestDeleteMonth(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	docs := attendanceDocs(t,
		record.AttendanceRecord{SubjectID: "s1", Date: "2025-01-10", Category: "day"},
		record.AttendanceRecord{SubjectID: "s1", Date: "2025-01-20", Category: "day"},
		record.AttendanceRecord{SubjectID: "s1", Date: "2025-02-01", Category: "day"},
	)
	if _, err := db.ReplaceCollection(ctx, record.KindAttendance, docs); err != nil {
		t.Fatal(err)
	}

	n, err := db.DeleteMonth(ctx, record.KindAttendance, "2025-01")
	if err != nil {
		t.Fatalf("DeleteMonth() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	count, _ := db.Count(ctx, record.KindAttendance)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	if _, err := db.DeleteMonth(ctx, record.KindAttendance, "2025-1"); err == nil {
		t.Error("DeleteMonth() accepted malformed year-month")
	}
}

func TestSettings(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.PutSetting(ctx, "current_view", "month"); err != nil {
		t.Fatalf("PutSetting() failed: %v", err)
	}

	var view string
	found, err := db.GetSetting(ctx, "current_view", &view)
	if err != nil {
		t.Fatalf("GetSetting() failed: %v", err)
	}
	if !found || view != "month" {
		t.Errorf("got (%v, %q), want (true, month)", found, view)
	}

	// Replace.
	if err := db.PutSetting(ctx, "current_view", "week"); err != nil {
		t.Fatal(err)
	}
	found, _ = db.GetSetting(ctx, "current_view", &view)
	if !found || view != "week" {
		t.Errorf("after replace got (%v, %q)", found, view)
	}

	// Absent key.
	var missing bool
	found, err = db.GetSetting(ctx, "admin_mode", &missing)
	if err != nil {
		t.Fatalf("GetSetting(absent) failed: %v", err)
	}
	if found {
		t.Error("GetSetting(absent) reported found")
	}
}

func TestClearAll(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	docs := attendanceDocs(t,
		record.AttendanceRecord{SubjectID: "s1", Date: "2025-01-10", Category: "day"})
	if _, err := db.ReplaceCollection(ctx, record.KindAttendance, docs); err != nil {
		t.Fatal(err)
	}
	if err := db.PutSetting(ctx, "admin_mode", true); err != nil {
		t.Fatal(err)
	}

	if err := db.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() failed: %v", err)
	}

	count, _ := db.Count(ctx, record.KindAttendance)
	if count != 0 {
		t.Errorf("attendance count = %d after ClearAll", count)
	}
	var v bool
	found, _ := db.GetSetting(ctx, "admin_mode", &v)
	if found {
		t.Error("setting survived ClearAll")
	}
}

func TestHealthCheckAndSize(t *testing.T) {
	db := testDB(t)
	if !db.HealthCheck(context.Background()) {
		t.Error("HealthCheck() = false for open database")
	}
	size, err := db.SizeBytes()
	if err != nil {
		t.Fatalf("SizeBytes() failed: %v", err)
	}
	if size == 0 {
		t.Error("SizeBytes() = 0")
	}
}
