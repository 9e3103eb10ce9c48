package record

import (
	"encoding/json"
	"fmt"
)

// Kind identifies one of the engine's collections and carries the
// collection-specific behavior (serialization, identity extraction) so the
// storage tiers never branch on string literals.
type Kind int

const (
	// KindAttendance is the attendance record collection.
	KindAttendance Kind = iota
	// KindSchedule is the schedule item collection.
	KindSchedule
)

// Kinds lists every collection kind the engine manages.
func Kinds() []Kind {
	return []Kind{KindAttendance, KindSchedule}
}

// Name returns the collection name used by the durable and remote tiers.
func (k Kind) Name() string {
	switch k {
	case KindAttendance:
		return "attendance"
	case KindSchedule:
		return "schedule"
	default:
		return "unknown"
	}
}

// CacheKey returns the fast-cache key for the collection.
func (k Kind) CacheKey() string {
	switch k {
	case KindAttendance:
		return "attendance_data"
	case KindSchedule:
		return "schedule_data"
	default:
		return "unknown_data"
	}
}

// String implements fmt.Stringer.
func (k Kind) String() string { return k.Name() }

// KindByName resolves a collection name back to its Kind.
func KindByName(name string) (Kind, error) {
	switch name {
	case "attendance":
		return KindAttendance, nil
	case "schedule":
		return KindSchedule, nil
	default:
		return 0, fmt.Errorf("unknown collection %q", name)
	}
}

// AttendanceDocs converts typed attendance records into documents.
// Invalid records are skipped and reported in the second return value.
func AttendanceDocs(records []AttendanceRecord) ([]Document, int) {
	docs := make([]Document, 0, len(records))
	skipped := 0
	for i := range records {
		r := &records[i]
		if err := r.Validate(); err != nil {
			skipped++
			continue
		}
		data, err := json.Marshal(r)
		if err != nil {
			skipped++
			continue
		}
		docs = append(docs, Document{ID: r.Identity(), Data: data})
	}
	return docs, skipped
}

// ScheduleDocs converts typed schedule items into documents.
func ScheduleDocs(items []ScheduleItem) ([]Document, int) {
	docs := make([]Document, 0, len(items))
	skipped := 0
	for i := range items {
		s := &items[i]
		if err := s.Validate(); err != nil {
			skipped++
			continue
		}
		data, err := json.Marshal(s)
		if err != nil {
			skipped++
			continue
		}
		docs = append(docs, Document{ID: s.ID, Data: data})
	}
	return docs, skipped
}

// DecodeAttendance converts documents back into typed attendance records.
func DecodeAttendance(docs []Document) ([]AttendanceRecord, error) {
	records := make([]AttendanceRecord, 0, len(docs))
	for _, d := range docs {
		var r AttendanceRecord
		if err := json.Unmarshal(d.Data, &r); err != nil {
			return nil, fmt.Errorf("decode attendance %s: %w", d.ID, err)
		}
		records = append(records, r)
	}
	return records, nil
}

// DecodeSchedule converts documents back into typed schedule items.
func DecodeSchedule(docs []Document) ([]ScheduleItem, error) {
	items := make([]ScheduleItem, 0, len(docs))
	for _, d := range docs {
		var s ScheduleItem
		if err := json.Unmarshal(d.Data, &s); err != nil {
			return nil, fmt.Errorf("decode schedule %s: %w", d.ID, err)
		}
		items = append(items, s)
	}
	return items, nil
}

// DateOf extracts the calendar day from a document of this kind.
// Used by month-range deletes; returns "" when the document is malformed.
func (k Kind) DateOf(doc Document) string {
	var probe struct {
		Date string `json:"date"`
	}
	if err := json.Unmarshal(doc.Data, &probe); err != nil {
		return ""
	}
	return probe.Date
}
