// Package record defines the domain entities persisted by the sync engine
// and the tier-neutral document representation the storage tiers exchange.
package record

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// dateRe matches calendar days in the canonical YYYY-MM-DD form.
var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// monthRe matches year-months in the canonical YYYY-MM form.
var monthRe = regexp.MustCompile(`^\d{4}-\d{2}$`)

// AttendanceRecord is one person's shift assignment for one calendar day.
// Identity is the composite (SubjectID, Date) pair; writing a record with
// an existing identity replaces the previous one.
type AttendanceRecord struct {
	SubjectID   string `json:"subject_id"`
	Date        string `json:"date"` // YYYY-MM-DD
	Category    string `json:"category"`
	DisplayName string `json:"display_name,omitempty"`
}

// Validate checks the record has a usable identity and a well-formed date.
func (r *AttendanceRecord) Validate() error {
	if r.SubjectID == "" {
		return fmt.Errorf("subject_id is required")
	}
	if !dateRe.MatchString(r.Date) {
		return fmt.Errorf("date must be YYYY-MM-DD (got %q)", r.Date)
	}
	if r.Category == "" {
		return fmt.Errorf("category is required")
	}
	return nil
}

// Identity returns the composite identity key for the record.
func (r *AttendanceRecord) Identity() string {
	return r.SubjectID + "_" + r.Date
}

// ScheduleItem is a dated event shown alongside shift assignments.
// Identity is the opaque ID. An empty SubjectIDs list means the item
// applies to every subject.
type ScheduleItem struct {
	ID         string   `json:"id"`
	Date       string   `json:"date"` // YYYY-MM-DD
	Title      string   `json:"title"`
	Details    string   `json:"details,omitempty"`
	Color      string   `json:"color,omitempty"`
	SubjectIDs []string `json:"subject_ids,omitempty"`
}

// NewScheduleItem creates a schedule item with a fresh identity.
func NewScheduleItem(date, title string) *ScheduleItem {
	return &ScheduleItem{
		ID:    uuid.NewString(),
		Date:  date,
		Title: title,
	}
}

// Validate checks the item has an identity and a well-formed date.
func (s *ScheduleItem) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !dateRe.MatchString(s.Date) {
		return fmt.Errorf("date must be YYYY-MM-DD (got %q)", s.Date)
	}
	if s.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// Document is the tier-neutral unit of storage: an identity key plus the
// serialized record content. All three tiers move documents; only the Kind
// knows how to turn them back into typed records.
type Document struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// ValidMonth reports whether s is a canonical YYYY-MM year-month.
func ValidMonth(s string) bool {
	return monthRe.MatchString(s)
}

// MonthOf extracts the YYYY-MM prefix of a YYYY-MM-DD date.
// Returns "" when the date is not canonical.
func MonthOf(date string) string {
	if !dateRe.MatchString(date) {
		return ""
	}
	return date[:7]
}

// SplitAttendanceID decomposes a composite attendance identity back into
// its subject id and date. The date is the fixed-width suffix, so subject
// ids containing underscores are handled correctly.
func SplitAttendanceID(id string) (subjectID, date string, err error) {
	// "<subject>_<YYYY-MM-DD>"
	const dateLen = 10
	if len(id) < dateLen+2 {
		return "", "", fmt.Errorf("malformed attendance identity %q", id)
	}
	cut := len(id) - dateLen - 1
	if id[cut] != '_' {
		return "", "", fmt.Errorf("malformed attendance identity %q", id)
	}
	subjectID, date = id[:cut], id[cut+1:]
	if !dateRe.MatchString(date) {
		return "", "", fmt.Errorf("malformed attendance identity %q", id)
	}
	return subjectID, date, nil
}

// Setting keys persisted by the engine. Values are arbitrary JSON.
const (
	SettingCurrentView     = "current_view"
	SettingCurrentDate     = "current_date"
	SettingSelectedSubject = "selected_subject"
	SettingAdminMode       = "admin_mode"
)
