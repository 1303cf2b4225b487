package progress

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-day key of ledger entries.
const DateLayout = "2006-01-02"

// Kind is the activity a ledger entry accumulates.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindStudy  Kind = "study"
	KindImport Kind = "import"
)

// ParseKind validates raw input.
func ParseKind(rawInput string) (Kind, error) {
	switch kind := Kind(strings.ToLower(strings.TrimSpace(rawInput))); kind {
	case KindCreate, KindUpdate, KindStudy, KindImport:
		return kind, nil
	default:
		return "", fmt.Errorf("progress: unknown activity kind %q", rawInput)
	}
}

// Range selects the window of a summary.
type Range string

const (
	RangeWeek  Range = "week"
	RangeMonth Range = "month"
	RangeAll   Range = "all"
)

// ParseRange validates raw input; empty input selects RangeWeek.
func ParseRange(rawInput string) (Range, error) {
	switch r := Range(strings.ToLower(strings.TrimSpace(rawInput))); r {
	case "":
		return RangeWeek, nil
	case RangeWeek, RangeMonth, RangeAll:
		return r, nil
	default:
		return "", fmt.Errorf("progress: unknown range %q", rawInput)
	}
}

func (r Range) days() int {
	switch r {
	case RangeWeek:
		return 7
	case RangeMonth:
		return 30
	default:
		return 0
	}
}

// LogEntry aggregates one user's activity on one calendar day.
type LogEntry struct {
	UserID          string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Date            string `gorm:"column:log_date;primaryKey;size:10;not null"`
	Minutes         int    `gorm:"column:minutes;not null;default:0"`
	NotesCreated    int    `gorm:"column:notes_created;not null;default:0"`
	NotesUpdated    int    `gorm:"column:notes_updated;not null;default:0"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LogEntry) TableName() string {
	return "progress_logs"
}

// DailyPoint is one day of a summary.
type DailyPoint struct {
	Date         string `json:"date"`
	Minutes      int    `json:"minutes"`
	NotesCreated int    `json:"notes_created"`
	NotesUpdated int    `json:"notes_updated"`
}

// Summary aggregates a user's ledger across a range.
type Summary struct {
	Range          Range        `json:"range"`
	TotalMinutes   int          `json:"total_minutes"`
	Entries        int          `json:"entries"`
	SessionsPerDay float64      `json:"sessions_per_day"`
	Streak         int          `json:"streak"`
	Daily          []DailyPoint `json:"daily"`
}

func dayOf(value time.Time) string {
	return value.UTC().Format(DateLayout)
}
