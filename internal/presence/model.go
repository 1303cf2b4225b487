package presence

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/users"
)

const (
	// ActiveWindow is how recently a heartbeat must have arrived for a user to count as present.
	ActiveWindow = 30 * time.Second
	// RetentionWindow is the age after which Sweep discards a record.
	RetentionWindow = 5 * time.Minute
)

// Selection is a highlighted range in the note body. 0 <= Start <= End.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Record is the last heartbeat of one user on one note.
type Record struct {
	NoteID         string
	UserID         string
	Cursor         *int
	Selection      *Selection
	LastSeenMillis int64
}

// ActiveUser is a live record annotated with the user's display identity.
type ActiveUser struct {
	Record
	Profile users.Profile
}

// Store persists presence records. Implementations upsert on (note, user).
type Store interface {
	Upsert(ctx context.Context, record Record) error
	// ListSince returns the note's records with last-seen at or after sinceMillis.
	ListSince(ctx context.Context, noteID string, sinceMillis int64) ([]Record, error)
	// DeleteBefore removes records with last-seen strictly before cutoffMillis system-wide.
	DeleteBefore(ctx context.Context, cutoffMillis int64) (int64, error)
}

type presenceRow struct {
	NoteID         string `gorm:"column:note_id;primaryKey;size:190;not null"`
	UserID         string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Cursor         *int   `gorm:"column:cursor_pos"`
	SelectionStart *int   `gorm:"column:selection_start"`
	SelectionEnd   *int   `gorm:"column:selection_end"`
	LastSeenMillis int64  `gorm:"column:last_seen_ms;not null;index"`
}

func (presenceRow) TableName() string {
	return "note_presence"
}

func rowFromRecord(record Record) presenceRow {
	row := presenceRow{
		NoteID:         record.NoteID,
		UserID:         record.UserID,
		Cursor:         record.Cursor,
		LastSeenMillis: record.LastSeenMillis,
	}
	if record.Selection != nil {
		start, end := record.Selection.Start, record.Selection.End
		row.SelectionStart = &start
		row.SelectionEnd = &end
	}
	return row
}

func (r presenceRow) record() Record {
	record := Record{
		NoteID:         r.NoteID,
		UserID:         r.UserID,
		Cursor:         r.Cursor,
		LastSeenMillis: r.LastSeenMillis,
	}
	if r.SelectionStart != nil && r.SelectionEnd != nil {
		record.Selection = &Selection{Start: *r.SelectionStart, End: *r.SelectionEnd}
	}
	return record
}

// Models lists the gorm models backing the database store.
func Models() []any {
	return []any{&presenceRow{}}
}
