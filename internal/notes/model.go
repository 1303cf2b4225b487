package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	maxIdentifierLength = 190
	maxTitleLength      = MaxTitleLength
)

// Storage bounds of note fields, in bytes.
const (
	MaxTitleLength   = 512
	MaxSubjectLength = 190
	MaxTagLength     = 64
)

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("notes: invalid user id")
	// ErrInvalidTitle indicates that a note title is empty or too long.
	ErrInvalidTitle = errors.New("notes: invalid title")
)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

func normalizeTitle(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTitle)
	}
	if len(trimmed) > maxTitleLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTitle, maxTitleLength)
	}
	return trimmed, nil
}

// Note is the live state of a study note. The owner never changes after creation.
type Note struct {
	NoteID          string                      `gorm:"column:note_id;primaryKey;size:190;not null"`
	OwnerID         string                      `gorm:"column:owner_id;size:190;not null;index:idx_notes_owner_updated,priority:1"`
	Title           string                      `gorm:"column:title;size:512;not null"`
	Body            string                      `gorm:"column:body;type:text;not null"`
	Subject         string                      `gorm:"column:subject;size:190;not null;default:''"`
	Tags            datatypes.JSONSlice[string] `gorm:"column:tags"`
	Color           string                      `gorm:"column:color;size:32;not null;default:''"`
	Grade           *float64                    `gorm:"column:grade"`
	Feedback        string                      `gorm:"column:feedback;type:text;not null;default:''"`
	CreatedAtMillis int64                       `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64                       `gorm:"column:updated_at_ms;not null;index:idx_notes_owner_updated,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// TagList returns the note tags as a plain slice.
func (n Note) TagList() []string {
	if len(n.Tags) == 0 {
		return []string{}
	}
	return append([]string(nil), n.Tags...)
}

// NoteVersion is an immutable snapshot of a note's title and body.
// Sequence increases by one per note and breaks ties between equal timestamps.
type NoteVersion struct {
	VersionID       string `gorm:"column:version_id;primaryKey;size:190;not null"`
	NoteID          string `gorm:"column:note_id;size:190;not null;index:idx_versions_note_seq,priority:1"`
	AuthorID        string `gorm:"column:author_id;size:190;not null"`
	Title           string `gorm:"column:title;size:512;not null"`
	Body            string `gorm:"column:body;type:text;not null"`
	Sequence        int64  `gorm:"column:seq;not null;index:idx_versions_note_seq,priority:2"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (NoteVersion) TableName() string {
	return "note_versions"
}

// CreateInput describes a new note.
type CreateInput struct {
	Title   string
	Body    string
	Subject string
	Tags    []string
	Color   string
}

// Patch describes a partial note update. Nil fields are left unchanged.
type Patch struct {
	Title   *string
	Body    *string
	Subject *string
	Tags    *[]string
	Color   *string
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Body == nil && p.Subject == nil && p.Tags == nil && p.Color == nil
}

// SortOrder selects the ordering of search results.
type SortOrder string

const (
	// SortUpdated orders by last modification, newest first.
	SortUpdated SortOrder = "updated"
	// SortCreated orders by creation, newest first.
	SortCreated SortOrder = "created"
	// SortTitle orders by title ascending.
	SortTitle SortOrder = "title"
)

// ParseSortOrder validates raw input; empty input selects SortUpdated.
func ParseSortOrder(rawInput string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(strings.TrimSpace(rawInput))) {
	case "", SortUpdated:
		return SortUpdated, nil
	case SortCreated:
		return SortCreated, nil
	case SortTitle:
		return SortTitle, nil
	default:
		return "", fmt.Errorf("notes: unknown sort order %q", rawInput)
	}
}

// SearchQuery filters an owner's notes. Zero values disable the corresponding filter.
type SearchQuery struct {
	Text    string
	Tags    []string
	Subject string
	From    time.Time
	To      time.Time
	Sort    SortOrder
}

func nowMillis(clock func() time.Time) int64 {
	return clock().UTC().UnixMilli()
}
