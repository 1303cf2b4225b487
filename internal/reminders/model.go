package reminders

import (
	"fmt"
	"strings"
)

// Kind classifies a reminder.
type Kind string

const (
	KindStudy    Kind = "study"
	KindReview   Kind = "review"
	KindExam     Kind = "exam"
	KindDeadline Kind = "deadline"
)

// ParseKind validates raw input.
func ParseKind(rawInput string) (Kind, error) {
	switch kind := Kind(strings.ToLower(strings.TrimSpace(rawInput))); kind {
	case KindStudy, KindReview, KindExam, KindDeadline:
		return kind, nil
	default:
		return "", fmt.Errorf("reminders: unknown kind %q", rawInput)
	}
}

// Reminder is a scheduled prompt owned by one user, optionally tied to a note.
type Reminder struct {
	ReminderID      string `gorm:"column:reminder_id;primaryKey;size:190;not null" json:"reminder_id"`
	UserID          string `gorm:"column:user_id;size:190;not null;index:idx_reminders_user_when,priority:1" json:"user_id"`
	NoteID          string `gorm:"column:note_id;size:190;index" json:"note_id,omitempty"`
	Title           string `gorm:"column:title;size:512;not null" json:"title"`
	Description     string `gorm:"column:description;type:text" json:"description,omitempty"`
	WhenMillis      int64  `gorm:"column:when_ms;not null;index:idx_reminders_user_when,priority:2" json:"when_ms"`
	Kind            Kind   `gorm:"column:kind;size:16;not null" json:"kind"`
	Completed       bool   `gorm:"column:completed;not null;default:false" json:"completed"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null" json:"created_at_ms"`
}

// TableName provides the explicit table binding for GORM.
func (Reminder) TableName() string {
	return "reminders"
}

// Entry is a listed reminder with the title of its note, when it still has one.
type Entry struct {
	Reminder
	NoteTitle string `json:"note_title,omitempty"`
}

// CreateInput carries the caller-supplied fields of a new reminder.
type CreateInput struct {
	NoteID      string
	Title       string
	Description string
	WhenMillis  int64
	Kind        Kind
}

// ListFilter narrows List.
type ListFilter struct {
	UpcomingOnly bool
	NoteID       string
}
