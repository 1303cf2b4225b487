package comments

import "github.com/MarcoPoloResearchLab/studybuddy/internal/users"

// Anchor ties a comment to a span of the note body.
type Anchor struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text,omitempty"`
}

// Comment is a discussion entry on a note.
type Comment struct {
	CommentID       string `gorm:"column:comment_id;primaryKey;size:190;not null"`
	NoteID          string `gorm:"column:note_id;size:190;not null;index:idx_comments_note_created,priority:1"`
	AuthorID        string `gorm:"column:author_id;size:190;not null"`
	Text            string `gorm:"column:body;type:text;not null"`
	AnchorStart     *int   `gorm:"column:anchor_start"`
	AnchorEnd       *int   `gorm:"column:anchor_end"`
	AnchorText      string `gorm:"column:anchor_text;type:text;not null;default:''"`
	Resolved        bool   `gorm:"column:resolved;not null;default:false"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null;index:idx_comments_note_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "note_comments"
}

// Anchor returns the anchored span, or nil for a note-level comment.
func (c Comment) Anchor() *Anchor {
	if c.AnchorStart == nil || c.AnchorEnd == nil {
		return nil
	}
	return &Anchor{Start: *c.AnchorStart, End: *c.AnchorEnd, Text: c.AnchorText}
}

// Entry is a comment annotated with the author's display identity.
type Entry struct {
	Comment
	Author users.Profile
}
