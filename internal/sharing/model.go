package sharing

import (
	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/users"
)

// Grant records that an owner shared a note with a grantee at a role.
// At most one grant exists per (note, grantee).
type Grant struct {
	ShareID         string      `gorm:"column:share_id;primaryKey;size:190;not null"`
	NoteID          string      `gorm:"column:note_id;size:190;not null;uniqueIndex:idx_shares_note_grantee,priority:1"`
	OwnerID         string      `gorm:"column:owner_id;size:190;not null;index"`
	GranteeID       string      `gorm:"column:grantee_id;size:190;not null;uniqueIndex:idx_shares_note_grantee,priority:2;index"`
	Role            access.Role `gorm:"column:role;size:16;not null"`
	CreatedAtMillis int64       `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Grant) TableName() string {
	return access.SharesTable
}

// GrantSummary is the outcome of an invitation.
type GrantSummary struct {
	Grant   Grant
	Grantee users.Profile
	// Updated reports that an existing grant had its role replaced.
	Updated bool
}

// GrantView annotates a grant with the grantee's display identity.
type GrantView struct {
	Grant   Grant
	Grantee users.Profile
}

// SharedNote describes a note another user shared with the caller.
type SharedNote struct {
	ShareID         string
	NoteID          string
	Title           string
	Subject         string
	Role            access.Role
	Owner           users.Profile
	SharedAtMillis  int64
	UpdatedAtMillis int64
}

type sharedNoteRow struct {
	NoteID          string `gorm:"column:note_id"`
	Title           string `gorm:"column:title"`
	Subject         string `gorm:"column:subject"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms"`
}
