package access

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Table and column names the resolver reads. They are owned by the notes and
// sharing packages; the resolver only ever selects from them.
const (
	NotesTable       = "notes"
	SharesTable      = "note_shares"
	queryNoteByID    = "note_id = ?"
	queryShareByPair = "note_id = ? AND grantee_id = ?"
)

var errMissingDatabase = errors.New("access: database handle is required")

type noteOwnerRow struct {
	OwnerID string `gorm:"column:owner_id"`
}

type grantRoleRow struct {
	Role string `gorm:"column:role"`
}

// Resolver computes capabilities from the note owner field and share grants.
// It re-derives the answer on every call; grants can change between calls.
type Resolver struct {
	db *gorm.DB
}

// NewResolver constructs a Resolver over the provided database handle.
func NewResolver(db *gorm.DB) (*Resolver, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Resolver{db: db}, nil
}

// Capability returns the capability userID holds on noteID.
// A missing note yields CapabilityNone for every caller rather than an error.
func (r *Resolver) Capability(ctx context.Context, noteID, userID string) (Capability, error) {
	noteID = strings.TrimSpace(noteID)
	userID = strings.TrimSpace(userID)
	if noteID == "" || userID == "" {
		return CapabilityNone, nil
	}

	var owner noteOwnerRow
	err := r.db.WithContext(ctx).
		Table(NotesTable).
		Select("owner_id").
		Where(queryNoteByID, noteID).
		Take(&owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CapabilityNone, nil
	}
	if err != nil {
		return CapabilityNone, err
	}
	if owner.OwnerID == userID {
		return CapabilityOwner, nil
	}

	var grant grantRoleRow
	err = r.db.WithContext(ctx).
		Table(SharesTable).
		Select("role").
		Where(queryShareByPair, noteID, userID).
		Take(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CapabilityNone, nil
	}
	if err != nil {
		return CapabilityNone, err
	}
	return Role(grant.Role).Capability(), nil
}

// Exists reports whether noteID refers to a stored note. Callers use it to
// tell a missing note apart from one they may not touch.
func (r *Resolver) Exists(ctx context.Context, noteID string) (bool, error) {
	noteID = strings.TrimSpace(noteID)
	if noteID == "" {
		return false, nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Table(NotesTable).Where(queryNoteByID, noteID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
