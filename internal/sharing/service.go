package sharing

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/ids"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew       = "sharing.service.new"
	opInvite           = "sharing.invite"
	opUpdateRole       = "sharing.update_role"
	opRevoke           = "sharing.revoke"
	opListGrants       = "sharing.list_grants"
	opListSharedWithMe = "sharing.list_shared_with_me"
	opGrantees         = "sharing.grantees"

	queryNoteID      = "note_id = ?"
	queryNoteGrantee = "note_id = ? AND grantee_id = ?"
	queryShareID     = "share_id = ?"

	reasonMissingDependency = "missing_dependency"
	reasonUnauthenticated   = "unauthenticated"
	reasonInvalidNoteID     = "invalid_note_id"
	reasonInvalidShareID    = "invalid_share_id"
	reasonInvalidRole       = "invalid_role"
	reasonSelfInvite        = "self_invite"
	reasonGranteeNotFound   = "grantee_not_found"
	reasonShareNotFound     = "share_not_found"
	reasonForbidden         = "forbidden"
	reasonAccessFailed      = "access_check_failed"
	reasonQueryFailed       = "query_failed"
	reasonWriteFailed       = "write_failed"
)

var errMissingDependency = errors.New("sharing: database, id provider, capability resolver and directory are required")

// Directory resolves invitees and display identities.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (users.Profile, error)
	Profiles(ctx context.Context, userIDs []string) (map[string]users.Profile, error)
}

// ServiceConfig describes the dependencies of the sharing directory.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Access     access.Checker
	Directory  Directory
	Logger     *zap.Logger
}

// Service manages share grants.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	access     access.Checker
	directory  Directory
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the sharing directory.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil || cfg.IDProvider == nil || cfg.Access == nil || cfg.Directory == nil {
		return nil, apperr.New(opServiceNew, reasonMissingDependency, nil, errMissingDependency)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		access:     cfg.Access,
		directory:  cfg.Directory,
		logger:     logger,
	}, nil
}

// Invite grants the user registered under granteeEmail access to noteID.
// Inviting an existing grantee again replaces the role in place.
func (s *Service) Invite(ctx context.Context, noteID, ownerID, granteeEmail string, role access.Role) (GrantSummary, error) {
	owner, note, err := parseCaller(opInvite, ownerID, noteID)
	if err != nil {
		return GrantSummary{}, err
	}
	if role.Capability() == access.CapabilityNone {
		return GrantSummary{}, apperr.New(opInvite, reasonInvalidRole, apperr.ErrValidation, access.ErrInvalidRole)
	}
	if err := s.requireOwner(ctx, opInvite, note, owner); err != nil {
		return GrantSummary{}, err
	}

	grantee, err := s.directory.FindByEmail(ctx, granteeEmail)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return GrantSummary{}, apperr.New(opInvite, reasonGranteeNotFound, apperr.ErrNotFound, err)
		}
		return GrantSummary{}, err
	}
	if grantee.UserID == owner {
		return GrantSummary{}, apperr.New(opInvite, reasonSelfInvite, apperr.ErrValidation, nil)
	}

	summary := GrantSummary{Grantee: grantee}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Grant
		lookupErr := tx.Where(queryNoteGrantee, note, grantee.UserID).Take(&existing).Error
		switch {
		case lookupErr == nil:
			existing.Role = role
			summary.Grant = existing
			summary.Updated = true
			return tx.Model(&Grant{}).Where(queryShareID, existing.ShareID).Update("role", role.String()).Error
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			shareID, idErr := s.idProvider.NewID()
			if idErr != nil {
				return idErr
			}
			summary.Grant = Grant{
				ShareID:         shareID,
				NoteID:          note,
				OwnerID:         owner,
				GranteeID:       grantee.UserID,
				Role:            role,
				CreatedAtMillis: s.clock().UTC().UnixMilli(),
			}
			return tx.Create(&summary.Grant).Error
		default:
			return lookupErr
		}
	})
	if err != nil {
		s.logError(opInvite, reasonWriteFailed, err, zap.String("note_id", note))
		return GrantSummary{}, apperr.New(opInvite, reasonWriteFailed, nil, err)
	}
	return summary, nil
}

// UpdateRole replaces the role of a grant the caller created.
func (s *Service) UpdateRole(ctx context.Context, shareID, ownerID string, role access.Role) (Grant, error) {
	if role.Capability() == access.CapabilityNone {
		return Grant{}, apperr.New(opUpdateRole, reasonInvalidRole, apperr.ErrValidation, access.ErrInvalidRole)
	}
	grant, err := s.ownedGrant(ctx, opUpdateRole, shareID, ownerID)
	if err != nil {
		return Grant{}, err
	}
	if err := s.db.WithContext(ctx).Model(&Grant{}).Where(queryShareID, grant.ShareID).Update("role", role.String()).Error; err != nil {
		s.logError(opUpdateRole, reasonWriteFailed, err, zap.String("share_id", grant.ShareID))
		return Grant{}, apperr.New(opUpdateRole, reasonWriteFailed, nil, err)
	}
	grant.Role = role
	return grant, nil
}

// Revoke deletes a grant the caller created and returns it.
func (s *Service) Revoke(ctx context.Context, shareID, ownerID string) (Grant, error) {
	grant, err := s.ownedGrant(ctx, opRevoke, shareID, ownerID)
	if err != nil {
		return Grant{}, err
	}
	if err := s.db.WithContext(ctx).Where(queryShareID, grant.ShareID).Delete(&Grant{}).Error; err != nil {
		s.logError(opRevoke, reasonWriteFailed, err, zap.String("share_id", grant.ShareID))
		return Grant{}, apperr.New(opRevoke, reasonWriteFailed, nil, err)
	}
	return grant, nil
}

// ListGrants returns the grants on a note, visible only to its owner.
func (s *Service) ListGrants(ctx context.Context, noteID, requesterID string) ([]GrantView, error) {
	requester, note, err := parseCaller(opListGrants, requesterID, noteID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, opListGrants, note, requester); err != nil {
		return nil, err
	}

	var grants []Grant
	if err := s.db.WithContext(ctx).Where(queryNoteID, note).Order("created_at_ms ASC, share_id ASC").Find(&grants).Error; err != nil {
		s.logError(opListGrants, reasonQueryFailed, err, zap.String("note_id", note))
		return nil, apperr.New(opListGrants, reasonQueryFailed, nil, err)
	}
	granteeIDs := make([]string, 0, len(grants))
	for _, grant := range grants {
		granteeIDs = append(granteeIDs, grant.GranteeID)
	}
	profiles, err := s.directory.Profiles(ctx, granteeIDs)
	if err != nil {
		return nil, err
	}
	views := make([]GrantView, 0, len(grants))
	for _, grant := range grants {
		views = append(views, GrantView{Grant: grant, Grantee: profiles[grant.GranteeID]})
	}
	return views, nil
}

// ListSharedWithMe returns the notes shared with userID, newest grant first.
// Grants whose note no longer exists are skipped.
func (s *Service) ListSharedWithMe(ctx context.Context, userID string) ([]SharedNote, error) {
	grantee := strings.TrimSpace(userID)
	if grantee == "" {
		return []SharedNote{}, nil
	}

	db := s.db.WithContext(ctx)
	var grants []Grant
	if err := db.Where("grantee_id = ?", grantee).Order("created_at_ms DESC").Find(&grants).Error; err != nil {
		s.logError(opListSharedWithMe, reasonQueryFailed, err, zap.String("user_id", grantee))
		return nil, apperr.New(opListSharedWithMe, reasonQueryFailed, nil, err)
	}
	if len(grants) == 0 {
		return []SharedNote{}, nil
	}

	noteIDs := make([]string, 0, len(grants))
	ownerIDs := make([]string, 0, len(grants))
	for _, grant := range grants {
		noteIDs = append(noteIDs, grant.NoteID)
		ownerIDs = append(ownerIDs, grant.OwnerID)
	}
	var rows []sharedNoteRow
	if err := db.Table(access.NotesTable).
		Select("note_id, title, subject, updated_at_ms").
		Where("note_id IN ?", noteIDs).
		Find(&rows).Error; err != nil {
		s.logError(opListSharedWithMe, reasonQueryFailed, err, zap.String("user_id", grantee))
		return nil, apperr.New(opListSharedWithMe, reasonQueryFailed, nil, err)
	}
	notesByID := make(map[string]sharedNoteRow, len(rows))
	for _, row := range rows {
		notesByID[row.NoteID] = row
	}
	owners, err := s.directory.Profiles(ctx, ownerIDs)
	if err != nil {
		return nil, err
	}

	shared := make([]SharedNote, 0, len(grants))
	for _, grant := range grants {
		row, ok := notesByID[grant.NoteID]
		if !ok {
			continue
		}
		shared = append(shared, SharedNote{
			ShareID:         grant.ShareID,
			NoteID:          grant.NoteID,
			Title:           row.Title,
			Subject:         row.Subject,
			Role:            grant.Role,
			Owner:           owners[grant.OwnerID],
			SharedAtMillis:  grant.CreatedAtMillis,
			UpdatedAtMillis: row.UpdatedAtMillis,
		})
	}
	return shared, nil
}

// GranteeIDs lists every user holding a grant on noteID, sorted.
func (s *Service) GranteeIDs(ctx context.Context, noteID string) ([]string, error) {
	var granteeIDs []string
	if err := s.db.WithContext(ctx).
		Model(&Grant{}).
		Where(queryNoteID, strings.TrimSpace(noteID)).
		Pluck("grantee_id", &granteeIDs).Error; err != nil {
		return nil, apperr.New(opGrantees, reasonQueryFailed, nil, err)
	}
	sort.Strings(granteeIDs)
	return granteeIDs, nil
}

// DeleteForNote removes every grant on noteID inside the caller's transaction.
func DeleteForNote(tx *gorm.DB, noteID string) error {
	return tx.Where(queryNoteID, noteID).Delete(&Grant{}).Error
}

func (s *Service) ownedGrant(ctx context.Context, operation, shareID, ownerID string) (Grant, error) {
	owner := strings.TrimSpace(ownerID)
	if owner == "" {
		return Grant{}, apperr.New(operation, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	share := strings.TrimSpace(shareID)
	if share == "" {
		return Grant{}, apperr.New(operation, reasonInvalidShareID, apperr.ErrValidation, nil)
	}
	var grant Grant
	err := s.db.WithContext(ctx).Where(queryShareID, share).Take(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Grant{}, apperr.New(operation, reasonShareNotFound, apperr.ErrNotFound, err)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("share_id", share))
		return Grant{}, apperr.New(operation, reasonQueryFailed, nil, err)
	}
	if grant.OwnerID != owner {
		return Grant{}, apperr.New(operation, reasonForbidden, apperr.ErrForbidden, nil)
	}
	return grant, nil
}

func (s *Service) requireOwner(ctx context.Context, operation, noteID, userID string) error {
	err := access.Require(ctx, s.access, operation, noteID, userID, access.Capability.CanManage)
	if err != nil && apperr.ReasonOf(err) == reasonAccessFailed {
		s.logError(operation, reasonAccessFailed, err, zap.String("note_id", noteID))
	}
	return err
}

func parseCaller(operation, userID, noteID string) (string, string, error) {
	user := strings.TrimSpace(userID)
	if user == "" {
		return "", "", apperr.New(operation, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	note := strings.TrimSpace(noteID)
	if note == "" {
		return "", "", apperr.New(operation, reasonInvalidNoteID, apperr.ErrValidation, nil)
	}
	return user, note, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	s.logger.Error("sharing service error", append(attrs, fields...)...)
}
