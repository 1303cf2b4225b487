package notes

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/events"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/ids"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingAccess     = errors.New("capability resolver is required")
	errInvalidGrade      = errors.New("grade must be between 0 and 10")
	noOpLogger           = zap.NewNop()
)

// Activity kinds and the study minutes the progress ledger credits for them.
const (
	ActivityCreate = "create"
	ActivityUpdate = "update"
	ActivityImport = "import"

	MinutesCreate = 5
	MinutesUpdate = 3
	MinutesImport = 2
)

const (
	opServiceNew     = "notes.service.new"
	opCreate         = "notes.create"
	opGet            = "notes.get"
	opUpdate         = "notes.update"
	opRestoreVersion = "notes.restore_version"
	opDelete         = "notes.delete"
	opVersions       = "notes.versions"
	opSearch         = "notes.search"
	opRecent         = "notes.recent"
	opSubjects       = "notes.subjects"
	opSetGrade       = "notes.set_grade"
	opAverageGrade   = "notes.average_grade"

	fieldNoteID    = "note_id"
	fieldUserID    = "user_id"
	fieldVersionID = "version_id"

	queryNoteID        = "note_id = ?"
	queryOwnerID       = "owner_id = ?"
	queryVersionOfNote = "version_id = ? AND note_id = ?"
	orderVersionsDesc  = "created_at_ms DESC, seq DESC"
	orderUpdatedDesc   = "updated_at_ms DESC"

	reasonUnauthenticated  = "unauthenticated"
	reasonInvalidNoteID    = "invalid_note_id"
	reasonInvalidVersionID = "invalid_version_id"
	reasonInvalidTitle     = "invalid_title"
	reasonInvalidGrade     = "invalid_grade"
	reasonNoteNotFound     = "note_not_found"
	reasonVersionNotFound  = "version_not_found"
	reasonForbidden        = "forbidden"
	reasonAccessFailed     = "access_check_failed"
	reasonIDFailed         = "id_generation_failed"
	reasonInsertFailed     = "insert_failed"
	reasonUpdateFailed     = "update_failed"
	reasonDeleteFailed     = "delete_failed"
	reasonQueryFailed      = "query_failed"
	reasonMissingDatabase  = "missing_database"
	reasonMissingIDs       = "missing_id_provider"
	reasonMissingAccess    = "missing_access"
)

// CapabilityResolver computes the caller's capability on a note.
type CapabilityResolver interface {
	Capability(ctx context.Context, noteID, userID string) (access.Capability, error)
}

// ActivityPublisher receives fire-and-forget study activity for the progress ledger.
type ActivityPublisher interface {
	PublishNoteActivity(ctx context.Context, activity events.NoteActivity) error
}

// CascadeFunc removes records that reference a note inside the delete transaction.
type CascadeFunc func(tx *gorm.DB, noteID string) error

// ServiceConfig describes the dependencies of the note store.
type ServiceConfig struct {
	Database       *gorm.DB
	Clock          func() time.Time
	IDProvider     ids.Provider
	Access         CapabilityResolver
	Activity       ActivityPublisher
	DeleteCascades []CascadeFunc
	Logger         *zap.Logger
}

// Service owns notes and their append-only version history.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	access     CapabilityResolver
	activity   ActivityPublisher
	cascades   []CascadeFunc
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the note store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(opServiceNew, reasonMissingDatabase, nil, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.New(opServiceNew, reasonMissingIDs, nil, errMissingIDProvider)
	}
	if cfg.Access == nil {
		return nil, apperr.New(opServiceNew, reasonMissingAccess, nil, errMissingAccess)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		access:     cfg.Access,
		activity:   cfg.Activity,
		cascades:   append([]CascadeFunc(nil), cfg.DeleteCascades...),
		logger:     logger,
	}, nil
}

// Create inserts a note owned by ownerID together with its first version.
func (s *Service) Create(ctx context.Context, ownerID string, input CreateInput) (Note, error) {
	return s.create(ctx, ownerID, input, ActivityCreate, MinutesCreate)
}

// Import behaves like Create but credits the owner with import activity.
func (s *Service) Import(ctx context.Context, ownerID string, input CreateInput) (Note, error) {
	return s.create(ctx, ownerID, input, ActivityImport, MinutesImport)
}

func (s *Service) create(ctx context.Context, ownerID string, input CreateInput, activityKind string, minutes int) (Note, error) {
	owner, err := requireUser(opCreate, ownerID)
	if err != nil {
		return Note{}, err
	}
	title, err := normalizeTitle(input.Title)
	if err != nil {
		return Note{}, apperr.New(opCreate, reasonInvalidTitle, apperr.ErrValidation, err)
	}

	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, reasonIDFailed, err, zap.String(fieldUserID, owner.String()))
		return Note{}, apperr.New(opCreate, reasonIDFailed, nil, err)
	}

	now := nowMillis(s.clock)
	note := Note{
		NoteID:          noteID,
		OwnerID:         owner.String(),
		Title:           title,
		Body:            input.Body,
		Subject:         strings.TrimSpace(input.Subject),
		Tags:            datatypes.JSONSlice[string](normalizeTags(input.Tags)),
		Color:           strings.TrimSpace(input.Color),
		CreatedAtMillis: now,
		UpdatedAtMillis: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&note).Error; err != nil {
			return err
		}
		_, err := s.appendVersion(tx, note, owner, now)
		return err
	})
	if err != nil {
		s.logError(opCreate, reasonInsertFailed, err, zap.String(fieldUserID, owner.String()))
		return Note{}, apperr.New(opCreate, reasonInsertFailed, nil, err)
	}

	s.publishActivity(ctx, owner, note.NoteID, activityKind, minutes)
	return note, nil
}

// Get returns a note the caller can at least view.
func (s *Service) Get(ctx context.Context, noteID, userID string) (Note, error) {
	user, note, err := s.parseIdentifiers(opGet, noteID, userID)
	if err != nil {
		return Note{}, err
	}
	if err := s.authorize(ctx, opGet, note, user, access.Capability.CanRead); err != nil {
		return Note{}, err
	}
	return s.loadNote(s.db.WithContext(ctx), opGet, note)
}

// Update applies patch on behalf of an editor or the owner. When the body
// changes, the pre-patch title and body are snapshotted first. The returned
// flag reports whether anything was written.
func (s *Service) Update(ctx context.Context, noteID, userID string, patch Patch) (bool, error) {
	user, note, err := s.parseIdentifiers(opUpdate, noteID, userID)
	if err != nil {
		return false, err
	}
	if patch.Title != nil {
		title, titleErr := normalizeTitle(*patch.Title)
		if titleErr != nil {
			return false, apperr.New(opUpdate, reasonInvalidTitle, apperr.ErrValidation, titleErr)
		}
		patch.Title = &title
	}
	if err := s.authorize(ctx, opUpdate, note, user, access.Capability.CanWrite); err != nil {
		return false, err
	}
	if patch.IsEmpty() {
		return false, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := s.loadNote(tx.Clauses(clause.Locking{Strength: "UPDATE"}), opUpdate, note)
		if err != nil {
			return err
		}
		now := nowMillis(s.clock)
		if patch.Body != nil && *patch.Body != stored.Body {
			if _, err := s.appendVersion(tx, stored, user, now); err != nil {
				return err
			}
		}
		applyPatch(&stored, patch)
		stored.UpdatedAtMillis = now
		return tx.Save(&stored).Error
	})
	if err != nil {
		return false, s.wrapWriteError(opUpdate, reasonUpdateFailed, err, note)
	}

	s.publishActivity(ctx, user, note.String(), ActivityUpdate, MinutesUpdate)
	return true, nil
}

// RestoreVersion overwrites the live title and body with versionID's snapshot.
// The current live content is preserved as a new version first; the returned
// version is that preserving snapshot.
func (s *Service) RestoreVersion(ctx context.Context, noteID, versionID, userID string) (NoteVersion, error) {
	user, note, err := s.parseIdentifiers(opRestoreVersion, noteID, userID)
	if err != nil {
		return NoteVersion{}, err
	}
	version := strings.TrimSpace(versionID)
	if version == "" {
		return NoteVersion{}, apperr.New(opRestoreVersion, reasonInvalidVersionID, apperr.ErrValidation, nil)
	}
	if err := s.authorize(ctx, opRestoreVersion, note, user, access.Capability.CanWrite); err != nil {
		return NoteVersion{}, err
	}

	var snapshot NoteVersion
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target NoteVersion
		err := tx.Where(queryVersionOfNote, version, note.String()).Take(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(opRestoreVersion, reasonVersionNotFound, apperr.ErrNotFound, err)
		}
		if err != nil {
			return err
		}

		stored, err := s.loadNote(tx.Clauses(clause.Locking{Strength: "UPDATE"}), opRestoreVersion, note)
		if err != nil {
			return err
		}
		now := nowMillis(s.clock)
		snapshot, err = s.appendVersion(tx, stored, user, now)
		if err != nil {
			return err
		}
		stored.Title = target.Title
		stored.Body = target.Body
		stored.UpdatedAtMillis = now
		return tx.Save(&stored).Error
	})
	if err != nil {
		return NoteVersion{}, s.wrapWriteError(opRestoreVersion, reasonUpdateFailed, err, note, zap.String(fieldVersionID, version))
	}
	return snapshot, nil
}

// Delete removes the note, its versions and every registered dependent record.
func (s *Service) Delete(ctx context.Context, noteID, userID string) error {
	user, note, err := s.parseIdentifiers(opDelete, noteID, userID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, opDelete, note, user, access.Capability.CanManage); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(queryNoteID, note.String()).Delete(&NoteVersion{}).Error; err != nil {
			return err
		}
		for _, cascade := range s.cascades {
			if err := cascade(tx, note.String()); err != nil {
				return err
			}
		}
		return tx.Where(queryNoteID, note.String()).Delete(&Note{}).Error
	})
	if err != nil {
		return s.wrapWriteError(opDelete, reasonDeleteFailed, err, note)
	}
	return nil
}

// Versions lists a note's history newest-first.
func (s *Service) Versions(ctx context.Context, noteID, userID string) ([]NoteVersion, error) {
	user, note, err := s.parseIdentifiers(opVersions, noteID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, opVersions, note, user, access.Capability.CanRead); err != nil {
		return nil, err
	}

	var versions []NoteVersion
	if err := s.db.WithContext(ctx).
		Where(queryNoteID, note.String()).
		Order(orderVersionsDesc).
		Find(&versions).Error; err != nil {
		s.logError(opVersions, reasonQueryFailed, err, zap.String(fieldNoteID, note.String()))
		return nil, apperr.New(opVersions, reasonQueryFailed, nil, err)
	}
	return versions, nil
}

// Search filters and orders the notes owned by ownerID. An absent identity yields no results.
func (s *Service) Search(ctx context.Context, ownerID string, query SearchQuery) ([]Note, error) {
	owner, err := NewUserID(ownerID)
	if err != nil {
		return []Note{}, nil
	}
	candidates, err := s.ownedNotes(ctx, opSearch, owner)
	if err != nil {
		return nil, err
	}
	filtered := filterNotes(candidates, query)
	sortNotes(filtered, query.Sort)
	return filtered, nil
}

// Recent returns the owner's most recently updated notes.
func (s *Service) Recent(ctx context.Context, ownerID string, limit int) ([]Note, error) {
	owner, err := NewUserID(ownerID)
	if err != nil {
		return []Note{}, nil
	}
	if limit <= 0 {
		limit = 5
	}
	var recent []Note
	if err := s.db.WithContext(ctx).
		Where(queryOwnerID, owner.String()).
		Order(orderUpdatedDesc).
		Limit(limit).
		Find(&recent).Error; err != nil {
		s.logError(opRecent, reasonQueryFailed, err, zap.String(fieldUserID, owner.String()))
		return nil, apperr.New(opRecent, reasonQueryFailed, nil, err)
	}
	return recent, nil
}

// Subjects returns the distinct subjects used by the owner's notes.
func (s *Service) Subjects(ctx context.Context, ownerID string) ([]string, error) {
	owner, err := NewUserID(ownerID)
	if err != nil {
		return []string{}, nil
	}
	candidates, err := s.ownedNotes(ctx, opSubjects, owner)
	if err != nil {
		return nil, err
	}
	return distinctSubjects(candidates), nil
}

// SetGrade stores an assessment on a note the caller owns.
func (s *Service) SetGrade(ctx context.Context, noteID, userID string, grade float64, feedback string) error {
	user, note, err := s.parseIdentifiers(opSetGrade, noteID, userID)
	if err != nil {
		return err
	}
	if math.IsNaN(grade) || grade < 0 || grade > 10 {
		return apperr.New(opSetGrade, reasonInvalidGrade, apperr.ErrValidation, errInvalidGrade)
	}
	if err := s.authorize(ctx, opSetGrade, note, user, access.Capability.CanManage); err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Model(&Note{}).
		Where(queryNoteID, note.String()).
		Updates(map[string]any{"grade": grade, "feedback": feedback}).Error
	if err != nil {
		return s.wrapWriteError(opSetGrade, reasonUpdateFailed, err, note)
	}
	return nil
}

// AverageGrade returns the owner's mean grade rounded to one decimal, or nil when nothing is graded.
func (s *Service) AverageGrade(ctx context.Context, ownerID string) (*float64, error) {
	owner, err := NewUserID(ownerID)
	if err != nil {
		return nil, nil
	}
	candidates, err := s.ownedNotes(ctx, opAverageGrade, owner)
	if err != nil {
		return nil, err
	}
	total := 0.0
	graded := 0
	for _, note := range candidates {
		if note.Grade == nil {
			continue
		}
		total += *note.Grade
		graded++
	}
	if graded == 0 {
		return nil, nil
	}
	average := math.Round(total/float64(graded)*10) / 10
	return &average, nil
}

func (s *Service) ownedNotes(ctx context.Context, operation string, owner UserID) ([]Note, error) {
	var owned []Note
	if err := s.db.WithContext(ctx).
		Where(queryOwnerID, owner.String()).
		Order(orderUpdatedDesc).
		Find(&owned).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String(fieldUserID, owner.String()))
		return nil, apperr.New(operation, reasonQueryFailed, nil, err)
	}
	return owned, nil
}

func (s *Service) appendVersion(tx *gorm.DB, note Note, author UserID, createdAtMillis int64) (NoteVersion, error) {
	var maxSequence int64
	if err := tx.Model(&NoteVersion{}).
		Where(queryNoteID, note.NoteID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSequence).Error; err != nil {
		return NoteVersion{}, err
	}
	versionID, err := s.idProvider.NewID()
	if err != nil {
		return NoteVersion{}, err
	}
	version := NoteVersion{
		VersionID:       versionID,
		NoteID:          note.NoteID,
		AuthorID:        author.String(),
		Title:           note.Title,
		Body:            note.Body,
		Sequence:        maxSequence + 1,
		CreatedAtMillis: createdAtMillis,
	}
	if err := tx.Create(&version).Error; err != nil {
		return NoteVersion{}, err
	}
	return version, nil
}

func (s *Service) loadNote(db *gorm.DB, operation string, note NoteID) (Note, error) {
	var stored Note
	err := db.Where(queryNoteID, note.String()).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, apperr.New(operation, reasonNoteNotFound, apperr.ErrNotFound, err)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String(fieldNoteID, note.String()))
		return Note{}, apperr.New(operation, reasonQueryFailed, nil, err)
	}
	return stored, nil
}

// authorize checks the capability first and only then distinguishes a missing
// note from a forbidden one.
func (s *Service) authorize(ctx context.Context, operation string, note NoteID, user UserID, allowed func(access.Capability) bool) error {
	capability, err := s.access.Capability(ctx, note.String(), user.String())
	if err != nil {
		s.logError(operation, reasonAccessFailed, err,
			zap.String(fieldNoteID, note.String()),
			zap.String(fieldUserID, user.String()))
		return apperr.New(operation, reasonAccessFailed, nil, err)
	}
	if allowed(capability) {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&Note{}).Where(queryNoteID, note.String()).Count(&count).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String(fieldNoteID, note.String()))
		return apperr.New(operation, reasonQueryFailed, nil, err)
	}
	if count == 0 {
		return apperr.New(operation, reasonNoteNotFound, apperr.ErrNotFound, nil)
	}
	return apperr.New(operation, reasonForbidden, apperr.ErrForbidden, nil)
}

func (s *Service) parseIdentifiers(operation, noteID, userID string) (UserID, NoteID, error) {
	user, err := requireUser(operation, userID)
	if err != nil {
		return "", "", err
	}
	note, err := NewNoteID(noteID)
	if err != nil {
		return "", "", apperr.New(operation, reasonInvalidNoteID, apperr.ErrValidation, err)
	}
	return user, note, nil
}

func (s *Service) wrapWriteError(operation, reason string, err error, note NoteID, fields ...zap.Field) error {
	var serviceErr *apperr.ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}
	fields = append(fields, zap.String(fieldNoteID, note.String()))
	s.logError(operation, reason, err, fields...)
	return apperr.New(operation, reason, nil, err)
}

func (s *Service) publishActivity(ctx context.Context, user UserID, noteID, kind string, minutes int) {
	if s.activity == nil {
		return
	}
	err := s.activity.PublishNoteActivity(ctx, events.NoteActivity{
		UserID:           user.String(),
		NoteID:           noteID,
		Kind:             kind,
		Minutes:          minutes,
		OccurredAtMillis: nowMillis(s.clock),
	})
	if err != nil {
		s.loggerOrDefault().Warn("note activity publish failed",
			zap.String("kind", kind),
			zap.String(fieldNoteID, noteID),
			zap.Error(err))
	}
}

func requireUser(operation, rawUserID string) (UserID, error) {
	user, err := NewUserID(rawUserID)
	if err != nil {
		return "", apperr.New(operation, reasonUnauthenticated, apperr.ErrUnauthenticated, err)
	}
	return user, nil
}

func applyPatch(note *Note, patch Patch) {
	if patch.Title != nil {
		note.Title = *patch.Title
	}
	if patch.Body != nil {
		note.Body = *patch.Body
	}
	if patch.Subject != nil {
		note.Subject = strings.TrimSpace(*patch.Subject)
	}
	if patch.Tags != nil {
		note.Tags = datatypes.JSONSlice[string](normalizeTags(*patch.Tags))
	}
	if patch.Color != nil {
		note.Color = strings.TrimSpace(*patch.Color)
	}
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notes service error", attrs...)
}
