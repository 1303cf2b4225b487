package reminders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "reminders.service.new"
	opCreate     = "reminders.create"
	opList       = "reminders.list"
	opComplete   = "reminders.complete"
	opDelete     = "reminders.delete"
	opCalendar   = "reminders.calendar"

	reasonMissingDependency = "missing_dependency"
	reasonUnauthenticated   = "unauthenticated"
	reasonInvalidTitle      = "invalid_title"
	reasonInvalidTime       = "invalid_time"
	reasonInvalidKind       = "invalid_kind"
	reasonReminderNotFound  = "reminder_not_found"
	reasonIDFailed          = "id_generation_failed"
	reasonInsertFailed      = "insert_failed"
	reasonUpdateFailed      = "update_failed"
	reasonDeleteFailed      = "delete_failed"
	reasonQueryFailed       = "query_failed"

	maxTitleLength = 512
)

var errMissingDependency = errors.New("reminders: database, access and id provider are required")

// ServiceConfig describes the dependencies of the reminder service.
type ServiceConfig struct {
	Database   *gorm.DB
	Access     access.Checker
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service stores per-user reminders.
type Service struct {
	db         *gorm.DB
	access     access.Checker
	idProvider ids.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil || cfg.Access == nil || cfg.IDProvider == nil {
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
		access:     cfg.Access,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Create stores a reminder. A note reference requires the caller to view the note.
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (Reminder, error) {
	user := strings.TrimSpace(userID)
	if user == "" {
		return Reminder{}, apperr.New(opCreate, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" || len(title) > maxTitleLength {
		return Reminder{}, apperr.New(opCreate, reasonInvalidTitle, apperr.ErrValidation, nil)
	}
	if input.WhenMillis <= 0 {
		return Reminder{}, apperr.New(opCreate, reasonInvalidTime, apperr.ErrValidation, nil)
	}
	kind, err := ParseKind(string(input.Kind))
	if err != nil {
		return Reminder{}, apperr.New(opCreate, reasonInvalidKind, apperr.ErrValidation, err)
	}
	noteID := strings.TrimSpace(input.NoteID)
	if noteID != "" {
		if err := access.Require(ctx, s.access, opCreate, noteID, user, access.Capability.CanRead); err != nil {
			return Reminder{}, err
		}
	}

	reminderID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, reasonIDFailed, err)
		return Reminder{}, apperr.New(opCreate, reasonIDFailed, nil, err)
	}
	reminder := Reminder{
		ReminderID:      reminderID,
		UserID:          user,
		NoteID:          noteID,
		Title:           title,
		Description:     strings.TrimSpace(input.Description),
		WhenMillis:      input.WhenMillis,
		Kind:            kind,
		CreatedAtMillis: s.clock().UTC().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&reminder).Error; err != nil {
		s.logError(opCreate, reasonInsertFailed, err, zap.String("reminder_id", reminderID))
		return Reminder{}, apperr.New(opCreate, reasonInsertFailed, nil, err)
	}
	return reminder, nil
}

// List returns the caller's reminders ordered by time ascending.
// UpcomingOnly keeps incomplete reminders strictly in the future.
func (s *Service) List(ctx context.Context, userID string, filter ListFilter) ([]Entry, error) {
	user := strings.TrimSpace(userID)
	if user == "" {
		return []Entry{}, nil
	}
	table := Reminder{}.TableName()
	query := s.db.WithContext(ctx).
		Table(table).
		Select(table+".*, "+access.NotesTable+".title AS note_title").
		Joins("LEFT JOIN "+access.NotesTable+" ON "+access.NotesTable+".note_id = "+table+".note_id").
		Where(table+".user_id = ?", user)
	if noteID := strings.TrimSpace(filter.NoteID); noteID != "" {
		query = query.Where(table+".note_id = ?", noteID)
	}
	if filter.UpcomingOnly {
		query = query.Where(table+".when_ms > ? AND "+table+".completed = ?", s.clock().UTC().UnixMilli(), false)
	}

	var rows []entryRow
	if err := query.Order(table + ".when_ms ASC").Order(table + ".reminder_id ASC").Scan(&rows).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err)
		return nil, apperr.New(opList, reasonQueryFailed, nil, err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}

// Complete marks one of the caller's reminders done.
func (s *Service) Complete(ctx context.Context, reminderID, userID string) (Reminder, error) {
	reminder, err := s.owned(ctx, opComplete, reminderID, userID)
	if err != nil {
		return Reminder{}, err
	}
	if err := s.db.WithContext(ctx).Model(&Reminder{}).
		Where("reminder_id = ?", reminder.ReminderID).
		Update("completed", true).Error; err != nil {
		s.logError(opComplete, reasonUpdateFailed, err, zap.String("reminder_id", reminder.ReminderID))
		return Reminder{}, apperr.New(opComplete, reasonUpdateFailed, nil, err)
	}
	reminder.Completed = true
	return reminder, nil
}

// Delete removes one of the caller's reminders.
func (s *Service) Delete(ctx context.Context, reminderID, userID string) error {
	reminder, err := s.owned(ctx, opDelete, reminderID, userID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("reminder_id = ?", reminder.ReminderID).Delete(&Reminder{}).Error; err != nil {
		s.logError(opDelete, reasonDeleteFailed, err, zap.String("reminder_id", reminder.ReminderID))
		return apperr.New(opDelete, reasonDeleteFailed, nil, err)
	}
	return nil
}

// ICS renders one of the caller's reminders as an iCalendar document.
func (s *Service) ICS(ctx context.Context, reminderID, userID string) (string, error) {
	reminder, err := s.owned(ctx, opCalendar, reminderID, userID)
	if err != nil {
		return "", err
	}
	return Calendar(reminder, s.clock()), nil
}

// DetachNote clears the note reference of reminders pointing at a deleted note.
func DetachNote(tx *gorm.DB, noteID string) error {
	return tx.Model(&Reminder{}).Where("note_id = ?", noteID).Update("note_id", "").Error
}

func (s *Service) owned(ctx context.Context, operation, reminderID, userID string) (Reminder, error) {
	user := strings.TrimSpace(userID)
	if user == "" {
		return Reminder{}, apperr.New(operation, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	var reminder Reminder
	err := s.db.WithContext(ctx).
		Where("reminder_id = ? AND user_id = ?", strings.TrimSpace(reminderID), user).
		Take(&reminder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Reminder{}, apperr.New(operation, reasonReminderNotFound, apperr.ErrNotFound, nil)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err)
		return Reminder{}, apperr.New(operation, reasonQueryFailed, nil, err)
	}
	return reminder, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	s.logger.Error("reminders service error", append(attrs, fields...)...)
}

type entryRow struct {
	Reminder
	NoteTitle *string `gorm:"column:note_title"`
}

func (r entryRow) entry() Entry {
	entry := Entry{Reminder: r.Reminder}
	if r.NoteTitle != nil {
		entry.NoteTitle = *r.NoteTitle
	}
	return entry
}
