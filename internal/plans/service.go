package plans

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
	"gorm.io/gorm/clause"
)

const (
	opServiceNew = "plans.service.new"
	opCreate     = "plans.create"
	opUpdate     = "plans.update"
	opList       = "plans.list"
	opDelete     = "plans.delete"
	opAddNote    = "plans.add_note"
	opToggleNote = "plans.toggle_note"
	opRemoveNote = "plans.remove_note"
	opNotes      = "plans.notes"

	reasonMissing          = "missing_dependency"
	reasonUnauthenticated  = "unauthenticated"
	reasonInvalidTitle     = "invalid_title"
	reasonInvalidDueDate   = "invalid_due_date"
	reasonPlanNotFound     = "plan_not_found"
	reasonPlanNoteNotFound = "plan_note_not_found"
	reasonIDFailed         = "id_generation_failed"
	reasonInsertFailed     = "insert_failed"
	reasonUpdateFailed     = "update_failed"
	reasonDeleteFailed     = "delete_failed"
	reasonQueryFailed      = "query_failed"

	maxTitleLength = 512
)

var errMissingDependency = errors.New("plans: database, access and id provider are required")

// ServiceConfig describes the dependencies of the plan service.
type ServiceConfig struct {
	Database   *gorm.DB
	Access     access.Checker
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service stores study plans and the notes attached to them.
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
		return nil, apperr.New(opServiceNew, reasonMissing, nil, errMissingDependency)
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

// Create stores a new plan for the caller.
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (Plan, error) {
	user := strings.TrimSpace(userID)
	if user == "" {
		return Plan{}, apperr.New(opCreate, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	title, err := validTitle(opCreate, input.Title)
	if err != nil {
		return Plan{}, err
	}
	if input.DueAtMillis <= 0 {
		return Plan{}, apperr.New(opCreate, reasonInvalidDueDate, apperr.ErrValidation, nil)
	}

	planID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, reasonIDFailed, err)
		return Plan{}, apperr.New(opCreate, reasonIDFailed, nil, err)
	}
	now := s.nowMillis()
	plan := Plan{
		PlanID:          planID,
		UserID:          user,
		Title:           title,
		Goals:           strings.TrimSpace(input.Goals),
		DueAtMillis:     input.DueAtMillis,
		CreatedAtMillis: now,
		UpdatedAtMillis: now,
	}
	if err := s.db.WithContext(ctx).Create(&plan).Error; err != nil {
		s.logError(opCreate, reasonInsertFailed, err, zap.String("plan_id", planID))
		return Plan{}, apperr.New(opCreate, reasonInsertFailed, nil, err)
	}
	return plan, nil
}

// Update applies patch to one of the caller's plans. An empty patch returns
// the plan unchanged.
func (s *Service) Update(ctx context.Context, planID, userID string, patch Patch) (Plan, error) {
	plan, err := s.owned(ctx, opUpdate, planID, userID)
	if err != nil {
		return Plan{}, err
	}
	if patch.empty() {
		return plan, nil
	}
	updates := map[string]any{}
	if patch.Title != nil {
		title, err := validTitle(opUpdate, *patch.Title)
		if err != nil {
			return Plan{}, err
		}
		plan.Title = title
		updates["title"] = title
	}
	if patch.Goals != nil {
		plan.Goals = strings.TrimSpace(*patch.Goals)
		updates["goals"] = plan.Goals
	}
	if patch.DueAtMillis != nil {
		if *patch.DueAtMillis <= 0 {
			return Plan{}, apperr.New(opUpdate, reasonInvalidDueDate, apperr.ErrValidation, nil)
		}
		plan.DueAtMillis = *patch.DueAtMillis
		updates["due_at_ms"] = plan.DueAtMillis
	}
	plan.UpdatedAtMillis = s.nowMillis()
	updates["updated_at_ms"] = plan.UpdatedAtMillis

	if err := s.db.WithContext(ctx).Model(&Plan{}).Where("plan_id = ?", plan.PlanID).Updates(updates).Error; err != nil {
		s.logError(opUpdate, reasonUpdateFailed, err, zap.String("plan_id", plan.PlanID))
		return Plan{}, apperr.New(opUpdate, reasonUpdateFailed, nil, err)
	}
	return plan, nil
}

type countRow struct {
	PlanID    string `gorm:"column:plan_id"`
	Total     int    `gorm:"column:total"`
	Completed int    `gorm:"column:completed"`
}

// List returns the caller's plans newest first with their completion counts.
func (s *Service) List(ctx context.Context, userID string) ([]View, error) {
	user := strings.TrimSpace(userID)
	if user == "" {
		return []View{}, nil
	}
	var owned []Plan
	if err := s.db.WithContext(ctx).Where("user_id = ?", user).Order("created_at_ms DESC").Find(&owned).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err)
		return nil, apperr.New(opList, reasonQueryFailed, nil, err)
	}
	views := make([]View, 0, len(owned))
	if len(owned) == 0 {
		return views, nil
	}

	planIDs := make([]string, 0, len(owned))
	for _, plan := range owned {
		planIDs = append(planIDs, plan.PlanID)
	}
	var counts []countRow
	err := s.db.WithContext(ctx).Model(&PlanNote{}).
		Select("plan_id, COUNT(*) AS total, SUM(CASE WHEN completed THEN 1 ELSE 0 END) AS completed").
		Where("plan_id IN ?", planIDs).
		Group("plan_id").
		Scan(&counts).Error
	if err != nil {
		s.logError(opList, reasonQueryFailed, err)
		return nil, apperr.New(opList, reasonQueryFailed, nil, err)
	}
	byPlan := make(map[string]countRow, len(counts))
	for _, row := range counts {
		byPlan[row.PlanID] = row
	}
	for _, plan := range owned {
		row := byPlan[plan.PlanID]
		views = append(views, View{
			Plan:           plan,
			NoteCount:      row.Total,
			CompletedCount: row.Completed,
			Progress:       progressPercent(row.Completed, row.Total),
		})
	}
	return views, nil
}

// Delete removes one of the caller's plans with its note attachments.
func (s *Service) Delete(ctx context.Context, planID, userID string) error {
	plan, err := s.owned(ctx, opDelete, planID, userID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("plan_id = ?", plan.PlanID).Delete(&PlanNote{}).Error; err != nil {
			return err
		}
		return tx.Where("plan_id = ?", plan.PlanID).Delete(&Plan{}).Error
	})
	if err != nil {
		s.logError(opDelete, reasonDeleteFailed, err, zap.String("plan_id", plan.PlanID))
		return apperr.New(opDelete, reasonDeleteFailed, nil, err)
	}
	return nil
}

// AddNote attaches a note the caller can view to one of their plans. Adding
// an attached note again returns the existing attachment.
func (s *Service) AddNote(ctx context.Context, planID, noteID, userID string) (PlanNote, error) {
	plan, err := s.owned(ctx, opAddNote, planID, userID)
	if err != nil {
		return PlanNote{}, err
	}
	note := strings.TrimSpace(noteID)
	if err := access.Require(ctx, s.access, opAddNote, note, plan.UserID, access.Capability.CanRead); err != nil {
		return PlanNote{}, err
	}

	attachment := PlanNote{PlanID: plan.PlanID, NoteID: note, AddedAtMillis: s.nowMillis()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&attachment).Error
	if err != nil {
		s.logError(opAddNote, reasonInsertFailed, err, zap.String("plan_id", plan.PlanID), zap.String("note_id", note))
		return PlanNote{}, apperr.New(opAddNote, reasonInsertFailed, nil, err)
	}
	return s.attachment(ctx, opAddNote, plan.PlanID, note)
}

// ToggleNote flips the completion flag of a note attached to one of the caller's plans.
func (s *Service) ToggleNote(ctx context.Context, planID, noteID, userID string) (PlanNote, error) {
	plan, err := s.owned(ctx, opToggleNote, planID, userID)
	if err != nil {
		return PlanNote{}, err
	}
	attachment, err := s.attachment(ctx, opToggleNote, plan.PlanID, strings.TrimSpace(noteID))
	if err != nil {
		return PlanNote{}, err
	}
	attachment.Completed = !attachment.Completed
	err = s.db.WithContext(ctx).Model(&PlanNote{}).
		Where("plan_id = ? AND note_id = ?", attachment.PlanID, attachment.NoteID).
		Update("completed", attachment.Completed).Error
	if err != nil {
		s.logError(opToggleNote, reasonUpdateFailed, err, zap.String("plan_id", plan.PlanID))
		return PlanNote{}, apperr.New(opToggleNote, reasonUpdateFailed, nil, err)
	}
	return attachment, nil
}

// RemoveNote detaches a note from one of the caller's plans.
func (s *Service) RemoveNote(ctx context.Context, planID, noteID, userID string) error {
	plan, err := s.owned(ctx, opRemoveNote, planID, userID)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).
		Where("plan_id = ? AND note_id = ?", plan.PlanID, strings.TrimSpace(noteID)).
		Delete(&PlanNote{})
	if result.Error != nil {
		s.logError(opRemoveNote, reasonDeleteFailed, result.Error, zap.String("plan_id", plan.PlanID))
		return apperr.New(opRemoveNote, reasonDeleteFailed, nil, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.New(opRemoveNote, reasonPlanNoteNotFound, apperr.ErrNotFound, nil)
	}
	return nil
}

type noteRow struct {
	PlanNote
	Title   string `gorm:"column:title"`
	Subject string `gorm:"column:subject"`
}

// Notes lists the notes attached to one of the caller's plans in the order
// they were added.
func (s *Service) Notes(ctx context.Context, planID, userID string) ([]NoteEntry, error) {
	plan, err := s.owned(ctx, opNotes, planID, userID)
	if err != nil {
		return nil, err
	}
	table := PlanNote{}.TableName()
	var rows []noteRow
	err = s.db.WithContext(ctx).
		Table(table).
		Select(table+".*, "+access.NotesTable+".title AS title, "+access.NotesTable+".subject AS subject").
		Joins("JOIN "+access.NotesTable+" ON "+access.NotesTable+".note_id = "+table+".note_id").
		Where(table+".plan_id = ?", plan.PlanID).
		Order(table + ".added_at_ms ASC").
		Order(table + ".note_id ASC").
		Scan(&rows).Error
	if err != nil {
		s.logError(opNotes, reasonQueryFailed, err, zap.String("plan_id", plan.PlanID))
		return nil, apperr.New(opNotes, reasonQueryFailed, nil, err)
	}
	entries := make([]NoteEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, NoteEntry{PlanNote: row.PlanNote, Title: row.Title, Subject: row.Subject})
	}
	return entries, nil
}

// DeleteForNote detaches a deleted note from every plan inside the caller's transaction.
func DeleteForNote(tx *gorm.DB, noteID string) error {
	return tx.Where("note_id = ?", noteID).Delete(&PlanNote{}).Error
}

func (s *Service) owned(ctx context.Context, operation, planID, userID string) (Plan, error) {
	user := strings.TrimSpace(userID)
	if user == "" {
		return Plan{}, apperr.New(operation, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	var plan Plan
	err := s.db.WithContext(ctx).
		Where("plan_id = ? AND user_id = ?", strings.TrimSpace(planID), user).
		Take(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Plan{}, apperr.New(operation, reasonPlanNotFound, apperr.ErrNotFound, nil)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err)
		return Plan{}, apperr.New(operation, reasonQueryFailed, nil, err)
	}
	return plan, nil
}

func (s *Service) attachment(ctx context.Context, operation, planID, noteID string) (PlanNote, error) {
	var attachment PlanNote
	err := s.db.WithContext(ctx).Where("plan_id = ? AND note_id = ?", planID, noteID).Take(&attachment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PlanNote{}, apperr.New(operation, reasonPlanNoteNotFound, apperr.ErrNotFound, nil)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("plan_id", planID))
		return PlanNote{}, apperr.New(operation, reasonQueryFailed, nil, err)
	}
	return attachment, nil
}

func validTitle(operation, raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" || len(title) > maxTitleLength {
		return "", apperr.New(operation, reasonInvalidTitle, apperr.ErrValidation, nil)
	}
	return title, nil
}

func (s *Service) nowMillis() int64 {
	return s.clock().UTC().UnixMilli()
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	s.logger.Error("plans service error", append(attrs, fields...)...)
}
