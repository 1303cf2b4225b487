package presence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/users"
	"go.uber.org/zap"
)

const (
	opServiceNew = "presence.service.new"
	opHeartbeat  = "presence.heartbeat"
	opListActive = "presence.list_active"
	opSweep      = "presence.sweep"

	reasonMissingDependency = "missing_dependency"
	reasonUnauthenticated   = "unauthenticated"
	reasonInvalidNoteID     = "invalid_note_id"
	reasonInvalidCursor     = "invalid_cursor"
	reasonInvalidSelection  = "invalid_selection"
	reasonStoreFailed       = "store_failed"
)

var errMissingDependency = errors.New("presence: store, access checker and directory are required")

// ProfileDirectory annotates user ids with display identities.
type ProfileDirectory interface {
	Profiles(ctx context.Context, userIDs []string) (map[string]users.Profile, error)
}

// ServiceConfig describes the dependencies of the presence tracker.
type ServiceConfig struct {
	Store     Store
	Access    access.Checker
	Directory ProfileDirectory
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service tracks who is looking at a note. Liveness is derived from the
// last heartbeat; there is no explicit disconnect.
type Service struct {
	store     Store
	access    access.Checker
	directory ProfileDirectory
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService validates the configuration and constructs the presence tracker.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil || cfg.Access == nil || cfg.Directory == nil {
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
		store:     cfg.Store,
		access:    cfg.Access,
		directory: cfg.Directory,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Heartbeat records that userID is looking at noteID right now.
func (s *Service) Heartbeat(ctx context.Context, noteID, userID string, cursor *int, selection *Selection) error {
	user, note, err := parseCaller(opHeartbeat, userID, noteID)
	if err != nil {
		return err
	}
	if cursor != nil && *cursor < 0 {
		return apperr.New(opHeartbeat, reasonInvalidCursor, apperr.ErrValidation, nil)
	}
	if selection != nil && (selection.Start < 0 || selection.End < selection.Start) {
		return apperr.New(opHeartbeat, reasonInvalidSelection, apperr.ErrValidation, nil)
	}
	if err := access.Require(ctx, s.access, opHeartbeat, note, user, access.Capability.CanRead); err != nil {
		return err
	}

	record := Record{
		NoteID:         note,
		UserID:         user,
		Cursor:         cursor,
		Selection:      selection,
		LastSeenMillis: s.clock().UTC().UnixMilli(),
	}
	if err := s.store.Upsert(ctx, record); err != nil {
		s.logError(opHeartbeat, err, zap.String("note_id", note))
		return apperr.New(opHeartbeat, reasonStoreFailed, nil, err)
	}
	return nil
}

// ListActive returns the users other than requesterID with a heartbeat within ActiveWindow.
func (s *Service) ListActive(ctx context.Context, noteID, requesterID string) ([]ActiveUser, error) {
	requester, note, err := parseCaller(opListActive, requesterID, noteID)
	if err != nil {
		return nil, err
	}
	if err := access.Require(ctx, s.access, opListActive, note, requester, access.Capability.CanRead); err != nil {
		return nil, err
	}

	since := s.clock().UTC().Add(-ActiveWindow).UnixMilli()
	records, err := s.store.ListSince(ctx, note, since)
	if err != nil {
		s.logError(opListActive, err, zap.String("note_id", note))
		return nil, apperr.New(opListActive, reasonStoreFailed, nil, err)
	}

	others := make([]Record, 0, len(records))
	userIDs := make([]string, 0, len(records))
	for _, record := range records {
		if record.UserID == requester {
			continue
		}
		others = append(others, record)
		userIDs = append(userIDs, record.UserID)
	}
	profiles, err := s.directory.Profiles(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	active := make([]ActiveUser, 0, len(others))
	for _, record := range others {
		active = append(active, ActiveUser{Record: record, Profile: profiles[record.UserID]})
	}
	return active, nil
}

// Sweep deletes every record older than RetentionWindow and returns how many were removed.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.clock().UTC().Add(-RetentionWindow).UnixMilli()
	removed, err := s.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		s.logError(opSweep, err)
		return removed, apperr.New(opSweep, reasonStoreFailed, nil, err)
	}
	return removed, nil
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

func (s *Service) logError(operation string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reasonStoreFailed),
		zap.Error(err),
	}
	s.logger.Error("presence service error", append(attrs, fields...)...)
}
