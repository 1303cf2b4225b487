package comments

import (
	"context"
	"errors"
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
	maxCommentLength = 4000

	opServiceNew = "comments.service.new"
	opAdd        = "comments.add"
	opList       = "comments.list"
	opResolve    = "comments.resolve"
	opDelete     = "comments.delete"

	queryCommentID = "comment_id = ?"
	queryNoteID    = "note_id = ?"

	reasonMissingDependency = "missing_dependency"
	reasonUnauthenticated   = "unauthenticated"
	reasonInvalidNoteID     = "invalid_note_id"
	reasonInvalidCommentID  = "invalid_comment_id"
	reasonInvalidText       = "invalid_text"
	reasonInvalidAnchor     = "invalid_anchor"
	reasonCommentNotFound   = "comment_not_found"
	reasonForbidden         = "forbidden"
	reasonQueryFailed       = "query_failed"
	reasonWriteFailed       = "write_failed"
)

var errMissingDependency = errors.New("comments: database, id provider, access checker and directory are required")

// ProfileDirectory annotates user ids with display identities.
type ProfileDirectory interface {
	Profiles(ctx context.Context, userIDs []string) (map[string]users.Profile, error)
}

// ServiceConfig describes the dependencies of the comment thread.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Access     access.Checker
	Directory  ProfileDirectory
	Logger     *zap.Logger
}

// Service manages anchored discussion on notes.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	access     access.Checker
	directory  ProfileDirectory
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the comment thread.
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

// Add posts a comment. Any viewer of the note may comment.
func (s *Service) Add(ctx context.Context, noteID, authorID, text string, anchor *Anchor) (Comment, error) {
	author := strings.TrimSpace(authorID)
	if author == "" {
		return Comment{}, apperr.New(opAdd, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	note := strings.TrimSpace(noteID)
	if note == "" {
		return Comment{}, apperr.New(opAdd, reasonInvalidNoteID, apperr.ErrValidation, nil)
	}
	body := strings.TrimSpace(text)
	if body == "" || len(body) > maxCommentLength {
		return Comment{}, apperr.New(opAdd, reasonInvalidText, apperr.ErrValidation, nil)
	}
	if anchor != nil && (anchor.Start < 0 || anchor.End < anchor.Start) {
		return Comment{}, apperr.New(opAdd, reasonInvalidAnchor, apperr.ErrValidation, nil)
	}
	if err := access.Require(ctx, s.access, opAdd, note, author, access.Capability.CanRead); err != nil {
		return Comment{}, err
	}

	commentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAdd, reasonWriteFailed, err)
		return Comment{}, apperr.New(opAdd, reasonWriteFailed, nil, err)
	}
	comment := Comment{
		CommentID:       commentID,
		NoteID:          note,
		AuthorID:        author,
		Text:            body,
		CreatedAtMillis: s.clock().UTC().UnixMilli(),
	}
	if anchor != nil {
		start, end := anchor.Start, anchor.End
		comment.AnchorStart = &start
		comment.AnchorEnd = &end
		comment.AnchorText = anchor.Text
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.logError(opAdd, reasonWriteFailed, err, zap.String("note_id", note))
		return Comment{}, apperr.New(opAdd, reasonWriteFailed, nil, err)
	}
	return comment, nil
}

// List returns a note's comments newest-first with author identities.
func (s *Service) List(ctx context.Context, noteID, requesterID string) ([]Entry, error) {
	requester := strings.TrimSpace(requesterID)
	if requester == "" {
		return nil, apperr.New(opList, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	note := strings.TrimSpace(noteID)
	if err := access.Require(ctx, s.access, opList, note, requester, access.Capability.CanRead); err != nil {
		return nil, err
	}

	var thread []Comment
	if err := s.db.WithContext(ctx).
		Where(queryNoteID, note).
		Order("created_at_ms DESC, comment_id DESC").
		Find(&thread).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err, zap.String("note_id", note))
		return nil, apperr.New(opList, reasonQueryFailed, nil, err)
	}
	authorIDs := make([]string, 0, len(thread))
	for _, comment := range thread {
		authorIDs = append(authorIDs, comment.AuthorID)
	}
	profiles, err := s.directory.Profiles(ctx, authorIDs)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(thread))
	for _, comment := range thread {
		entries = append(entries, Entry{Comment: comment, Author: profiles[comment.AuthorID]})
	}
	return entries, nil
}

// Resolve marks a comment resolved. Only its author or the note owner may do so.
func (s *Service) Resolve(ctx context.Context, commentID, requesterID string) (Comment, error) {
	comment, err := s.moderatedComment(ctx, opResolve, commentID, requesterID)
	if err != nil {
		return Comment{}, err
	}
	if err := s.db.WithContext(ctx).Model(&Comment{}).Where(queryCommentID, comment.CommentID).Update("resolved", true).Error; err != nil {
		s.logError(opResolve, reasonWriteFailed, err, zap.String("comment_id", comment.CommentID))
		return Comment{}, apperr.New(opResolve, reasonWriteFailed, nil, err)
	}
	comment.Resolved = true
	return comment, nil
}

// Delete removes a comment. Only its author or the note owner may do so.
func (s *Service) Delete(ctx context.Context, commentID, requesterID string) (Comment, error) {
	comment, err := s.moderatedComment(ctx, opDelete, commentID, requesterID)
	if err != nil {
		return Comment{}, err
	}
	if err := s.db.WithContext(ctx).Where(queryCommentID, comment.CommentID).Delete(&Comment{}).Error; err != nil {
		s.logError(opDelete, reasonWriteFailed, err, zap.String("comment_id", comment.CommentID))
		return Comment{}, apperr.New(opDelete, reasonWriteFailed, nil, err)
	}
	return comment, nil
}

// DeleteForNote removes every comment on noteID inside the caller's transaction.
func DeleteForNote(tx *gorm.DB, noteID string) error {
	return tx.Where(queryNoteID, noteID).Delete(&Comment{}).Error
}

func (s *Service) moderatedComment(ctx context.Context, operation, commentID, requesterID string) (Comment, error) {
	requester := strings.TrimSpace(requesterID)
	if requester == "" {
		return Comment{}, apperr.New(operation, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	id := strings.TrimSpace(commentID)
	if id == "" {
		return Comment{}, apperr.New(operation, reasonInvalidCommentID, apperr.ErrValidation, nil)
	}

	var comment Comment
	err := s.db.WithContext(ctx).Where(queryCommentID, id).Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Comment{}, apperr.New(operation, reasonCommentNotFound, apperr.ErrNotFound, err)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("comment_id", id))
		return Comment{}, apperr.New(operation, reasonQueryFailed, nil, err)
	}
	if comment.AuthorID == requester {
		return comment, nil
	}
	capability, err := s.access.Capability(ctx, comment.NoteID, requester)
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("comment_id", id))
		return Comment{}, apperr.New(operation, reasonQueryFailed, nil, err)
	}
	if !capability.CanManage() {
		return Comment{}, apperr.New(operation, reasonForbidden, apperr.ErrForbidden, nil)
	}
	return comment, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	s.logger.Error("comments service error", append(attrs, fields...)...)
}
