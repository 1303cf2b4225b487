package study

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const newestFirst = "created_at_ms DESC"

// Quizzes lists the caller's quizzes, newest first.
func (s *Service) Quizzes(ctx context.Context, userID string) ([]Quiz, error) {
	quizzes := []Quiz{}
	if err := s.listOwned(ctx, opQuizzes, userID, &quizzes); err != nil {
		return nil, err
	}
	return quizzes, nil
}

// FlashcardSets lists the caller's flashcard sets, newest first.
func (s *Service) FlashcardSets(ctx context.Context, userID string) ([]FlashcardSet, error) {
	sets := []FlashcardSet{}
	if err := s.listOwned(ctx, opFlashSets, userID, &sets); err != nil {
		return nil, err
	}
	return sets, nil
}

// ExamSets lists the caller's exam sets, newest first.
func (s *Service) ExamSets(ctx context.Context, userID string) ([]ExamSet, error) {
	exams := []ExamSet{}
	if err := s.listOwned(ctx, opExamSets, userID, &exams); err != nil {
		return nil, err
	}
	return exams, nil
}

// RecordFlashcardReview stores the caller's recall of one card of their own set.
func (s *Service) RecordFlashcardReview(ctx context.Context, setID, userID string, cardIndex int, response ReviewResponse) (FlashcardReview, error) {
	user := strings.TrimSpace(userID)
	if user == "" {
		return FlashcardReview{}, apperr.New(opReview, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	parsed, err := ParseReviewResponse(string(response))
	if err != nil {
		return FlashcardReview{}, apperr.New(opReview, reasonInvalidResponse, apperr.ErrValidation, err)
	}

	var set FlashcardSet
	err = s.db.WithContext(ctx).Where("set_id = ? AND user_id = ?", strings.TrimSpace(setID), user).Take(&set).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return FlashcardReview{}, apperr.New(opReview, reasonSetNotFound, apperr.ErrNotFound, nil)
	}
	if err != nil {
		s.logError(opReview, reasonQueryFailed, err, zap.String("set_id", setID))
		return FlashcardReview{}, apperr.New(opReview, reasonQueryFailed, nil, err)
	}
	if cardIndex < 0 || cardIndex >= len(set.Cards) {
		return FlashcardReview{}, apperr.New(opReview, reasonInvalidCard, apperr.ErrValidation, nil)
	}

	reviewID, err := s.newID(opReview)
	if err != nil {
		return FlashcardReview{}, err
	}
	review := FlashcardReview{
		ReviewID:        reviewID,
		SetID:           set.SetID,
		UserID:          user,
		CardIndex:       cardIndex,
		Response:        parsed,
		CreatedAtMillis: s.nowMillis(),
	}
	if err := s.db.WithContext(ctx).Create(&review).Error; err != nil {
		s.logError(opReview, reasonInsertFailed, err, zap.String("set_id", set.SetID))
		return FlashcardReview{}, apperr.New(opReview, reasonInsertFailed, nil, err)
	}
	return review, nil
}

// listOwned fills target with the caller's rows of target's table. An
// anonymous caller owns nothing.
func (s *Service) listOwned(ctx context.Context, operation, userID string, target any) error {
	user := strings.TrimSpace(userID)
	if user == "" {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("user_id = ?", user).Order(newestFirst).Find(target).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("user_id", user))
		return apperr.New(operation, reasonQueryFailed, nil, err)
	}
	return nil
}
