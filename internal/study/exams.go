package study

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/ai"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/progress"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	examQuestionCount      = 10
	defaultExamMinutes     = 120
	minExamMinutes         = 10
	maxExamMinutes         = 240
	defaultExamDifficulty  = "medium"
	secondsPerMinute       = 60
	examFinishedColumnName = "finished_at_ms"
)

// ExamPrep generates and stores a timed exam simulation over every note the
// caller owns under subject. A zero duration selects two hours.
func (s *Service) ExamPrep(ctx context.Context, subject, userID string, durationMinutes int) (ExamSet, error) {
	if durationMinutes == 0 {
		durationMinutes = defaultExamMinutes
	}
	if durationMinutes < minExamMinutes || durationMinutes > maxExamMinutes {
		return ExamSet{}, apperr.New(opExamPrep, reasonInvalidDuration, apperr.ErrValidation, nil)
	}
	material, err := s.material(ctx, opExamPrep, Source{Subject: subject}, userID)
	if err != nil {
		return ExamSet{}, err
	}
	reply, err := s.ai.Complete(ctx, ai.Prompt{
		System:      fmt.Sprintf(promptExam, examQuestionCount),
		User:        material,
		MaxTokens:   1000,
		Temperature: 0.4,
	})
	if err != nil {
		return ExamSet{}, err
	}
	fallback := []ExamQuestion{{Question: fallbackQuestion, Answer: fallbackExamAnswer, Difficulty: defaultExamDifficulty}}
	questions, generated := ai.ParseOrFallback(reply, func(string) []ExamQuestion { return fallback })
	questions = keepExamQuestions(questions, examQuestionCount)
	if len(questions) == 0 {
		questions, generated = fallback, false
	}

	examID, err := s.newID(opExamPrep)
	if err != nil {
		return ExamSet{}, err
	}
	exam := ExamSet{
		ExamID:          examID,
		UserID:          strings.TrimSpace(userID),
		Subject:         strings.TrimSpace(subject),
		Questions:       datatypes.JSONSlice[ExamQuestion](questions),
		DurationMinutes: durationMinutes,
		Generated:       generated,
		CreatedAtMillis: s.nowMillis(),
	}
	if err := s.db.WithContext(ctx).Create(&exam).Error; err != nil {
		s.logError(opExamPrep, reasonInsertFailed, err, zap.String("exam_id", examID))
		return ExamSet{}, apperr.New(opExamPrep, reasonInsertFailed, nil, err)
	}
	return exam, nil
}

// FinishExam hands in one of the caller's exams after elapsedSeconds. The
// studied time is capped at the exam duration and credited to the progress
// ledger as study minutes; a ledger failure does not fail the hand-in.
func (s *Service) FinishExam(ctx context.Context, examID, userID string, elapsedSeconds int) (ExamSet, error) {
	user := strings.TrimSpace(userID)
	if user == "" {
		return ExamSet{}, apperr.New(opFinishExam, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	if elapsedSeconds < 0 {
		return ExamSet{}, apperr.New(opFinishExam, reasonInvalidElapsed, apperr.ErrValidation, nil)
	}

	var exam ExamSet
	err := s.db.WithContext(ctx).Where("exam_id = ? AND user_id = ?", strings.TrimSpace(examID), user).Take(&exam).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ExamSet{}, apperr.New(opFinishExam, reasonExamNotFound, apperr.ErrNotFound, nil)
	}
	if err != nil {
		s.logError(opFinishExam, reasonQueryFailed, err, zap.String("exam_id", examID))
		return ExamSet{}, apperr.New(opFinishExam, reasonQueryFailed, nil, err)
	}
	if exam.FinishedAtMillis != nil {
		return ExamSet{}, apperr.New(opFinishExam, reasonExamFinished, apperr.ErrValidation, nil)
	}

	spent := math.Min(float64(elapsedSeconds), float64(exam.DurationMinutes*secondsPerMinute))
	studied := int(math.Round(spent / secondsPerMinute))
	finishedAt := s.nowMillis()
	result := s.db.WithContext(ctx).Model(&ExamSet{}).
		Where("exam_id = ? AND "+examFinishedColumnName+" IS NULL", exam.ExamID).
		Updates(map[string]any{examFinishedColumnName: finishedAt, "studied_minutes": studied})
	if result.Error != nil {
		s.logError(opFinishExam, reasonUpdateFailed, result.Error, zap.String("exam_id", exam.ExamID))
		return ExamSet{}, apperr.New(opFinishExam, reasonUpdateFailed, nil, result.Error)
	}
	if result.RowsAffected == 0 {
		return ExamSet{}, apperr.New(opFinishExam, reasonExamFinished, apperr.ErrValidation, nil)
	}
	exam.FinishedAtMillis = &finishedAt
	exam.StudiedMinutes = studied

	if s.progress != nil && studied > 0 {
		if err := s.progress.Log(ctx, user, "", studied, progress.KindStudy); err != nil {
			s.logger.Warn("exam time not credited",
				zap.String("operation", opFinishExam),
				zap.String("exam_id", exam.ExamID),
				zap.Error(err))
		}
	}
	return exam, nil
}

func keepExamQuestions(questions []ExamQuestion, limit int) []ExamQuestion {
	kept := make([]ExamQuestion, 0, len(questions))
	for _, question := range questions {
		if strings.TrimSpace(question.Question) == "" {
			continue
		}
		switch difficulty := strings.ToLower(strings.TrimSpace(question.Difficulty)); difficulty {
		case "easy", "medium", "hard":
			question.Difficulty = difficulty
		default:
			question.Difficulty = defaultExamDifficulty
		}
		kept = append(kept, question)
		if len(kept) == limit {
			break
		}
	}
	return kept
}
