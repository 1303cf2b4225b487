package study

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/ai"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultEstimateGrade      = 7
	defaultEstimateConfidence = 70
	fallbackConfidence        = 50
)

// gradeScale is the 7-step scale, highest first.
var gradeScale = []int{12, 10, 7, 4, 2, 0, -3}

// Ask answers a question about a note the caller can view and keeps the
// exchange in the caller's mentor history for that note.
func (s *Service) Ask(ctx context.Context, noteID, userID, question string) (MentorChat, error) {
	if strings.TrimSpace(userID) == "" {
		return MentorChat{}, apperr.New(opAsk, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return MentorChat{}, apperr.New(opAsk, reasonEmptyQuestion, apperr.ErrValidation, nil)
	}
	note, err := s.notes.Get(ctx, noteID, userID)
	if err != nil {
		return MentorChat{}, err
	}
	request := fmt.Sprintf("Based on my study notes, can you help me with this question?\n\n%s\n\nQuestion: %s",
		truncateRunes(describeNote(note), materialCharLimit), question)
	answer, err := s.ai.Complete(ctx, ai.Prompt{
		System:      promptMentor,
		User:        request,
		MaxTokens:   600,
		Temperature: 0.7,
	})
	if err != nil {
		return MentorChat{}, err
	}
	return s.saveChat(ctx, opAsk, userID, note.NoteID, question, answer)
}

// Chat answers a free-form study question and keeps it in the caller's history.
func (s *Service) Chat(ctx context.Context, userID, question string) (MentorChat, error) {
	if strings.TrimSpace(userID) == "" {
		return MentorChat{}, apperr.New(opChat, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return MentorChat{}, apperr.New(opChat, reasonEmptyQuestion, apperr.ErrValidation, nil)
	}
	answer, err := s.ai.Complete(ctx, ai.Prompt{
		System:      promptChat,
		User:        question,
		MaxTokens:   500,
		Temperature: 0.7,
	})
	if err != nil {
		return MentorChat{}, err
	}
	return s.saveChat(ctx, opChat, userID, "", question, answer)
}

// MentorHistory returns the caller's exchanges about a note, oldest first.
func (s *Service) MentorHistory(ctx context.Context, noteID, userID string) ([]MentorChat, error) {
	if err := s.require(ctx, opHistory, noteID, userID, access.Capability.CanRead); err != nil {
		return nil, err
	}
	history := []MentorChat{}
	err := s.db.WithContext(ctx).
		Where("note_id = ? AND user_id = ?", strings.TrimSpace(noteID), strings.TrimSpace(userID)).
		Order("created_at_ms ASC").
		Find(&history).Error
	if err != nil {
		s.logError(opHistory, reasonQueryFailed, err, zap.String("note_id", noteID))
		return nil, apperr.New(opHistory, reasonQueryFailed, nil, err)
	}
	return history, nil
}

// RecentMentorChats returns up to limit of the caller's latest exchanges.
func (s *Service) RecentMentorChats(ctx context.Context, userID string, limit int) ([]MentorChat, error) {
	recent := []MentorChat{}
	user := strings.TrimSpace(userID)
	if user == "" || limit <= 0 {
		return recent, nil
	}
	if err := s.db.WithContext(ctx).Where("user_id = ?", user).Order(newestFirst).Limit(limit).Find(&recent).Error; err != nil {
		s.logError(opHistory, reasonQueryFailed, err, zap.String("user_id", user))
		return nil, apperr.New(opHistory, reasonQueryFailed, nil, err)
	}
	return recent, nil
}

type estimateReply struct {
	Grade      *float64 `json:"grade"`
	Confidence *float64 `json:"confidence"`
	Strengths  []string `json:"strengths"`
	Gaps       []string `json:"gaps"`
	NextSteps  []string `json:"next_steps"`
}

// EstimateGrade predicts the caller's grade in subject from every note they
// own under it. Missing fields of a parsed reply take defaults; an unparseable
// reply yields the canned estimate.
func (s *Service) EstimateGrade(ctx context.Context, subject, userID string) (GradeEstimate, error) {
	material, err := s.material(ctx, opEstimate, Source{Subject: subject}, userID)
	if err != nil {
		return GradeEstimate{}, err
	}
	reply, err := s.ai.Complete(ctx, ai.Prompt{
		System:      promptGradeEstimate,
		User:        material,
		MaxTokens:   800,
		Temperature: 0.3,
	})
	if err != nil {
		return GradeEstimate{}, err
	}

	estimate := GradeEstimate{Subject: strings.TrimSpace(subject)}
	parsed, generated := ai.ParseOrFallback(reply, func(string) estimateReply { return estimateReply{} })
	if !generated {
		estimate.Grade = defaultEstimateGrade
		estimate.Confidence = fallbackConfidence
		estimate.Strengths = nonEmptyOr(nil, fallbackStrengths)
		estimate.Gaps = nonEmptyOr(nil, fallbackGaps)
		estimate.NextSteps = nonEmptyOr(nil, fallbackNextSteps)
		return estimate, nil
	}

	estimate.Generated = true
	estimate.Grade = defaultEstimateGrade
	if parsed.Grade != nil {
		estimate.Grade = nearestScaleGrade(*parsed.Grade)
	}
	estimate.Confidence = defaultEstimateConfidence
	if parsed.Confidence != nil {
		estimate.Confidence = int(math.Round(math.Max(0, math.Min(100, *parsed.Confidence))))
	}
	estimate.Strengths = nonEmptyOr(parsed.Strengths, fallbackStrengths)
	estimate.Gaps = nonEmptyOr(parsed.Gaps, fallbackGaps)
	estimate.NextSteps = nonEmptyOr(parsed.NextSteps, fallbackNextSteps)
	return estimate, nil
}

// DeleteForNote removes every mentor exchange about noteID inside the caller's transaction.
func DeleteForNote(tx *gorm.DB, noteID string) error {
	return tx.Where("note_id = ?", noteID).Delete(&MentorChat{}).Error
}

func (s *Service) saveChat(ctx context.Context, operation, userID, noteID, question, answer string) (MentorChat, error) {
	chatID, err := s.newID(operation)
	if err != nil {
		return MentorChat{}, err
	}
	chat := MentorChat{
		ChatID:          chatID,
		UserID:          strings.TrimSpace(userID),
		NoteID:          noteID,
		Question:        question,
		Answer:          answer,
		CreatedAtMillis: s.nowMillis(),
	}
	if err := s.db.WithContext(ctx).Create(&chat).Error; err != nil {
		s.logError(operation, reasonInsertFailed, err, zap.String("note_id", noteID))
		return MentorChat{}, apperr.New(operation, reasonInsertFailed, nil, err)
	}
	return chat, nil
}

func nearestScaleGrade(value float64) int {
	best := gradeScale[0]
	for _, step := range gradeScale[1:] {
		if math.Abs(value-float64(step)) < math.Abs(value-float64(best)) {
			best = step
		}
	}
	return best
}

func nonEmptyOr(values, fallback []string) []string {
	kept := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	if len(kept) == 0 {
		return append([]string(nil), fallback...)
	}
	return kept
}
