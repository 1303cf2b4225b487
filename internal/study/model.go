package study

import (
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

// QuizQuestion is one generated question with its reference answer.
type QuizQuestion struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Flashcard is one generated front/back pair.
type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// Quiz is a persisted set of generated questions.
type Quiz struct {
	QuizID          string                            `gorm:"column:quiz_id;primaryKey;size:190;not null" json:"quiz_id"`
	UserID          string                            `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	NoteID          string                            `gorm:"column:note_id;size:190" json:"note_id,omitempty"`
	Subject         string                            `gorm:"column:subject;size:190" json:"subject,omitempty"`
	Questions       datatypes.JSONSlice[QuizQuestion] `gorm:"column:questions;not null" json:"questions"`
	Generated       bool                              `gorm:"column:generated;not null" json:"generated"`
	CreatedAtMillis int64                             `gorm:"column:created_at_ms;not null" json:"created_at_ms"`
}

// TableName provides the explicit table binding for GORM.
func (Quiz) TableName() string {
	return "study_quizzes"
}

// FlashcardSet is a persisted set of generated flashcards.
type FlashcardSet struct {
	SetID           string                         `gorm:"column:set_id;primaryKey;size:190;not null" json:"set_id"`
	UserID          string                         `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	NoteID          string                         `gorm:"column:note_id;size:190" json:"note_id,omitempty"`
	Subject         string                         `gorm:"column:subject;size:190" json:"subject,omitempty"`
	Cards           datatypes.JSONSlice[Flashcard] `gorm:"column:cards;not null" json:"cards"`
	Generated       bool                           `gorm:"column:generated;not null" json:"generated"`
	CreatedAtMillis int64                          `gorm:"column:created_at_ms;not null" json:"created_at_ms"`
}

// TableName provides the explicit table binding for GORM.
func (FlashcardSet) TableName() string {
	return "study_flashcard_sets"
}

// QuizAttempt is one scored answer sheet for a quiz.
type QuizAttempt struct {
	AttemptID       string                      `gorm:"column:attempt_id;primaryKey;size:190;not null" json:"attempt_id"`
	QuizID          string                      `gorm:"column:quiz_id;size:190;not null;index" json:"quiz_id"`
	UserID          string                      `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	Answers         datatypes.JSONSlice[string] `gorm:"column:answers;not null" json:"answers"`
	Correct         int                         `gorm:"column:correct;not null" json:"correct"`
	Total           int                         `gorm:"column:total;not null" json:"total"`
	Score           float64                     `gorm:"column:score;not null" json:"score"`
	CreatedAtMillis int64                       `gorm:"column:created_at_ms;not null" json:"created_at_ms"`
}

// TableName provides the explicit table binding for GORM.
func (QuizAttempt) TableName() string {
	return "study_quiz_attempts"
}

// ReviewResponse is the self-assessed recall of one flashcard.
type ReviewResponse string

const (
	ReviewAgain ReviewResponse = "again"
	ReviewHard  ReviewResponse = "hard"
	ReviewGood  ReviewResponse = "good"
	ReviewEasy  ReviewResponse = "easy"
)

// ParseReviewResponse validates raw input.
func ParseReviewResponse(rawInput string) (ReviewResponse, error) {
	switch response := ReviewResponse(strings.ToLower(strings.TrimSpace(rawInput))); response {
	case ReviewAgain, ReviewHard, ReviewGood, ReviewEasy:
		return response, nil
	default:
		return "", fmt.Errorf("study: unknown review response %q", rawInput)
	}
}

// FlashcardReview records one pass over a card of a flashcard set.
type FlashcardReview struct {
	ReviewID        string         `gorm:"column:review_id;primaryKey;size:190;not null" json:"review_id"`
	SetID           string         `gorm:"column:set_id;size:190;not null;index" json:"set_id"`
	UserID          string         `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	CardIndex       int            `gorm:"column:card_index;not null" json:"card_index"`
	Response        ReviewResponse `gorm:"column:response;size:16;not null" json:"response"`
	CreatedAtMillis int64          `gorm:"column:created_at_ms;not null" json:"created_at_ms"`
}

// TableName provides the explicit table binding for GORM.
func (FlashcardReview) TableName() string {
	return "study_flashcard_reviews"
}

// MentorChat is one question put to the mentor and its answer. NoteID is
// empty for free-form questions.
type MentorChat struct {
	ChatID          string `gorm:"column:chat_id;primaryKey;size:190;not null" json:"chat_id"`
	UserID          string `gorm:"column:user_id;size:190;not null;index:idx_mentor_user_created,priority:1" json:"user_id"`
	NoteID          string `gorm:"column:note_id;size:190;not null;default:'';index" json:"note_id,omitempty"`
	Question        string `gorm:"column:question;type:text;not null" json:"question"`
	Answer          string `gorm:"column:answer;type:text;not null" json:"answer"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null;index:idx_mentor_user_created,priority:2" json:"created_at_ms"`
}

// TableName provides the explicit table binding for GORM.
func (MentorChat) TableName() string {
	return "study_mentor_chats"
}

// ExamQuestion is one question of a timed exam set.
type ExamQuestion struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Difficulty string `json:"difficulty"`
}

// ExamSet is a timed exam simulation generated from every note of a subject.
// FinishedAtMillis stays nil until the exam is handed in.
type ExamSet struct {
	ExamID           string                            `gorm:"column:exam_id;primaryKey;size:190;not null" json:"exam_id"`
	UserID           string                            `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	Subject          string                            `gorm:"column:subject;size:190;not null" json:"subject"`
	Questions        datatypes.JSONSlice[ExamQuestion] `gorm:"column:questions;not null" json:"questions"`
	DurationMinutes  int                               `gorm:"column:duration_minutes;not null" json:"duration_minutes"`
	Generated        bool                              `gorm:"column:generated;not null" json:"generated"`
	StudiedMinutes   int                               `gorm:"column:studied_minutes;not null;default:0" json:"studied_minutes"`
	FinishedAtMillis *int64                            `gorm:"column:finished_at_ms" json:"finished_at_ms,omitempty"`
	CreatedAtMillis  int64                             `gorm:"column:created_at_ms;not null" json:"created_at_ms"`
}

// TableName provides the explicit table binding for GORM.
func (ExamSet) TableName() string {
	return "study_exam_sets"
}

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&Quiz{}, &FlashcardSet{}, &QuizAttempt{}, &FlashcardReview{}, &MentorChat{}, &ExamSet{}}
}

// Source selects the material a quiz or flashcard set is generated from:
// a single note, or every note the caller owns under a subject.
type Source struct {
	NoteID  string
	Subject string
}

// Assessment is a grade with feedback.
type Assessment struct {
	Grade     float64 `json:"grade"`
	Feedback  string  `json:"feedback"`
	Generated bool    `json:"generated"`
}

// Improvement is a suggested rewrite of a note body. It is never persisted.
type Improvement struct {
	Text      string `json:"improved_text"`
	Summary   string `json:"summary"`
	Generated bool   `json:"generated"`
}

// GradeEstimate predicts the exam grade for a subject on the 7-step scale.
type GradeEstimate struct {
	Subject    string   `json:"subject"`
	Grade      int      `json:"grade"`
	Confidence int      `json:"confidence"`
	Strengths  []string `json:"strengths"`
	Gaps       []string `json:"gaps"`
	NextSteps  []string `json:"next_steps"`
	Generated  bool     `json:"generated"`
}
