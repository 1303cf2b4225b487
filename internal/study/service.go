package study

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/ai"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/ids"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/notes"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/progress"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	opServiceNew  = "study.service.new"
	opSummarize   = "study.summarize"
	opQuiz        = "study.quiz"
	opFlashcards  = "study.flashcards"
	opGrade       = "study.grade"
	opImprove     = "study.improve"
	opImport      = "study.import"
	opQuizAttempt = "study.quiz_attempt"
	opQuizzes     = "study.quizzes"
	opFlashSets   = "study.flashcard_sets"
	opReview      = "study.flashcard_review"
	opAsk         = "study.ask"
	opHistory     = "study.mentor_history"
	opChat        = "study.chat"
	opEstimate    = "study.grade_estimate"
	opExamPrep    = "study.exam_prep"
	opExamSets    = "study.exam_sets"
	opFinishExam  = "study.finish_exam"

	reasonMissingDependency = "missing_dependency"
	reasonUnauthenticated   = "unauthenticated"
	reasonInvalidSource     = "invalid_source"
	reasonInvalidFileName   = "invalid_file_name"
	reasonNoMaterial        = "no_material"
	reasonQuizNotFound      = "quiz_not_found"
	reasonInvalidAnswers    = "invalid_answers"
	reasonIDFailed          = "id_generation_failed"
	reasonInsertFailed      = "insert_failed"
	reasonQueryFailed       = "query_failed"
	reasonUpdateFailed      = "update_failed"
	reasonEmptyQuestion     = "empty_question"
	reasonSetNotFound       = "flashcard_set_not_found"
	reasonInvalidCard       = "invalid_card"
	reasonInvalidResponse   = "invalid_response"
	reasonExamNotFound      = "exam_not_found"
	reasonExamFinished      = "exam_finished"
	reasonInvalidDuration   = "invalid_duration"
	reasonInvalidElapsed    = "invalid_elapsed"

	defaultItemCount   = 10
	maxItemCount       = 20
	materialCharLimit  = 3000
	importCharLimit    = 2000
	maxImportTags      = 10
	untitledImportName = "Imported note"
)

var errMissingDependency = errors.New("study: database, ai client, notes, access and id provider are required")

// Completer is the AI gateway used by study features.
type Completer interface {
	Complete(ctx context.Context, prompt ai.Prompt) (string, error)
}

// NoteStore is the subset of the note store study features read and write through.
type NoteStore interface {
	Get(ctx context.Context, noteID, userID string) (notes.Note, error)
	Search(ctx context.Context, ownerID string, query notes.SearchQuery) ([]notes.Note, error)
	SetGrade(ctx context.Context, noteID, userID string, grade float64, feedback string) error
	Import(ctx context.Context, ownerID string, input notes.CreateInput) (notes.Note, error)
}

// ServiceConfig describes the dependencies of study features.
type ServiceConfig struct {
	Database   *gorm.DB
	AI         Completer
	Notes      NoteStore
	Access     access.Checker
	IDProvider ids.Provider
	// Progress, when set, is credited with the time spent in finished exams.
	Progress ProgressRecorder
	Clock    func() time.Time
	Logger   *zap.Logger
}

// ProgressRecorder credits study time to the progress ledger.
type ProgressRecorder interface {
	Log(ctx context.Context, userID, date string, minutes int, kind progress.Kind) error
}

// Service generates study material from notes through the AI gateway.
// Access is checked before every upstream call and no transaction spans one.
type Service struct {
	db         *gorm.DB
	ai         Completer
	notes      NoteStore
	access     access.Checker
	idProvider ids.Provider
	progress   ProgressRecorder
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil || cfg.AI == nil || cfg.Notes == nil || cfg.Access == nil || cfg.IDProvider == nil {
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
		ai:         cfg.AI,
		notes:      cfg.Notes,
		access:     cfg.Access,
		idProvider: cfg.IDProvider,
		progress:   cfg.Progress,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Summarize returns a markdown summary of a note the caller can view.
func (s *Service) Summarize(ctx context.Context, noteID, userID string) (string, error) {
	note, err := s.notes.Get(ctx, noteID, userID)
	if err != nil {
		return "", err
	}
	return s.ai.Complete(ctx, ai.Prompt{
		System:      promptSummarize,
		User:        describeNote(note),
		MaxTokens:   600,
		Temperature: 0.5,
	})
}

// Quiz generates and stores count questions from source.
func (s *Service) Quiz(ctx context.Context, source Source, userID string, count int) (Quiz, error) {
	material, err := s.material(ctx, opQuiz, source, userID)
	if err != nil {
		return Quiz{}, err
	}
	count = clampCount(count)
	reply, err := s.ai.Complete(ctx, ai.Prompt{
		System:      fmt.Sprintf(promptQuiz, count),
		User:        material,
		MaxTokens:   1200,
		Temperature: 0.4,
	})
	if err != nil {
		return Quiz{}, err
	}
	questions, generated := ai.ParseOrFallback(reply, func(raw string) []QuizQuestion {
		return []QuizQuestion{{Question: fallbackQuestion, Answer: raw}}
	})
	questions = keepQuestions(questions, count)
	if len(questions) == 0 {
		questions, generated = []QuizQuestion{{Question: fallbackQuestion, Answer: reply}}, false
	}

	quizID, err := s.newID(opQuiz)
	if err != nil {
		return Quiz{}, err
	}
	quiz := Quiz{
		QuizID:          quizID,
		UserID:          strings.TrimSpace(userID),
		NoteID:          strings.TrimSpace(source.NoteID),
		Subject:         strings.TrimSpace(source.Subject),
		Questions:       datatypes.JSONSlice[QuizQuestion](questions),
		Generated:       generated,
		CreatedAtMillis: s.nowMillis(),
	}
	if err := s.db.WithContext(ctx).Create(&quiz).Error; err != nil {
		s.logError(opQuiz, reasonInsertFailed, err, zap.String("quiz_id", quizID))
		return Quiz{}, apperr.New(opQuiz, reasonInsertFailed, nil, err)
	}
	return quiz, nil
}

// Flashcards generates and stores count cards from source.
func (s *Service) Flashcards(ctx context.Context, source Source, userID string, count int) (FlashcardSet, error) {
	material, err := s.material(ctx, opFlashcards, source, userID)
	if err != nil {
		return FlashcardSet{}, err
	}
	count = clampCount(count)
	reply, err := s.ai.Complete(ctx, ai.Prompt{
		System:      fmt.Sprintf(promptFlashcards, count),
		User:        material,
		MaxTokens:   1200,
		Temperature: 0.4,
	})
	if err != nil {
		return FlashcardSet{}, err
	}
	cards, generated := ai.ParseOrFallback(reply, func(raw string) []Flashcard {
		return []Flashcard{{Front: fallbackCardFront, Back: raw}}
	})
	cards = keepCards(cards, count)
	if len(cards) == 0 {
		cards, generated = []Flashcard{{Front: fallbackCardFront, Back: reply}}, false
	}

	setID, err := s.newID(opFlashcards)
	if err != nil {
		return FlashcardSet{}, err
	}
	set := FlashcardSet{
		SetID:           setID,
		UserID:          strings.TrimSpace(userID),
		NoteID:          strings.TrimSpace(source.NoteID),
		Subject:         strings.TrimSpace(source.Subject),
		Cards:           datatypes.JSONSlice[Flashcard](cards),
		Generated:       generated,
		CreatedAtMillis: s.nowMillis(),
	}
	if err := s.db.WithContext(ctx).Create(&set).Error; err != nil {
		s.logError(opFlashcards, reasonInsertFailed, err, zap.String("set_id", setID))
		return FlashcardSet{}, apperr.New(opFlashcards, reasonInsertFailed, nil, err)
	}
	return set, nil
}

// Grade assesses a note the caller owns and stores the result on the note.
// An unparseable reply is stored as grade 0 with the raw reply as feedback.
func (s *Service) Grade(ctx context.Context, noteID, userID string) (Assessment, error) {
	if err := s.require(ctx, opGrade, noteID, userID, access.Capability.CanManage); err != nil {
		return Assessment{}, err
	}
	note, err := s.notes.Get(ctx, noteID, userID)
	if err != nil {
		return Assessment{}, err
	}
	reply, err := s.ai.Complete(ctx, ai.Prompt{
		System:      promptGrade,
		User:        describeNote(note),
		MaxTokens:   400,
		Temperature: 0.3,
	})
	if err != nil {
		return Assessment{}, err
	}
	assessment, generated := ai.ParseOrFallback(reply, func(raw string) Assessment {
		return Assessment{Grade: 0, Feedback: strings.TrimSpace(raw)}
	})
	assessment.Generated = generated
	assessment.Grade = math.Max(0, math.Min(10, assessment.Grade))
	if err := s.notes.SetGrade(ctx, noteID, userID, assessment.Grade, assessment.Feedback); err != nil {
		return Assessment{}, err
	}
	return assessment, nil
}

// Improve suggests a clearer body for a note the caller can edit.
func (s *Service) Improve(ctx context.Context, noteID, userID string) (Improvement, error) {
	if err := s.require(ctx, opImprove, noteID, userID, access.Capability.CanWrite); err != nil {
		return Improvement{}, err
	}
	note, err := s.notes.Get(ctx, noteID, userID)
	if err != nil {
		return Improvement{}, err
	}
	reply, err := s.ai.Complete(ctx, ai.Prompt{
		System:      promptImprove,
		User:        describeNote(note),
		MaxTokens:   1200,
		Temperature: 0.4,
	})
	if err != nil {
		return Improvement{}, err
	}
	improvement, generated := ai.ParseOrFallback(reply, func(raw string) Improvement {
		return Improvement{Text: strings.TrimSpace(raw)}
	})
	if strings.TrimSpace(improvement.Text) == "" {
		improvement = Improvement{Text: strings.TrimSpace(reply)}
		generated = false
	}
	improvement.Generated = generated
	return improvement, nil
}

type importSuggestion struct {
	Title   string   `json:"title"`
	Tags    []string `json:"tags"`
	Subject string   `json:"subject"`
}

// Import creates a note from uploaded text. Title, tags and subject come from
// the AI gateway when it answers with usable JSON; otherwise the title is the
// file name without its extension. Gateway failures never block the import.
func (s *Service) Import(ctx context.Context, userID, fileName, content string) (notes.Note, error) {
	if strings.TrimSpace(userID) == "" {
		return notes.Note{}, apperr.New(opImport, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	if strings.TrimSpace(fileName) == "" {
		return notes.Note{}, apperr.New(opImport, reasonInvalidFileName, apperr.ErrValidation, nil)
	}

	fallback := importSuggestion{Title: truncateBytes(titleFromFileName(fileName), notes.MaxTitleLength)}
	suggestion := fallback
	reply, err := s.ai.Complete(ctx, ai.Prompt{
		System:      promptImport,
		User:        fmt.Sprintf("File %q:\n\n%s", fileName, truncateRunes(content, importCharLimit)),
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil {
		s.logger.Warn("import analysis unavailable, using file name",
			zap.String("operation", opImport),
			zap.String("file_name", fileName),
			zap.Error(err))
	} else {
		suggestion, _ = ai.ParseOrFallback(reply, func(string) importSuggestion { return fallback })
		if strings.TrimSpace(suggestion.Title) == "" {
			suggestion.Title = fallback.Title
		}
	}
	suggestion = boundSuggestion(suggestion, fallback)

	return s.notes.Import(ctx, userID, notes.CreateInput{
		Title:   suggestion.Title,
		Body:    content,
		Subject: suggestion.Subject,
		Tags:    suggestion.Tags,
	})
}

// boundSuggestion fits a suggestion into note storage bounds. An oversized
// title is replaced by the fallback; subject is truncated and oversized tags dropped.
func boundSuggestion(suggestion, fallback importSuggestion) importSuggestion {
	bounded := importSuggestion{
		Title:   strings.TrimSpace(suggestion.Title),
		Subject: truncateBytes(strings.TrimSpace(suggestion.Subject), notes.MaxSubjectLength),
	}
	if len(bounded.Title) > notes.MaxTitleLength {
		bounded.Title = fallback.Title
	}
	for _, tag := range suggestion.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || len(tag) > notes.MaxTagLength {
			continue
		}
		bounded.Tags = append(bounded.Tags, tag)
		if len(bounded.Tags) == maxImportTags {
			break
		}
	}
	return bounded
}

// RecordQuizAttempt scores answers against one of the caller's quizzes.
// Answers match case-insensitively after trimming; missing answers count as wrong.
func (s *Service) RecordQuizAttempt(ctx context.Context, quizID, userID string, answers []string) (QuizAttempt, error) {
	user := strings.TrimSpace(userID)
	if user == "" {
		return QuizAttempt{}, apperr.New(opQuizAttempt, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	var quiz Quiz
	err := s.db.WithContext(ctx).Where("quiz_id = ? AND user_id = ?", strings.TrimSpace(quizID), user).Take(&quiz).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return QuizAttempt{}, apperr.New(opQuizAttempt, reasonQuizNotFound, apperr.ErrNotFound, nil)
	}
	if err != nil {
		s.logError(opQuizAttempt, reasonQueryFailed, err, zap.String("quiz_id", quizID))
		return QuizAttempt{}, apperr.New(opQuizAttempt, reasonQueryFailed, nil, err)
	}
	if len(answers) > len(quiz.Questions) {
		return QuizAttempt{}, apperr.New(opQuizAttempt, reasonInvalidAnswers, apperr.ErrValidation, nil)
	}

	correct := 0
	for index, question := range quiz.Questions {
		if index < len(answers) && sameAnswer(answers[index], question.Answer) {
			correct++
		}
	}
	total := len(quiz.Questions)
	score := 0.0
	if total > 0 {
		score = math.Round(float64(correct)/float64(total)*1000) / 10
	}

	attemptID, err := s.newID(opQuizAttempt)
	if err != nil {
		return QuizAttempt{}, err
	}
	attempt := QuizAttempt{
		AttemptID:       attemptID,
		QuizID:          quiz.QuizID,
		UserID:          user,
		Answers:         datatypes.JSONSlice[string](append([]string{}, answers...)),
		Correct:         correct,
		Total:           total,
		Score:           score,
		CreatedAtMillis: s.nowMillis(),
	}
	if err := s.db.WithContext(ctx).Create(&attempt).Error; err != nil {
		s.logError(opQuizAttempt, reasonInsertFailed, err, zap.String("quiz_id", quiz.QuizID))
		return QuizAttempt{}, apperr.New(opQuizAttempt, reasonInsertFailed, nil, err)
	}
	return attempt, nil
}

func (s *Service) material(ctx context.Context, operation string, source Source, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", apperr.New(operation, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	noteID := strings.TrimSpace(source.NoteID)
	subject := strings.TrimSpace(source.Subject)
	switch {
	case noteID != "" && subject != "", noteID == "" && subject == "":
		return "", apperr.New(operation, reasonInvalidSource, apperr.ErrValidation, nil)
	case noteID != "":
		note, err := s.notes.Get(ctx, noteID, userID)
		if err != nil {
			return "", err
		}
		return truncateRunes(describeNote(note), materialCharLimit), nil
	}

	owned, err := s.notes.Search(ctx, userID, notes.SearchQuery{Subject: subject})
	if err != nil {
		return "", err
	}
	if len(owned) == 0 {
		return "", apperr.New(operation, reasonNoMaterial, apperr.ErrNotFound, nil)
	}
	parts := make([]string, 0, len(owned))
	for _, note := range owned {
		parts = append(parts, note.Title+": "+note.Body)
	}
	material := fmt.Sprintf("Subject: %s\n\n%s", subject, strings.Join(parts, "\n\n"))
	return truncateRunes(material, materialCharLimit), nil
}

func (s *Service) require(ctx context.Context, operation, noteID, userID string, allowed func(access.Capability) bool) error {
	if strings.TrimSpace(userID) == "" {
		return apperr.New(operation, reasonUnauthenticated, apperr.ErrUnauthenticated, nil)
	}
	return access.Require(ctx, s.access, operation, strings.TrimSpace(noteID), strings.TrimSpace(userID), allowed)
}

func (s *Service) newID(operation string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, reasonIDFailed, err)
		return "", apperr.New(operation, reasonIDFailed, nil, err)
	}
	return id, nil
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
	s.logger.Error("study service error", append(attrs, fields...)...)
}

func describeNote(note notes.Note) string {
	var builder strings.Builder
	builder.WriteString("Title: ")
	builder.WriteString(note.Title)
	if note.Subject != "" {
		builder.WriteString("\nSubject: ")
		builder.WriteString(note.Subject)
	}
	builder.WriteString("\n\n")
	builder.WriteString(note.Body)
	return builder.String()
}

func clampCount(count int) int {
	if count <= 0 {
		return defaultItemCount
	}
	if count > maxItemCount {
		return maxItemCount
	}
	return count
}

func keepQuestions(questions []QuizQuestion, limit int) []QuizQuestion {
	kept := make([]QuizQuestion, 0, len(questions))
	for _, question := range questions {
		if strings.TrimSpace(question.Question) == "" {
			continue
		}
		kept = append(kept, question)
		if len(kept) == limit {
			break
		}
	}
	return kept
}

func keepCards(cards []Flashcard, limit int) []Flashcard {
	kept := make([]Flashcard, 0, len(cards))
	for _, card := range cards {
		if strings.TrimSpace(card.Front) == "" {
			continue
		}
		kept = append(kept, card)
		if len(kept) == limit {
			break
		}
	}
	return kept
}

func sameAnswer(given, expected string) bool {
	return strings.EqualFold(strings.TrimSpace(given), strings.TrimSpace(expected))
}

func titleFromFileName(fileName string) string {
	base := filepath.Base(strings.TrimSpace(fileName))
	title := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if title == "" || title == "." {
		return untitledImportName
	}
	return title
}

// truncateBytes cuts value to at most limit bytes without splitting a rune.
func truncateBytes(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := 0
	for index := range value {
		if index > limit {
			break
		}
		cut = index
	}
	return strings.TrimSpace(value[:cut])
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
