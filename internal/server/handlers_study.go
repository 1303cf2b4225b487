package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/progress"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/study"
	"github.com/gin-gonic/gin"
)

const opLogProgress = "server.log_progress"

type logProgressRequest struct {
	Date    string `json:"date" binding:"omitempty,datetime=2006-01-02"`
	Minutes int    `json:"minutes" binding:"min=0,max=1440"`
	Kind    string `json:"kind" binding:"required,activity_kind"`
}

type studySourceRequest struct {
	NoteID  string `json:"note_id" binding:"required_without=Subject,max=190"`
	Subject string `json:"subject" binding:"required_without=NoteID,max=190"`
	Count   int    `json:"count" binding:"omitempty,min=1,max=20"`
}

type quizAttemptRequest struct {
	Answers []string `json:"answers" binding:"required,max=20,dive,max=2048"`
}

type flashcardReviewRequest struct {
	CardIndex int    `json:"card_index" binding:"min=0"`
	Response  string `json:"response" binding:"required,review_response"`
}

type questionRequest struct {
	Question string `json:"question" binding:"required,max=4000"`
}

type subjectRequest struct {
	Subject string `json:"subject" binding:"required,max=190"`
}

type examPrepRequest struct {
	Subject         string `json:"subject" binding:"required,max=190"`
	DurationMinutes int    `json:"duration_minutes" binding:"omitempty,min=10,max=240"`
}

type finishExamRequest struct {
	ElapsedSeconds int `json:"elapsed_seconds" binding:"min=0"`
}

func (h *httpHandler) handleLogProgress(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request logProgressRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	kind, err := progressKind(request.Kind)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.progress.Log(ctx, userID, request.Date, request.Minutes, kind); err != nil {
		h.respondError(c, err)
		return
	}
	summary, err := h.progress.Summary(ctx, userID, progress.RangeWeek)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) handleProgressSummary(c *gin.Context) {
	summary, err := h.progress.Summary(c.Request.Context(), h.currentUser(c), progress.Range(c.Query("range")))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) handleSummarize(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	summary, err := h.study.Summarize(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (h *httpHandler) handleGrade(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	assessment, err := h.study.Grade(ctx, c.Param("id"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if note, found := h.loadNoteForBroadcast(ctx, c.Param("id"), userID); found {
		h.broadcastNoteChange(ctx, note)
	}
	c.JSON(http.StatusOK, assessment)
}

func (h *httpHandler) handleImprove(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	improvement, err := h.study.Improve(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, improvement)
}

func (h *httpHandler) handleQuiz(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request studySourceRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	quiz, err := h.study.Quiz(c.Request.Context(), request.source(), userID, request.Count)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, quiz)
}

func (h *httpHandler) handleFlashcards(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request studySourceRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	set, err := h.study.Flashcards(c.Request.Context(), request.source(), userID, request.Count)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, set)
}

func (h *httpHandler) handleQuizAttempt(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request quizAttemptRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	attempt, err := h.study.RecordQuizAttempt(c.Request.Context(), c.Param("quizId"), userID, request.Answers)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, attempt)
}

func (h *httpHandler) handleListQuizzes(c *gin.Context) {
	quizzes, err := h.study.Quizzes(c.Request.Context(), h.currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quizzes": quizzes})
}

func (h *httpHandler) handleListFlashcardSets(c *gin.Context) {
	sets, err := h.study.FlashcardSets(c.Request.Context(), h.currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flashcard_sets": sets})
}

func (h *httpHandler) handleFlashcardReview(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request flashcardReviewRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	review, err := h.study.RecordFlashcardReview(c.Request.Context(), c.Param("setId"), userID,
		request.CardIndex, study.ReviewResponse(request.Response))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (h *httpHandler) handleAskMentor(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request questionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	chat, err := h.study.Ask(c.Request.Context(), c.Param("id"), userID, request.Question)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (h *httpHandler) handleMentorHistory(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	history, err := h.study.MentorHistory(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (h *httpHandler) handleChat(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request questionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	chat, err := h.study.Chat(c.Request.Context(), userID, request.Question)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (h *httpHandler) handleGradeEstimate(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request subjectRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	estimate, err := h.study.EstimateGrade(c.Request.Context(), request.Subject, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}

func (h *httpHandler) handleExamPrep(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request examPrepRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	exam, err := h.study.ExamPrep(c.Request.Context(), request.Subject, userID, request.DurationMinutes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exam)
}

func (h *httpHandler) handleListExams(c *gin.Context) {
	exams, err := h.study.ExamSets(c.Request.Context(), h.currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exams": exams})
}

func (h *httpHandler) handleFinishExam(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request finishExamRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	exam, err := h.study.FinishExam(c.Request.Context(), c.Param("examId"), userID, request.ElapsedSeconds)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exam)
}

func progressKind(raw string) (progress.Kind, error) {
	kind, err := progress.ParseKind(raw)
	if err != nil {
		return "", apperr.New(opLogProgress, reasonInvalidKind, apperr.ErrValidation, err)
	}
	return kind, nil
}

func (r studySourceRequest) source() study.Source {
	return study.Source{NoteID: r.NoteID, Subject: r.Subject}
}
