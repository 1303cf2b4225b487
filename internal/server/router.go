package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/auth"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/comments"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/notes"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/plans"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/presence"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/progress"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/reminders"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/sharing"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/stats"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/study"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey      = "studybuddy_user_id"
	accessTokenQueryParam = "access_token"
	corsMaxAge            = 12 * time.Hour
	healthStatusOK        = "ok"
)

var (
	errMissingSessions  = errors.New("session validator dependency required")
	errMissingUsers     = errors.New("user resolver dependency required")
	errMissingNotes     = errors.New("notes service dependency required")
	errMissingSharing   = errors.New("sharing service dependency required")
	errMissingPresence  = errors.New("presence service dependency required")
	errMissingComments  = errors.New("comments service dependency required")
	errMissingProgress  = errors.New("progress service dependency required")
	errMissingStudy     = errors.New("study service dependency required")
	errMissingReminders = errors.New("reminders service dependency required")
	errMissingPlans     = errors.New("plans service dependency required")
	errMissingStats     = errors.New("stats service dependency required")
)

// SessionValidator authenticates requests carrying a session token.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

// UserResolver maps session claims onto canonical user ids.
type UserResolver interface {
	ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error)
}

// Dependencies wires the HTTP layer to the services.
type Dependencies struct {
	Sessions  SessionValidator
	Users     UserResolver
	Notes     *notes.Service
	Sharing   *sharing.Service
	Presence  *presence.Service
	Comments  *comments.Service
	Progress  *progress.Service
	Study     *study.Service
	Reminders *reminders.Service
	Plans     *plans.Service
	Stats     *stats.Service
	Realtime  *RealtimeDispatcher
	// AllowedOrigins limits CORS; empty allows any origin.
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the StudyBuddy API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if err := registerValidators(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeatInterval := deps.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	handler := &httpHandler{
		sessions:          deps.Sessions,
		users:             deps.Users,
		notes:             deps.Notes,
		sharing:           deps.Sharing,
		presence:          deps.Presence,
		comments:          deps.Comments,
		progress:          deps.Progress,
		study:             deps.Study,
		reminders:         deps.Reminders,
		plans:             deps.Plans,
		stats:             deps.Stats,
		realtime:          realtime,
		heartbeatInterval: heartbeatInterval,
		clock:             clock,
		logger:            logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	router.GET("/healthz", handler.handleHealth)

	api := router.Group("/")
	api.Use(handler.authenticateRequest)

	api.POST("/notes", handler.handleCreateNote)
	api.GET("/notes", handler.handleSearchNotes)
	api.GET("/notes/stream", handler.handleNotesStream)
	api.GET("/notes/subjects", handler.handleSubjects)
	api.GET("/notes/recent", handler.handleRecentNotes)
	api.GET("/notes/grade-average", handler.handleAverageGrade)
	api.POST("/notes/import", handler.handleImportNote)
	api.GET("/notes/:id", handler.handleGetNote)
	api.PATCH("/notes/:id", handler.handleUpdateNote)
	api.DELETE("/notes/:id", handler.handleDeleteNote)
	api.GET("/notes/:id/versions", handler.handleListVersions)
	api.POST("/notes/:id/versions/:versionId/restore", handler.handleRestoreVersion)
	api.GET("/notes/:id/export", handler.handleExportNote)

	api.POST("/notes/:id/shares", handler.handleInvite)
	api.GET("/notes/:id/shares", handler.handleListGrants)
	api.GET("/shares/incoming", handler.handleSharedWithMe)
	api.PATCH("/shares/:shareId", handler.handleUpdateShareRole)
	api.DELETE("/shares/:shareId", handler.handleRevokeShare)

	api.PUT("/notes/:id/presence", handler.handleHeartbeat)
	api.GET("/notes/:id/presence", handler.handleListPresence)

	api.POST("/notes/:id/comments", handler.handleAddComment)
	api.GET("/notes/:id/comments", handler.handleListComments)
	api.POST("/comments/:commentId/resolve", handler.handleResolveComment)
	api.DELETE("/comments/:commentId", handler.handleDeleteComment)

	api.POST("/progress", handler.handleLogProgress)
	api.GET("/progress/summary", handler.handleProgressSummary)

	api.POST("/notes/:id/summary", handler.handleSummarize)
	api.POST("/notes/:id/grade", handler.handleGrade)
	api.POST("/notes/:id/improve", handler.handleImprove)
	api.POST("/notes/:id/mentor", handler.handleAskMentor)
	api.GET("/notes/:id/mentor", handler.handleMentorHistory)
	api.POST("/study/quizzes", handler.handleQuiz)
	api.GET("/study/quizzes", handler.handleListQuizzes)
	api.POST("/study/quizzes/:quizId/attempts", handler.handleQuizAttempt)
	api.POST("/study/flashcards", handler.handleFlashcards)
	api.GET("/study/flashcards", handler.handleListFlashcardSets)
	api.POST("/study/flashcards/:setId/reviews", handler.handleFlashcardReview)
	api.POST("/study/exams", handler.handleExamPrep)
	api.GET("/study/exams", handler.handleListExams)
	api.POST("/study/exams/:examId/finish", handler.handleFinishExam)
	api.POST("/study/grade-estimate", handler.handleGradeEstimate)
	api.POST("/study/chat", handler.handleChat)

	api.POST("/plans", handler.handleCreatePlan)
	api.GET("/plans", handler.handleListPlans)
	api.PATCH("/plans/:planId", handler.handleUpdatePlan)
	api.DELETE("/plans/:planId", handler.handleDeletePlan)
	api.GET("/plans/:planId/notes", handler.handleListPlanNotes)
	api.POST("/plans/:planId/notes", handler.handleAddPlanNote)
	api.DELETE("/plans/:planId/notes/:noteId", handler.handleRemovePlanNote)
	api.POST("/plans/:planId/notes/:noteId/toggle", handler.handleTogglePlanNote)

	api.GET("/stats/overview", handler.handleOverview)

	api.POST("/reminders", handler.handleCreateReminder)
	api.GET("/reminders", handler.handleListReminders)
	api.POST("/reminders/:reminderId/complete", handler.handleCompleteReminder)
	api.DELETE("/reminders/:reminderId", handler.handleDeleteReminder)
	api.GET("/reminders/:reminderId/ics", handler.handleReminderICS)

	return router, nil
}

func (d Dependencies) validate() error {
	switch {
	case d.Sessions == nil:
		return errMissingSessions
	case d.Users == nil:
		return errMissingUsers
	case d.Notes == nil:
		return errMissingNotes
	case d.Sharing == nil:
		return errMissingSharing
	case d.Presence == nil:
		return errMissingPresence
	case d.Comments == nil:
		return errMissingComments
	case d.Progress == nil:
		return errMissingProgress
	case d.Study == nil:
		return errMissingStudy
	case d.Reminders == nil:
		return errMissingReminders
	case d.Plans == nil:
		return errMissingPlans
	case d.Stats == nil:
		return errMissingStats
	}
	return nil
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			allowed[strings.TrimRight(trimmed, "/")] = struct{}{}
		}
	}
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if len(allowed) == 0 {
				return true
			}
			_, ok := allowed[strings.TrimRight(origin, "/")]
			return ok
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           corsMaxAge,
	})
}

type httpHandler struct {
	sessions          SessionValidator
	users             UserResolver
	notes             *notes.Service
	sharing           *sharing.Service
	presence          *presence.Service
	comments          *comments.Service
	progress          *progress.Service
	study             *study.Service
	reminders         *reminders.Service
	plans             *plans.Service
	stats             *stats.Service
	realtime          *RealtimeDispatcher
	heartbeatInterval time.Duration
	clock             func() time.Time
	logger            *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": healthStatusOK})
}

// authenticateRequest resolves the caller when a session token is present.
// Requests without a token continue anonymously; invalid tokens are rejected.
func (h *httpHandler) authenticateRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if errors.Is(err, auth.ErrMissingSessionToken) {
		if token := c.Query(accessTokenQueryParam); token != "" {
			claims, err = h.sessions.ValidateToken(token)
		}
	}
	if errors.Is(err, auth.ErrMissingSessionToken) {
		c.Next()
		return
	}
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	userID, err := h.users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to resolve canonical user", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "identity_resolution_failed"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) currentUser(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}

// requireUser aborts with 401 for anonymous callers.
func (h *httpHandler) requireUser(c *gin.Context) (string, bool) {
	userID := h.currentUser(c)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return "", false
	}
	return userID, true
}
