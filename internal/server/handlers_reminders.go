package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/reminders"
	"github.com/gin-gonic/gin"
)

const (
	calendarContentType = "text/calendar; charset=utf-8"
	opCreateReminder    = "server.create_reminder"
)

type createReminderRequest struct {
	NoteID      string `json:"note_id" binding:"max=190"`
	Title       string `json:"title" binding:"required,max=512"`
	Description string `json:"description" binding:"max=4096"`
	WhenMillis  int64  `json:"when_ms" binding:"required,gt=0"`
	Kind        string `json:"kind" binding:"omitempty,reminder_kind"`
}

func (h *httpHandler) handleCreateReminder(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request createReminderRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	kind, err := reminderKind(request.Kind)
	if err != nil {
		h.respondError(c, err)
		return
	}
	reminder, err := h.reminders.Create(c.Request.Context(), userID, reminders.CreateInput{
		NoteID:      request.NoteID,
		Title:       request.Title,
		Description: request.Description,
		WhenMillis:  request.WhenMillis,
		Kind:        kind,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reminder)
}

// reminderKind defaults empty input to a study reminder.
func reminderKind(raw string) (reminders.Kind, error) {
	if strings.TrimSpace(raw) == "" {
		return reminders.KindStudy, nil
	}
	kind, err := reminders.ParseKind(raw)
	if err != nil {
		return "", apperr.New(opCreateReminder, reasonInvalidKind, apperr.ErrValidation, err)
	}
	return kind, nil
}

func (h *httpHandler) handleListReminders(c *gin.Context) {
	userID := h.currentUser(c)
	if userID == "" {
		c.JSON(http.StatusOK, gin.H{"reminders": []reminders.Entry{}})
		return
	}
	filter := reminders.ListFilter{NoteID: c.Query("note_id")}
	if raw := c.Query("upcoming"); raw != "" {
		upcoming, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondError(c, apperr.New("server.list_reminders", reasonInvalidRequest, apperr.ErrValidation, err))
			return
		}
		filter.UpcomingOnly = upcoming
	}
	entries, err := h.reminders.List(c.Request.Context(), userID, filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reminders": entries})
}

func (h *httpHandler) handleCompleteReminder(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	reminder, err := h.reminders.Complete(c.Request.Context(), c.Param("reminderId"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reminder)
}

func (h *httpHandler) handleDeleteReminder(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	if err := h.reminders.Delete(c.Request.Context(), c.Param("reminderId"), userID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleReminderICS(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	reminderID := c.Param("reminderId")
	calendar, err := h.reminders.ICS(c.Request.Context(), reminderID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="reminder-`+reminderID+`.ics"`)
	c.Data(http.StatusOK, calendarContentType, []byte(calendar))
}
