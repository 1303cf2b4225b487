package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/notes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	dateOnlyLayout   = "2006-01-02"
	maxRecentLimit   = 50
	maxImportedBytes = 1 << 20

	reasonInvalidDate   = "invalid_date"
	reasonInvalidSort   = "invalid_sort"
	reasonInvalidFormat = "invalid_format"
	reasonInvalidLimit  = "invalid_limit"
)

type createNoteRequest struct {
	Title   string   `json:"title" binding:"max=512"`
	Body    string   `json:"body"`
	Subject string   `json:"subject" binding:"max=190"`
	Tags    []string `json:"tags" binding:"max=32,dive,max=64"`
	Color   string   `json:"color" binding:"omitempty,max=32"`
}

type updateNoteRequest struct {
	Title   *string   `json:"title" binding:"omitempty,max=512"`
	Body    *string   `json:"body"`
	Subject *string   `json:"subject" binding:"omitempty,max=190"`
	Tags    *[]string `json:"tags" binding:"omitempty,max=32,dive,max=64"`
	Color   *string   `json:"color" binding:"omitempty,max=32"`
}

type importNoteRequest struct {
	FileName string `json:"file_name" binding:"required,max=255"`
	Content  string `json:"content" binding:"required"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request createNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	note, err := h.notes.Create(c.Request.Context(), userID, notes.CreateInput{
		Title:   request.Title,
		Body:    request.Body,
		Subject: request.Subject,
		Tags:    request.Tags,
		Color:   request.Color,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newNoteResponse(note))
}

func (h *httpHandler) handleSearchNotes(c *gin.Context) {
	userID := h.currentUser(c)
	if userID == "" {
		c.JSON(http.StatusOK, gin.H{"notes": []noteResponse{}})
		return
	}
	query, err := searchQueryFromRequest(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	found, err := h.notes.Search(c.Request.Context(), userID, query)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": newNoteResponses(found)})
}

func searchQueryFromRequest(c *gin.Context) (notes.SearchQuery, error) {
	const operation = "server.search_notes"
	sortOrder, err := notes.ParseSortOrder(c.Query("sort"))
	if err != nil {
		return notes.SearchQuery{}, apperr.New(operation, reasonInvalidSort, apperr.ErrValidation, err)
	}
	from, err := parseQueryTime(c.Query("date_from"), false)
	if err != nil {
		return notes.SearchQuery{}, apperr.New(operation, reasonInvalidDate, apperr.ErrValidation, err)
	}
	to, err := parseQueryTime(c.Query("date_to"), true)
	if err != nil {
		return notes.SearchQuery{}, apperr.New(operation, reasonInvalidDate, apperr.ErrValidation, err)
	}
	return notes.SearchQuery{
		Text:    c.Query("q"),
		Tags:    splitList(c.Query("tags")),
		Subject: c.Query("subject"),
		From:    from,
		To:      to,
		Sort:    sortOrder,
	}, nil
}

// parseQueryTime accepts RFC3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseQueryTime(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed, nil
	}
	parsed, err := time.Parse(dateOnlyLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		parsed = parsed.Add(24*time.Hour - time.Millisecond)
	}
	return parsed, nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func (h *httpHandler) handleSubjects(c *gin.Context) {
	subjects, err := h.notes.Subjects(c.Request.Context(), h.currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subjects": subjects})
}

func (h *httpHandler) handleRecentNotes(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxRecentLimit {
			h.respondError(c, apperr.New("server.recent_notes", reasonInvalidLimit, apperr.ErrValidation, err))
			return
		}
		limit = parsed
	}
	recent, err := h.notes.Recent(c.Request.Context(), h.currentUser(c), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": newNoteResponses(recent)})
}

func (h *httpHandler) handleAverageGrade(c *gin.Context) {
	average, err := h.notes.AverageGrade(c.Request.Context(), h.currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"average_grade": average})
}

func (h *httpHandler) handleImportNote(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request importNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	if len(request.Content) > maxImportedBytes {
		h.respondError(c, apperr.New("server.import_note", "content_too_large", apperr.ErrValidation, nil))
		return
	}
	note, err := h.study.Import(c.Request.Context(), userID, request.FileName, request.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newNoteResponse(note))
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	note, err := h.notes.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNoteResponse(note))
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request updateNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	ctx := c.Request.Context()
	noteID := c.Param("id")
	changed, err := h.notes.Update(ctx, noteID, userID, notes.Patch{
		Title:   request.Title,
		Body:    request.Body,
		Subject: request.Subject,
		Tags:    request.Tags,
		Color:   request.Color,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	note, err := h.notes.Get(ctx, noteID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if changed {
		h.broadcastNoteChange(ctx, note)
	}
	c.JSON(http.StatusOK, newNoteResponse(note))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	noteID := c.Param("id")
	note, err := h.notes.Get(ctx, noteID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	audience := h.noteAudience(ctx, note)
	if err := h.notes.Delete(ctx, noteID, userID); err != nil {
		h.respondError(c, err)
		return
	}
	h.realtime.NotifyNoteChange(noteID, audience, h.clock())
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListVersions(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	versions, err := h.notes.Versions(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]versionResponse, 0, len(versions))
	for _, version := range versions {
		response = append(response, newVersionResponse(version))
	}
	c.JSON(http.StatusOK, gin.H{"versions": response})
}

func (h *httpHandler) handleRestoreVersion(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	noteID := c.Param("id")
	snapshot, err := h.notes.RestoreVersion(ctx, noteID, c.Param("versionId"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	note, err := h.notes.Get(ctx, noteID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.broadcastNoteChange(ctx, note)
	c.JSON(http.StatusOK, gin.H{"note": newNoteResponse(note), "snapshot": newVersionResponse(snapshot)})
}

func (h *httpHandler) handleExportNote(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	format, err := notes.ParseExportFormat(c.Query("format"))
	if err != nil {
		h.respondError(c, apperr.New("server.export_note", reasonInvalidFormat, apperr.ErrValidation, err))
		return
	}
	document, err := h.notes.Export(c.Request.Context(), c.Param("id"), userID, format)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+document.FileName+`"`)
	c.Data(http.StatusOK, document.ContentType, document.Content)
}

// noteAudience lists the owner and every grantee of note.
func (h *httpHandler) noteAudience(ctx context.Context, note notes.Note) []string {
	audience := []string{note.OwnerID}
	grantees, err := h.sharing.GranteeIDs(ctx, note.NoteID)
	if err != nil {
		h.logger.Warn("failed to resolve note audience", zap.String("note_id", note.NoteID), zap.Error(err))
		return audience
	}
	return append(audience, grantees...)
}

func (h *httpHandler) broadcastNoteChange(ctx context.Context, note notes.Note, extra ...string) {
	audience := append(h.noteAudience(ctx, note), extra...)
	h.realtime.NotifyNoteChange(note.NoteID, audience, h.clock())
}

// loadNoteForBroadcast fetches a note as userID; failures only skip the broadcast.
func (h *httpHandler) loadNoteForBroadcast(ctx context.Context, noteID, userID string) (notes.Note, bool) {
	note, err := h.notes.Get(ctx, noteID, userID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			h.logger.Warn("failed to load note for broadcast", zap.String("note_id", noteID), zap.Error(err))
		}
		return notes.Note{}, false
	}
	return note, true
}
