package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/plans"
	"github.com/gin-gonic/gin"
)

type createPlanRequest struct {
	Title       string `json:"title" binding:"required,max=512"`
	Goals       string `json:"goals" binding:"max=4096"`
	DueAtMillis int64  `json:"due_at_ms" binding:"required,gt=0"`
}

type updatePlanRequest struct {
	Title       *string `json:"title" binding:"omitempty,max=512"`
	Goals       *string `json:"goals" binding:"omitempty,max=4096"`
	DueAtMillis *int64  `json:"due_at_ms" binding:"omitempty,gt=0"`
}

type planNoteRequest struct {
	NoteID string `json:"note_id" binding:"required,max=190"`
}

func (h *httpHandler) handleCreatePlan(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request createPlanRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	plan, err := h.plans.Create(c.Request.Context(), userID, plans.CreateInput{
		Title:       request.Title,
		Goals:       request.Goals,
		DueAtMillis: request.DueAtMillis,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (h *httpHandler) handleListPlans(c *gin.Context) {
	views, err := h.plans.List(c.Request.Context(), h.currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": views})
}

func (h *httpHandler) handleUpdatePlan(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request updatePlanRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	plan, err := h.plans.Update(c.Request.Context(), c.Param("planId"), userID, plans.Patch{
		Title:       request.Title,
		Goals:       request.Goals,
		DueAtMillis: request.DueAtMillis,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *httpHandler) handleDeletePlan(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	if err := h.plans.Delete(c.Request.Context(), c.Param("planId"), userID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListPlanNotes(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	entries, err := h.plans.Notes(c.Request.Context(), c.Param("planId"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": entries})
}

func (h *httpHandler) handleAddPlanNote(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request planNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	attachment, err := h.plans.AddNote(c.Request.Context(), c.Param("planId"), request.NoteID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, attachment)
}

func (h *httpHandler) handleTogglePlanNote(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	attachment, err := h.plans.ToggleNote(c.Request.Context(), c.Param("planId"), c.Param("noteId"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, attachment)
}

func (h *httpHandler) handleRemovePlanNote(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	if err := h.plans.RemoveNote(c.Request.Context(), c.Param("planId"), c.Param("noteId"), userID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleOverview(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	overview, err := h.stats.Overview(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}
