package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/comments"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/presence"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/users"
	"github.com/gin-gonic/gin"
)

type inviteRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required,share_role"`
}

type updateShareRequest struct {
	Role string `json:"role" binding:"required,share_role"`
}

type selectionRequest struct {
	Start int `json:"start" binding:"min=0"`
	End   int `json:"end" binding:"gtefield=Start"`
}

type heartbeatRequest struct {
	Cursor    *int              `json:"cursor" binding:"omitempty,min=0"`
	Selection *selectionRequest `json:"selection"`
}

type anchorRequest struct {
	Start int    `json:"start" binding:"min=0"`
	End   int    `json:"end" binding:"gtefield=Start"`
	Text  string `json:"text" binding:"max=1024"`
}

type addCommentRequest struct {
	Text   string         `json:"text" binding:"required,max=4096"`
	Anchor *anchorRequest `json:"anchor"`
}

func (h *httpHandler) handleInvite(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request inviteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	role, _ := access.ParseRole(request.Role)
	ctx := c.Request.Context()
	summary, err := h.sharing.Invite(ctx, c.Param("id"), userID, request.Email, role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if note, found := h.loadNoteForBroadcast(ctx, summary.Grant.NoteID, userID); found {
		h.broadcastNoteChange(ctx, note)
	}
	response := newGrantResponse(summary.Grant, summary.Grantee)
	response.Updated = summary.Updated
	status := http.StatusCreated
	if summary.Updated {
		status = http.StatusOK
	}
	c.JSON(status, response)
}

func (h *httpHandler) handleListGrants(c *gin.Context) {
	userID := h.currentUser(c)
	if userID == "" {
		c.JSON(http.StatusOK, gin.H{"grants": []grantResponse{}})
		return
	}
	views, err := h.sharing.ListGrants(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]grantResponse, 0, len(views))
	for _, view := range views {
		response = append(response, newGrantResponse(view.Grant, view.Grantee))
	}
	c.JSON(http.StatusOK, gin.H{"grants": response})
}

func (h *httpHandler) handleSharedWithMe(c *gin.Context) {
	shared, err := h.sharing.ListSharedWithMe(c.Request.Context(), h.currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]sharedNoteResponse, 0, len(shared))
	for _, entry := range shared {
		response = append(response, newSharedNoteResponse(entry))
	}
	c.JSON(http.StatusOK, gin.H{"notes": response})
}

func (h *httpHandler) handleUpdateShareRole(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request updateShareRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	role, _ := access.ParseRole(request.Role)
	ctx := c.Request.Context()
	grant, err := h.sharing.UpdateRole(ctx, c.Param("shareId"), userID, role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if note, found := h.loadNoteForBroadcast(ctx, grant.NoteID, userID); found {
		h.broadcastNoteChange(ctx, note)
	}
	c.JSON(http.StatusOK, newGrantResponse(grant, users.Profile{UserID: grant.GranteeID}))
}

func (h *httpHandler) handleRevokeShare(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	grant, err := h.sharing.Revoke(ctx, c.Param("shareId"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if note, found := h.loadNoteForBroadcast(ctx, grant.NoteID, userID); found {
		h.broadcastNoteChange(ctx, note, grant.GranteeID)
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleHeartbeat(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request heartbeatRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	var selection *presence.Selection
	if request.Selection != nil {
		selection = &presence.Selection{Start: request.Selection.Start, End: request.Selection.End}
	}
	if err := h.presence.Heartbeat(c.Request.Context(), c.Param("id"), userID, request.Cursor, selection); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListPresence(c *gin.Context) {
	userID := h.currentUser(c)
	if userID == "" {
		c.JSON(http.StatusOK, gin.H{"active": []presenceResponse{}})
		return
	}
	active, err := h.presence.ListActive(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]presenceResponse, 0, len(active))
	for _, entry := range active {
		response = append(response, newPresenceResponse(entry))
	}
	c.JSON(http.StatusOK, gin.H{"active": response})
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var request addCommentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalid(c, err)
		return
	}
	var anchor *comments.Anchor
	if request.Anchor != nil {
		anchor = &comments.Anchor{Start: request.Anchor.Start, End: request.Anchor.End, Text: request.Anchor.Text}
	}
	comment, err := h.comments.Add(c.Request.Context(), c.Param("id"), userID, request.Text, anchor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCommentResponse(comment, users.Profile{UserID: userID}))
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	userID := h.currentUser(c)
	if userID == "" {
		c.JSON(http.StatusOK, gin.H{"comments": []commentResponse{}})
		return
	}
	entries, err := h.comments.List(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]commentResponse, 0, len(entries))
	for _, entry := range entries {
		response = append(response, newCommentResponse(entry.Comment, entry.Author))
	}
	c.JSON(http.StatusOK, gin.H{"comments": response})
}

func (h *httpHandler) handleResolveComment(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	comment, err := h.comments.Resolve(c.Request.Context(), c.Param("commentId"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCommentResponse(comment, users.Profile{UserID: comment.AuthorID}))
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	if _, err := h.comments.Delete(c.Request.Context(), c.Param("commentId"), userID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
