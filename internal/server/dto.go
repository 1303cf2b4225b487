package server

import (
	"github.com/MarcoPoloResearchLab/studybuddy/internal/comments"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/notes"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/presence"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/sharing"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/users"
)

type noteResponse struct {
	NoteID      string   `json:"note_id"`
	OwnerID     string   `json:"owner_id"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Subject     string   `json:"subject,omitempty"`
	Tags        []string `json:"tags"`
	Color       string   `json:"color,omitempty"`
	Grade       *float64 `json:"grade,omitempty"`
	Feedback    string   `json:"feedback,omitempty"`
	CreatedAtMs int64    `json:"created_at_ms"`
	UpdatedAtMs int64    `json:"updated_at_ms"`
}

func newNoteResponse(note notes.Note) noteResponse {
	return noteResponse{
		NoteID:      note.NoteID,
		OwnerID:     note.OwnerID,
		Title:       note.Title,
		Body:        note.Body,
		Subject:     note.Subject,
		Tags:        note.TagList(),
		Color:       note.Color,
		Grade:       note.Grade,
		Feedback:    note.Feedback,
		CreatedAtMs: note.CreatedAtMillis,
		UpdatedAtMs: note.UpdatedAtMillis,
	}
}

func newNoteResponses(list []notes.Note) []noteResponse {
	out := make([]noteResponse, 0, len(list))
	for _, note := range list {
		out = append(out, newNoteResponse(note))
	}
	return out
}

type versionResponse struct {
	VersionID   string `json:"version_id"`
	NoteID      string `json:"note_id"`
	AuthorID    string `json:"author_id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Sequence    int64  `json:"seq"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

func newVersionResponse(version notes.NoteVersion) versionResponse {
	return versionResponse{
		VersionID:   version.VersionID,
		NoteID:      version.NoteID,
		AuthorID:    version.AuthorID,
		Title:       version.Title,
		Body:        version.Body,
		Sequence:    version.Sequence,
		CreatedAtMs: version.CreatedAtMillis,
	}
}

type grantResponse struct {
	ShareID     string        `json:"share_id"`
	NoteID      string        `json:"note_id"`
	Role        string        `json:"role"`
	Grantee     users.Profile `json:"grantee"`
	CreatedAtMs int64         `json:"created_at_ms"`
	Updated     bool          `json:"updated,omitempty"`
}

func newGrantResponse(grant sharing.Grant, grantee users.Profile) grantResponse {
	return grantResponse{
		ShareID:     grant.ShareID,
		NoteID:      grant.NoteID,
		Role:        grant.Role.String(),
		Grantee:     grantee,
		CreatedAtMs: grant.CreatedAtMillis,
	}
}

type sharedNoteResponse struct {
	ShareID     string        `json:"share_id"`
	NoteID      string        `json:"note_id"`
	Title       string        `json:"title"`
	Subject     string        `json:"subject,omitempty"`
	Role        string        `json:"role"`
	Owner       users.Profile `json:"owner"`
	SharedAtMs  int64         `json:"shared_at_ms"`
	UpdatedAtMs int64         `json:"updated_at_ms"`
}

func newSharedNoteResponse(shared sharing.SharedNote) sharedNoteResponse {
	return sharedNoteResponse{
		ShareID:     shared.ShareID,
		NoteID:      shared.NoteID,
		Title:       shared.Title,
		Subject:     shared.Subject,
		Role:        shared.Role.String(),
		Owner:       shared.Owner,
		SharedAtMs:  shared.SharedAtMillis,
		UpdatedAtMs: shared.UpdatedAtMillis,
	}
}

type presenceResponse struct {
	User       users.Profile       `json:"user"`
	Cursor     *int                `json:"cursor,omitempty"`
	Selection  *presence.Selection `json:"selection,omitempty"`
	LastSeenMs int64               `json:"last_seen_ms"`
}

func newPresenceResponse(active presence.ActiveUser) presenceResponse {
	return presenceResponse{
		User:       active.Profile,
		Cursor:     active.Cursor,
		Selection:  active.Selection,
		LastSeenMs: active.LastSeenMillis,
	}
}

type commentResponse struct {
	CommentID   string           `json:"comment_id"`
	NoteID      string           `json:"note_id"`
	Text        string           `json:"text"`
	Anchor      *comments.Anchor `json:"anchor,omitempty"`
	Resolved    bool             `json:"resolved"`
	Author      users.Profile    `json:"author"`
	CreatedAtMs int64            `json:"created_at_ms"`
}

func newCommentResponse(comment comments.Comment, author users.Profile) commentResponse {
	return commentResponse{
		CommentID:   comment.CommentID,
		NoteID:      comment.NoteID,
		Text:        comment.Text,
		Anchor:      comment.Anchor(),
		Resolved:    comment.Resolved,
		Author:      author,
		CreatedAtMs: comment.CreatedAtMillis,
	}
}
