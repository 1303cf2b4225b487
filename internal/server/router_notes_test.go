package server

import (
	"net/http"
	"strings"
	"testing"
)

func TestNotesLifecycleOverHTTP(t *testing.T) {
	harness := newAPIHarness(t)
	alice := harness.token(t, "alice")

	created := harness.createNote(t, alice, map[string]any{
		"title":   "Photosynthesis",
		"body":    "light reactions",
		"subject": "Biology",
		"tags":    []string{"plants"},
	})
	if created.OwnerID != "alice" || created.Title != "Photosynthesis" {
		t.Fatalf("unexpected note %#v", created)
	}

	updated := harness.do(t, http.MethodPatch, "/notes/"+created.NoteID, alice, map[string]any{"body": "light and dark reactions"})
	if updated.StatusCode != http.StatusOK {
		t.Fatalf("update returned %d: %s", updated.StatusCode, string(updated.Body))
	}
	var afterUpdate noteResponse
	updated.decode(t, &afterUpdate)
	if afterUpdate.Body != "light and dark reactions" || afterUpdate.Title != "Photosynthesis" {
		t.Fatalf("patch must only touch supplied fields, got %#v", afterUpdate)
	}

	versions := harness.do(t, http.MethodGet, "/notes/"+created.NoteID+"/versions", alice, nil)
	var versionList struct {
		Versions []versionResponse `json:"versions"`
	}
	versions.decode(t, &versionList)
	if len(versionList.Versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versionList.Versions))
	}

	search := harness.do(t, http.MethodGet, "/notes?q=dark&tags=plants&sort=title", alice, nil)
	var found struct {
		Notes []noteResponse `json:"notes"`
	}
	search.decode(t, &found)
	if len(found.Notes) != 1 || found.Notes[0].NoteID != created.NoteID {
		t.Fatalf("unexpected search results %#v", found.Notes)
	}

	exported := harness.do(t, http.MethodGet, "/notes/"+created.NoteID+"/export?format=text", alice, nil)
	if exported.StatusCode != http.StatusOK {
		t.Fatalf("export returned %d", exported.StatusCode)
	}
	if disposition := exported.Header.Get("Content-Disposition"); !strings.Contains(disposition, "photosynthesis.txt") {
		t.Fatalf("unexpected content disposition %q", disposition)
	}

	deleted := harness.do(t, http.MethodDelete, "/notes/"+created.NoteID, alice, nil)
	if deleted.StatusCode != http.StatusNoContent {
		t.Fatalf("delete returned %d", deleted.StatusCode)
	}
	missing := harness.do(t, http.MethodGet, "/notes/"+created.NoteID, alice, nil)
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", missing.StatusCode)
	}
}

func TestAnonymousRequests(t *testing.T) {
	harness := newAPIHarness(t)

	created := harness.do(t, http.MethodPost, "/notes", "", map[string]any{"title": "nope"})
	if created.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected anonymous create to be rejected, got %d", created.StatusCode)
	}

	listed := harness.do(t, http.MethodGet, "/notes", "", nil)
	if listed.StatusCode != http.StatusOK || strings.TrimSpace(string(listed.Body)) != `{"notes":[]}` {
		t.Fatalf("expected empty anonymous listing, got %d %s", listed.StatusCode, string(listed.Body))
	}

	summary := harness.do(t, http.MethodGet, "/progress/summary", "", nil)
	if summary.StatusCode != http.StatusOK {
		t.Fatalf("expected anonymous summary to succeed, got %d", summary.StatusCode)
	}

	forged := harness.do(t, http.MethodGet, "/notes", "not-a-token", nil)
	if forged.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected invalid token to be rejected, got %d", forged.StatusCode)
	}
}

func TestSharedNoteAccessOverHTTP(t *testing.T) {
	harness := newAPIHarness(t)
	alice := harness.token(t, "alice")
	bob := harness.token(t, "bob")
	note := harness.createNote(t, alice, map[string]any{"title": "Shared", "body": "v1"})

	forbidden := harness.do(t, http.MethodGet, "/notes/"+note.NoteID, bob, nil)
	if forbidden.StatusCode != http.StatusForbidden {
		t.Fatalf("expected stranger read to be forbidden, got %d", forbidden.StatusCode)
	}

	invited := harness.do(t, http.MethodPost, "/notes/"+note.NoteID+"/shares", alice, map[string]any{
		"email": "BOB@example.com",
		"role":  "viewer",
	})
	if invited.StatusCode != http.StatusCreated {
		t.Fatalf("invite returned %d: %s", invited.StatusCode, string(invited.Body))
	}
	var grant grantResponse
	invited.decode(t, &grant)

	if readable := harness.do(t, http.MethodGet, "/notes/"+note.NoteID, bob, nil); readable.StatusCode != http.StatusOK {
		t.Fatalf("expected viewer read, got %d", readable.StatusCode)
	}
	if write := harness.do(t, http.MethodPatch, "/notes/"+note.NoteID, bob, map[string]any{"body": "v2"}); write.StatusCode != http.StatusForbidden {
		t.Fatalf("expected viewer write to be forbidden, got %d", write.StatusCode)
	}

	promoted := harness.do(t, http.MethodPatch, "/shares/"+grant.ShareID, alice, map[string]any{"role": "editor"})
	if promoted.StatusCode != http.StatusOK {
		t.Fatalf("role update returned %d", promoted.StatusCode)
	}
	if write := harness.do(t, http.MethodPatch, "/notes/"+note.NoteID, bob, map[string]any{"body": "v2"}); write.StatusCode != http.StatusOK {
		t.Fatalf("expected editor write, got %d", write.StatusCode)
	}

	incoming := harness.do(t, http.MethodGet, "/shares/incoming", bob, nil)
	var shared struct {
		Notes []sharedNoteResponse `json:"notes"`
	}
	incoming.decode(t, &shared)
	if len(shared.Notes) != 1 || shared.Notes[0].Role != "editor" || shared.Notes[0].Owner.UserID != "alice" {
		t.Fatalf("unexpected incoming shares %#v", shared.Notes)
	}

	if revoked := harness.do(t, http.MethodDelete, "/shares/"+grant.ShareID, alice, nil); revoked.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke returned %d", revoked.StatusCode)
	}
	if after := harness.do(t, http.MethodGet, "/notes/"+note.NoteID, bob, nil); after.StatusCode != http.StatusForbidden {
		t.Fatalf("expected revoked grantee to be forbidden, got %d", after.StatusCode)
	}
}

func TestInviteRejectsInvalidPayload(t *testing.T) {
	harness := newAPIHarness(t)
	alice := harness.token(t, "alice")
	note := harness.createNote(t, alice, map[string]any{"title": "Shared"})

	response := harness.do(t, http.MethodPost, "/notes/"+note.NoteID+"/shares", alice, map[string]any{
		"email": "not-an-email",
		"role":  "owner",
	})
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.StatusCode)
	}
	var payload errorResponse
	response.decode(t, &payload)
	rules := map[string]string{}
	for _, detail := range payload.Details {
		rules[detail.Field] = detail.Rule
	}
	if rules["email"] != "email" || rules["role"] != "share_role" {
		t.Fatalf("unexpected validation details %#v", payload.Details)
	}
}
