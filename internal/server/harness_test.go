package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/ai"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/auth"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/comments"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/database"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/notes"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/plans"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/presence"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/progress"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/reminders"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/sharing"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/stats"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/study"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSigningSecret = "server-test-signing-secret"

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (g *sequenceIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%d", g.next), nil
}

type cannedCompleter struct {
	mu       sync.Mutex
	response string
	err      error
}

func (c *cannedCompleter) Complete(context.Context, ai.Prompt) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.response, c.err
}

func (c *cannedCompleter) respond(text string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.response = text
	c.err = err
}

type apiHarness struct {
	server     *httptest.Server
	db         *gorm.DB
	issuer     *auth.TokenIssuer
	dispatcher *RealtimeDispatcher
	completer  *cannedCompleter
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.Open(database.Config{Driver: database.DriverSQLite, Path: dsn}, logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	resolver, err := access.NewResolver(db)
	if err != nil {
		t.Fatalf("failed to build resolver: %v", err)
	}
	idProvider := &sequenceIDs{}

	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build users: %v", err)
	}
	progressService, err := progress.NewService(progress.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build progress: %v", err)
	}
	noteService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Access:     resolver,
		Logger:     logger,
		DeleteCascades: []notes.CascadeFunc{
			sharing.DeleteForNote,
			comments.DeleteForNote,
			presence.DeleteForNote,
			reminders.DetachNote,
			study.DeleteForNote,
			plans.DeleteForNote,
		},
	})
	if err != nil {
		t.Fatalf("failed to build notes: %v", err)
	}
	sharingService, err := sharing.NewService(sharing.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Access:     resolver,
		Directory:  userService,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build sharing: %v", err)
	}
	presenceStore, err := presence.NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to build presence store: %v", err)
	}
	presenceService, err := presence.NewService(presence.ServiceConfig{
		Store:     presenceStore,
		Access:    resolver,
		Directory: userService,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("failed to build presence: %v", err)
	}
	commentService, err := comments.NewService(comments.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Access:     resolver,
		Directory:  userService,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build comments: %v", err)
	}
	completer := &cannedCompleter{}
	studyService, err := study.NewService(study.ServiceConfig{
		Database:   db,
		AI:         completer,
		Notes:      noteService,
		Access:     resolver,
		IDProvider: idProvider,
		Progress:   progressService,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build study: %v", err)
	}
	reminderService, err := reminders.NewService(reminders.ServiceConfig{
		Database:   db,
		Access:     resolver,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build reminders: %v", err)
	}
	planService, err := plans.NewService(plans.ServiceConfig{
		Database:   db,
		Access:     resolver,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build plans: %v", err)
	}
	statsService, err := stats.NewService(stats.ServiceConfig{
		Notes:  noteService,
		Plans:  planService,
		Mentor: studyService,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("failed to build stats: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "studybuddy-test",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "studybuddy-test",
		CookieName:    "studybuddy_session",
	})
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		Sessions:          validator,
		Users:             userService,
		Notes:             noteService,
		Sharing:           sharingService,
		Presence:          presenceService,
		Comments:          commentService,
		Progress:          progressService,
		Study:             studyService,
		Reminders:         reminderService,
		Plans:             planService,
		Stats:             statsService,
		Realtime:          dispatcher,
		HeartbeatInterval: time.Hour,
		Logger:            logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &apiHarness{server: server, db: db, issuer: issuer, dispatcher: dispatcher, completer: completer}
}

// token signs a session for userID and registers the identity on first use.
func (h *apiHarness) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := h.issuer.IssueSessionToken(auth.TokenSubject{
		UserID:      userID,
		Email:       userID + "@example.com",
		DisplayName: userID,
	})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	response := h.do(t, http.MethodGet, "/notes", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("failed to register %s: status %d", userID, response.StatusCode)
	}
	return token
}

type apiResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r apiResponse) decode(t *testing.T, target any) {
	t.Helper()
	if err := json.Unmarshal(r.Body, target); err != nil {
		t.Fatalf("failed to decode %s: %v", string(r.Body), err)
	}
}

func (h *apiHarness) do(t *testing.T, method, path, token string, body any) apiResponse {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return apiResponse{StatusCode: response.StatusCode, Header: response.Header, Body: payload}
}

func (h *apiHarness) createNote(t *testing.T, token string, body map[string]any) noteResponse {
	t.Helper()
	response := h.do(t, http.MethodPost, "/notes", token, body)
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("create note returned %d: %s", response.StatusCode, string(response.Body))
	}
	var note noteResponse
	response.decode(t, &note)
	return note
}
