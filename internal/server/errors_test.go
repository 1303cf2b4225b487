package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/progress"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/reminders"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStatusForError(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want int
	}{
		{name: "unauthenticated", err: apperr.New("notes.create", "unauthenticated", apperr.ErrUnauthenticated, nil), want: http.StatusUnauthorized},
		{name: "forbidden", err: apperr.New("notes.update", "forbidden", apperr.ErrForbidden, nil), want: http.StatusForbidden},
		{name: "not found", err: apperr.New("notes.get", "not_found", apperr.ErrNotFound, nil), want: http.StatusNotFound},
		{name: "validation", err: apperr.New("sharing.invite", "self_invite", apperr.ErrValidation, nil), want: http.StatusBadRequest},
		{name: "upstream", err: apperr.New("ai.complete", "bad_status", apperr.ErrUpstream, nil), want: http.StatusBadGateway},
		{name: "unavailable", err: apperr.New("ai.complete", "not_configured", apperr.ErrUnavailable, nil), want: http.StatusServiceUnavailable},
		{name: "unclassified", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := statusForError(testCase.err); got != testCase.want {
				t.Fatalf("expected %d, got %d", testCase.want, got)
			}
		})
	}
}

func TestRespondErrorHidesInternalReasons(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/notes", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{logger: zap.New(core)}
	handler.respondError(ctx, apperr.New("notes.search", "query_failed", nil, errors.New("disk full")))

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	expected := `{"error":"internal_error","code":"notes.search.query_failed"}`
	if recorder.Body.String() != expected {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
	if logs.Len() != 1 || logs.All()[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected one error log, got %v", logs.All())
	}
}

func TestRespondErrorReportsClientReasons(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/notes/n/shares", http.NoBody)

	handler := &httpHandler{logger: zap.NewNop()}
	handler.respondError(ctx, apperr.New("sharing.invite", "self_invite", apperr.ErrValidation, nil))

	expected := `{"error":"self_invite","code":"sharing.invite.self_invite"}`
	if recorder.Code != http.StatusBadRequest || recorder.Body.String() != expected {
		t.Fatalf("unexpected response %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestKindParsersReportValidationErrors(t *testing.T) {
	if _, err := progressKind("napping"); !errors.Is(err, apperr.ErrValidation) || apperr.CodeOf(err) != "server.log_progress.invalid_kind" {
		t.Fatalf("expected invalid progress kind, got %v", err)
	}
	if kind, err := progressKind("Study"); err != nil || kind != progress.KindStudy {
		t.Fatalf("expected study kind, got %q err=%v", kind, err)
	}
	if _, err := reminderKind("party"); !errors.Is(err, apperr.ErrValidation) || apperr.CodeOf(err) != "server.create_reminder.invalid_kind" {
		t.Fatalf("expected invalid reminder kind, got %v", err)
	}
	if kind, err := reminderKind(" "); err != nil || kind != reminders.KindStudy {
		t.Fatalf("expected empty reminder kind to default to study, got %q err=%v", kind, err)
	}
	if kind, err := reminderKind("exam"); err != nil || kind != reminders.KindExam {
		t.Fatalf("expected exam kind, got %q err=%v", kind, err)
	}
}
