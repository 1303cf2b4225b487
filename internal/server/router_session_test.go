package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/auth"
	"github.com/golang-jwt/jwt/v5"
)

func TestSessionCookieAuthenticatesRequests(t *testing.T) {
	harness := newAPIHarness(t)
	sessionCookie := &http.Cookie{
		Name:  "studybuddy_session",
		Value: mustMintSessionToken(t, "user-abc", time.Now()),
	}

	createRequest, err := http.NewRequest(http.MethodPost, harness.server.URL+"/notes", http.NoBody)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	createRequest.AddCookie(sessionCookie)
	createRequest.Header.Set("Content-Type", "application/json")
	createResponse, err := http.DefaultClient.Do(createRequest)
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	defer createResponse.Body.Close()
	// An empty body fails binding, which proves the session was accepted first.
	if createResponse.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected binding failure for authenticated caller, got %d", createResponse.StatusCode)
	}

	expiredCookie := &http.Cookie{
		Name:  "studybuddy_session",
		Value: mustMintSessionToken(t, "user-abc", time.Now().Add(-2*time.Hour)),
	}
	listRequest, err := http.NewRequest(http.MethodGet, harness.server.URL+"/notes", http.NoBody)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	listRequest.AddCookie(expiredCookie)
	listResponse, err := http.DefaultClient.Do(listRequest)
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	defer listResponse.Body.Close()
	if listResponse.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected expired cookie to be rejected, got %d", listResponse.StatusCode)
	}
}

func mustMintSessionToken(t *testing.T, userID string, now time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:    userID,
		UserEmail: userID + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "studybuddy-test",
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
