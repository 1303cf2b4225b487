package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionCookieName    = "app_session"
	testSessionUserID        = "user-123"
	testSessionUserEmail     = "user@example.com"
)

func signTestToken(t *testing.T, claims SessionClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaimsAt(now time.Time) SessionClaims {
	return SessionClaims{
		UserID:    testSessionUserID,
		UserEmail: testSessionUserEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultSessionIssuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	claims, err := validator.ValidateToken(signTestToken(t, validClaimsAt(clockNow)))
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID || claims.UserEmail != testSessionUserEmail {
		t.Fatalf("unexpected claims: %#v", claims)
	}
}

func TestSessionValidatorRejectsBadTokens(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	expired := validClaimsAt(clockNow)
	expired.IssuedAt = jwt.NewNumericDate(clockNow.Add(-2 * time.Hour))
	expired.NotBefore = nil
	expired.ExpiresAt = jwt.NewNumericDate(clockNow.Add(-time.Hour))

	foreignIssuer := validClaimsAt(clockNow)
	foreignIssuer.Issuer = "someone-else"

	missingUser := validClaimsAt(clockNow)
	missingUser.UserID = ""

	testCases := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "empty", token: " ", wantErr: ErrMissingSessionToken},
		{name: "expired", token: signTestToken(t, expired), wantErr: ErrExpiredSessionToken},
		{name: "foreign issuer", token: signTestToken(t, foreignIssuer), wantErr: ErrInvalidSessionToken},
		{name: "missing user", token: signTestToken(t, missingUser), wantErr: ErrMissingSessionSubject},
		{name: "malformed", token: "not.a.jwt", wantErr: ErrInvalidSessionToken},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := validator.ValidateToken(testCase.token); !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestSessionValidatorValidateRequestUsesCookie(t *testing.T) {
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/notes", http.NoBody)
	request.AddCookie(&http.Cookie{
		Name:  testSessionCookieName,
		Value: signTestToken(t, validClaimsAt(time.Now())),
	})

	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
}

func TestSessionValidatorValidateRequestPrefersBearerHeader(t *testing.T) {
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	request := httptest.NewRequest(http.MethodGet, "/notes", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+signTestToken(t, validClaimsAt(time.Now())))
	request.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: "garbage"})

	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.Subject != testSessionUserID {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}

	anonymous := httptest.NewRequest(http.MethodGet, "/notes", http.NoBody)
	if _, err := validator.ValidateRequest(anonymous); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestSessionValidatorLeewayAndAlgorithm(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	newValidator := func(leeway time.Duration) *SessionValidator {
		validator, err := NewSessionValidator(SessionValidatorConfig{
			SigningSecret: []byte(testSessionSigningSecret),
			CookieName:    testSessionCookieName,
			Leeway:        leeway,
			Clock:         func() time.Time { return clockNow },
		})
		if err != nil {
			t.Fatalf("failed to construct validator: %v", err)
		}
		return validator
	}

	justExpired := validClaimsAt(clockNow)
	justExpired.ExpiresAt = jwt.NewNumericDate(clockNow.Add(-10 * time.Second))
	token := signTestToken(t, justExpired)

	if _, err := newValidator(0).ValidateToken(token); err != nil {
		t.Fatalf("default leeway should accept a token expired 10s ago: %v", err)
	}
	if _, err := newValidator(-1).ValidateToken(token); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("disabled leeway should reject the token, got %v", err)
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, validClaimsAt(clockNow)).SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := newValidator(0).ValidateToken(hs512); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected HS512 token to be rejected, got %v", err)
	}
}
