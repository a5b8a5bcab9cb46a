package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shikkhaloy/student-records-api/internal/auth"
	appctx "github.com/shikkhaloy/student-records-api/internal/context"
)

func newTestTokenService() *auth.TokenService {
	return auth.NewTokenService(auth.TokenServiceConfig{
		AccessSecret:       "test-access-secret",
		RefreshSecret:      "test-refresh-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: time.Hour,
		Issuer:             "student-records-api",
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestAuthenticateMissingHeader(t *testing.T) {
	m := NewAuthMiddleware(newTestTokenService())

	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without credentials")
	}))

	req := httptest.NewRequest(http.MethodGet, "/students", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error.Code != "AUTH_TOKEN_MISSING" {
		t.Errorf("code = %q, want AUTH_TOKEN_MISSING", resp.Error.Code)
	}
}

func TestAuthenticateMalformedHeader(t *testing.T) {
	m := NewAuthMiddleware(newTestTokenService())

	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run with malformed credentials")
	}))

	for _, header := range []string{"token-without-scheme", "Basic dXNlcjpwYXNz", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/students", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestAuthenticateInvalidToken(t *testing.T) {
	m := NewAuthMiddleware(newTestTokenService())

	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run with an invalid token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/students", nil)
	req.Header.Set("Authorization", "Bearer not-a-valid-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error.Code != "AUTH_TOKEN_INVALID" {
		t.Errorf("code = %q, want AUTH_TOKEN_INVALID", resp.Error.Code)
	}
}

func TestAuthenticateRejectsRefreshToken(t *testing.T) {
	svc := newTestTokenService()
	m := NewAuthMiddleware(svc)

	refresh, _, err := svc.GenerateRefreshToken(uuid.New().String())
	if err != nil {
		t.Fatalf("GenerateRefreshToken failed: %v", err)
	}

	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run with a refresh token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/students", nil)
	req.Header.Set("Authorization", "Bearer "+refresh)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthenticateValidToken(t *testing.T) {
	svc := newTestTokenService()
	m := NewAuthMiddleware(svc)

	userID := uuid.New().String()
	token, err := svc.GenerateAccessToken(userID, "rahim", []string{"teacher"})
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	var called bool
	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true

		if got, ok := appctx.ExtractUserID(r.Context()); !ok || got != userID {
			t.Errorf("user id in context = %q (%v), want %q", got, ok, userID)
		}
		if got, ok := appctx.ExtractUsername(r.Context()); !ok || got != "rahim" {
			t.Errorf("username in context = %q (%v), want rahim", got, ok)
		}
		if roles, ok := appctx.ExtractRoles(r.Context()); !ok || len(roles) != 1 || roles[0] != "teacher" {
			t.Errorf("roles in context = %v (%v), want [teacher]", roles, ok)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/students", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatal("handler was not called with a valid token")
	}
}

func TestRequireRole(t *testing.T) {
	svc := newTestTokenService()
	m := NewAuthMiddleware(svc)

	tests := []struct {
		name       string
		userRoles  []string
		required   []string
		wantStatus int
	}{
		{"exact match", []string{"admin"}, []string{"admin"}, http.StatusOK},
		{"one of several", []string{"teacher"}, []string{"admin", "teacher"}, http.StatusOK},
		{"no overlap", []string{"student"}, []string{"admin", "teacher"}, http.StatusForbidden},
		{"empty roles", []string{}, []string{"admin"}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.GenerateAccessToken(uuid.New().String(), "rahim", tt.userRoles)
			if err != nil {
				t.Fatalf("GenerateAccessToken failed: %v", err)
			}

			handler := m.Authenticate(m.RequireRole(tt.required...)(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				}),
			))

			req := httptest.NewRequest(http.MethodDelete, "/students/abc", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden {
				if resp := decodeError(t, rec); resp.Error.Code != "FORBIDDEN" {
					t.Errorf("code = %q, want FORBIDDEN", resp.Error.Code)
				}
			}
		})
	}
}

func TestRequireRoleWithoutAuthenticate(t *testing.T) {
	m := NewAuthMiddleware(newTestTokenService())

	// Misordered chains leave no roles in the context; that reads as
	// unauthenticated rather than forbidden.
	handler := m.RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without authentication context")
	}))

	req := httptest.NewRequest(http.MethodGet, "/students", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
