package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"pgregory.net/rapid"
)

func newTestTokenService() *TokenService {
	return NewTokenService(TokenServiceConfig{
		AccessSecret:       "test-access-secret",
		RefreshSecret:      "test-refresh-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
		Issuer:             "student-records-api",
	})
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := newTestTokenService()
	userID := uuid.New().String()

	token, err := svc.GenerateAccessToken(userID, "rahim", []string{"teacher", "staff"})
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	claims, err := svc.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}

	if claims.UserID() != userID {
		t.Errorf("UserID = %q, want %q", claims.UserID(), userID)
	}
	if claims.Username != "rahim" {
		t.Errorf("Username = %q, want %q", claims.Username, "rahim")
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "teacher" || claims.Roles[1] != "staff" {
		t.Errorf("Roles = %v, want [teacher staff]", claims.Roles)
	}
	if claims.Type != AccessTokenType {
		t.Errorf("Type = %q, want %q", claims.Type, AccessTokenType)
	}
	if claims.Issuer != "student-records-api" {
		t.Errorf("Issuer = %q, want student-records-api", claims.Issuer)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	svc := newTestTokenService()
	userID := uuid.New().String()

	token, jti, err := svc.GenerateRefreshToken(userID)
	if err != nil {
		t.Fatalf("GenerateRefreshToken failed: %v", err)
	}
	if jti == uuid.Nil {
		t.Fatal("expected a non-nil JTI")
	}

	claims, err := svc.ValidateRefreshToken(token)
	if err != nil {
		t.Fatalf("ValidateRefreshToken failed: %v", err)
	}

	if claims.UserID() != userID {
		t.Errorf("UserID = %q, want %q", claims.UserID(), userID)
	}
	if claims.ID != jti.String() {
		t.Errorf("JTI claim = %q, want %q", claims.ID, jti.String())
	}
	if len(claims.Roles) != 0 {
		t.Errorf("refresh token should not carry roles, got %v", claims.Roles)
	}
}

func TestTokenTypeCrossValidation(t *testing.T) {
	svc := newTestTokenService()
	userID := uuid.New().String()

	access, err := svc.GenerateAccessToken(userID, "rahim", []string{"student"})
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}
	refresh, _, err := svc.GenerateRefreshToken(userID)
	if err != nil {
		t.Fatalf("GenerateRefreshToken failed: %v", err)
	}

	// Access and refresh tokens use different secrets, so presenting
	// one where the other is expected fails signature verification
	// before the type check even runs.
	if _, err := svc.ValidateRefreshToken(access); err == nil {
		t.Error("access token accepted as refresh token")
	}
	if _, err := svc.ValidateAccessToken(refresh); err == nil {
		t.Error("refresh token accepted as access token")
	}
}

func TestTokenWrongTypeSameSecret(t *testing.T) {
	// With identical secrets the signature verifies, so the type claim
	// is the only thing separating the two token kinds.
	svc := NewTokenService(TokenServiceConfig{
		AccessSecret:       "shared-secret",
		RefreshSecret:      "shared-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: time.Hour,
		Issuer:             "student-records-api",
	})

	access, err := svc.GenerateAccessToken(uuid.New().String(), "rahim", nil)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	if _, err := svc.ValidateRefreshToken(access); !errors.Is(err, ErrTokenWrongType) {
		t.Errorf("err = %v, want ErrTokenWrongType", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := NewTokenService(TokenServiceConfig{
		AccessSecret:       "test-access-secret",
		RefreshSecret:      "test-refresh-secret",
		AccessTokenExpiry:  -time.Minute,
		RefreshTokenExpiry: -time.Minute,
		Issuer:             "student-records-api",
	})

	token, err := svc.GenerateAccessToken(uuid.New().String(), "rahim", nil)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	if _, err := svc.ValidateAccessToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	svc := newTestTokenService()
	other := NewTokenService(TokenServiceConfig{
		AccessSecret:       "a-different-secret",
		RefreshSecret:      "another-different-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: time.Hour,
		Issuer:             "student-records-api",
	})

	token, err := svc.GenerateAccessToken(uuid.New().String(), "rahim", nil)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	if _, err := other.ValidateAccessToken(token); !errors.Is(err, ErrTokenSignature) {
		t.Errorf("err = %v, want ErrTokenSignature", err)
	}
}

func TestIssuerMismatchRejected(t *testing.T) {
	svc := newTestTokenService()
	other := NewTokenService(TokenServiceConfig{
		AccessSecret:       "test-access-secret",
		RefreshSecret:      "test-refresh-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: time.Hour,
		Issuer:             "some-other-service",
	})

	token, err := other.GenerateAccessToken(uuid.New().String(), "rahim", nil)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	if _, err := svc.ValidateAccessToken(token); err == nil {
		t.Error("token with mismatched issuer was accepted")
	}
}

func TestMalformedTokenRejected(t *testing.T) {
	svc := newTestTokenService()

	for _, token := range []string{"", "garbage", "a.b", "a.b.c"} {
		if _, err := svc.ValidateAccessToken(token); !errors.Is(err, ErrTokenMalformed) {
			t.Errorf("ValidateAccessToken(%q) err = %v, want ErrTokenMalformed", token, err)
		}
	}
}

func TestGenerateTokenPair(t *testing.T) {
	svc := newTestTokenService()
	userID := uuid.New().String()

	pair, err := svc.GenerateTokenPair(userID, "rahim", []string{"admin"})
	if err != nil {
		t.Fatalf("GenerateTokenPair failed: %v", err)
	}

	if pair.ExpiresIn != int64((15 * time.Minute).Seconds()) {
		t.Errorf("ExpiresIn = %d, want %d", pair.ExpiresIn, int64((15*time.Minute).Seconds()))
	}

	if _, err := svc.ValidateAccessToken(pair.AccessToken); err != nil {
		t.Errorf("access token from pair did not validate: %v", err)
	}

	claims, err := svc.ValidateRefreshToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh token from pair did not validate: %v", err)
	}
	if claims.ID != pair.RefreshJTI.String() {
		t.Errorf("refresh JTI = %q, want %q", claims.ID, pair.RefreshJTI.String())
	}
}

func TestHashRefreshToken(t *testing.T) {
	svc := newTestTokenService()

	rapid.Check(t, func(t *rapid.T) {
		token := rapid.String().Draw(t, "token")
		other := rapid.String().Draw(t, "other")

		h1 := svc.HashRefreshToken(token)
		h2 := svc.HashRefreshToken(token)
		if h1 != h2 {
			t.Fatalf("hashing is not deterministic: %q vs %q", h1, h2)
		}
		if len(h1) != 64 {
			t.Fatalf("hash length = %d, want 64 hex chars", len(h1))
		}
		if other != token && svc.HashRefreshToken(other) == h1 {
			t.Fatalf("distinct tokens produced the same hash")
		}
	})
}

func TestClaimsRoundTripProperty(t *testing.T) {
	svc := newTestTokenService()

	rapid.Check(t, func(t *rapid.T) {
		userID := uuid.New().String()
		username := rapid.StringMatching(`[a-z][a-z0-9_]{2,20}`).Draw(t, "username")
		roles := rapid.SliceOfN(rapid.SampledFrom([]string{"admin", "teacher", "student", "staff", "parent"}), 0, 3).Draw(t, "roles")

		token, err := svc.GenerateAccessToken(userID, username, roles)
		if err != nil {
			t.Fatalf("GenerateAccessToken failed: %v", err)
		}

		claims, err := svc.ValidateAccessToken(token)
		if err != nil {
			t.Fatalf("ValidateAccessToken failed: %v", err)
		}

		if claims.UserID() != userID || claims.Username != username {
			t.Fatalf("identity claims did not survive the round trip")
		}
		if len(claims.Roles) != len(roles) {
			t.Fatalf("roles = %v, want %v", claims.Roles, roles)
		}
		for i := range roles {
			if claims.Roles[i] != roles[i] {
				t.Fatalf("roles = %v, want %v", claims.Roles, roles)
			}
		}
	})
}
