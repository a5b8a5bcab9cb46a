package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shikkhaloy/student-records-api/internal/metrics"
	"github.com/shikkhaloy/student-records-api/internal/repository"
)

// Auth service errors
var (
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrAccountLocked       = errors.New("account temporarily locked after repeated failures")
	ErrEmailNotVerified    = errors.New("email address not verified")
	ErrDuplicateUser       = errors.New("username or email already exists")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrUserNotFound        = errors.New("user not found")
)

// Error codes for API responses
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeDuplicateUser       = "DUPLICATE_USER"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeAccountLocked       = "ACCOUNT_LOCKED"
	CodeEmailNotVerified    = "EMAIL_NOT_VERIFIED"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodeAuthTokenMissing    = "AUTH_TOKEN_MISSING"
	CodeAuthTokenInvalid    = "AUTH_TOKEN_INVALID"
)

// usernamePattern constrains usernames to a portable character set
var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,31}$`)

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	FullName        string `json:"full_name"`
}

// LoginRequest represents the login request payload. Identifier accepts
// either a username or an email address.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// RefreshRequest represents the token refresh request payload
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest represents the logout request payload
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	User   UserResponse  `json:"user"`
	Tokens TokenResponse `json:"tokens"`
}

// TokenResponse represents the token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// UserResponse represents the user data in responses. The credential
// hash never appears here.
type UserResponse struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	FullName   string     `json:"full_name"`
	Roles      []string   `json:"roles"`
	IsVerified bool       `json:"is_verified"`
	CreatedAt  time.Time  `json:"created_at"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
}

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Config holds authentication policy knobs
type Config struct {
	MaxLoginAttempts     int
	LockoutDuration      time.Duration
	RequireVerifiedEmail bool
}

// AuthService orchestrates credential checks, lockout tracking, and
// token issuance
type AuthService struct {
	userRepo  repository.UserRepository
	tokenRepo repository.TokenRepository
	tokens    *TokenService
	hasher    *PasswordHasher
	cfg       Config
	logger    *slog.Logger
}

// NewAuthService creates a new AuthService instance
func NewAuthService(
	userRepo repository.UserRepository,
	tokenRepo repository.TokenRepository,
	tokens *TokenService,
	hasher *PasswordHasher,
	cfg Config,
	logger *slog.Logger,
) *AuthService {
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		tokens:    tokens,
		hasher:    hasher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Register creates a new user account and returns tokens. Usernames and
// emails are trimmed and lower-cased before the uniqueness check so
// "Alice" and "alice" collide. New accounts are active immediately and
// unverified.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, []ValidationError, error) {
	var validationErrors []ValidationError

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if !usernamePattern.MatchString(username) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "username",
			Message: "Username must be 3-32 characters of letters, digits, dot, dash, or underscore",
		})
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !isValidEmail(email) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "email",
			Message: "Invalid email format",
		})
	}

	for _, err := range s.hasher.ValidatePassword(req.Password) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field,
			Message: err.Message,
		})
	}

	if req.Password != req.ConfirmPassword {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "confirm_password",
			Message: "Password and confirm_password do not match",
		})
	}

	if len(validationErrors) > 0 {
		return nil, validationErrors, nil
	}

	exists, err := s.userRepo.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return nil, nil, ErrDuplicateUser
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, nil, err
	}

	user := &repository.User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		FullName:     strings.TrimSpace(req.FullName),
		Roles:        []string{repository.RoleStudent},
		IsActive:     true,
		IsVerified:   false,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		// The unique index catches the race between the existence check
		// and the insert.
		if errors.Is(err, repository.ErrDuplicateUser) {
			return nil, nil, ErrDuplicateUser
		}
		return nil, nil, err
	}

	tokens, err := s.issueTokenPair(ctx, user, nil, nil)
	if err != nil {
		return nil, nil, err
	}

	return &AuthResponse{
		User:   toUserResponse(user),
		Tokens: *tokens,
	}, nil, nil
}

// Login authenticates a user by username or email and returns tokens.
//
// Lockout state machine: each failed attempt increments the counter; at
// the threshold the account locks for the configured duration. While
// locked, even the correct password fails with ErrAccountLocked. Once
// the lockout passes the account is unlocked and the counter starts a
// fresh window, so a single post-expiry failure cannot re-lock it.
// A successful login resets the counter.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, ipAddress, userAgent string) (*AuthResponse, error) {
	identifier := strings.ToLower(strings.TrimSpace(req.Identifier))

	user, err := s.userRepo.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Burn a hash comparison so unknown identifiers take about
			// as long as wrong passwords, then fail generically.
			s.hasher.VerifyDummy(req.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := time.Now().UTC()
	if user.IsLocked(now) {
		// The password is deliberately not checked while locked.
		return nil, ErrAccountLocked
	}

	if !user.IsActive {
		s.hasher.VerifyDummy(req.Password)
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		count, lockedUntil, recErr := s.userRepo.RecordFailedAttempt(ctx, user.ID, s.cfg.MaxLoginAttempts, s.cfg.LockoutDuration)
		if recErr != nil {
			s.logger.Error("failed to record login attempt", "user_id", user.ID, "error", recErr)
		} else if lockedUntil != nil && now.Before(*lockedUntil) {
			metrics.AuthLockoutsTotal.Inc()
			s.logger.Warn("account locked after repeated failures",
				"user_id", user.ID, "failed_attempts", count, "locked_until", *lockedUntil)
		}
		return nil, ErrInvalidCredentials
	}

	// Verification policy is checked only after the password succeeds,
	// so the response cannot be used to probe which accounts exist.
	if s.cfg.RequireVerifiedEmail && !user.IsVerified {
		return nil, ErrEmailNotVerified
	}

	if err := s.userRepo.ResetFailedAttempts(ctx, user.ID); err != nil {
		return nil, err
	}
	if err := s.userRepo.UpdateLastLogin(ctx, user.ID); err != nil {
		return nil, err
	}

	tokens, err := s.issueTokenPair(ctx, user, &ipAddress, &userAgent)
	if err != nil {
		return nil, err
	}

	// Re-read to pick up the fresh last_login_at for the response.
	if refreshed, err := s.userRepo.GetByID(ctx, user.ID); err == nil {
		user = refreshed
	}

	return &AuthResponse{
		User:   toUserResponse(user),
		Tokens: *tokens,
	}, nil
}

// Refresh validates a refresh token and returns a rotated token pair.
// The presented token must verify, must still be tracked, and must not
// be revoked; on success it is revoked and replaced.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		s.logger.Debug("refresh token rejected", "reason", err.Error())
		return nil, ErrInvalidRefreshToken
	}

	tokenHash := s.tokens.HashRefreshToken(refreshToken)
	record, err := s.tokenRepo.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	if record.RevokedAt != nil || time.Now().UTC().After(record.ExpiresAt) {
		return nil, ErrInvalidRefreshToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrInvalidRefreshToken
	}

	// Rotate: the old token dies with the new one's birth.
	if err := s.tokenRepo.Revoke(ctx, record.ID); err != nil {
		return nil, err
	}

	return s.issueTokenPair(ctx, user, record.IPAddress, record.UserAgent)
}

// Logout revokes a single refresh token
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if _, err := s.tokens.ValidateRefreshToken(refreshToken); err != nil {
		return ErrInvalidRefreshToken
	}

	tokenHash := s.tokens.HashRefreshToken(refreshToken)
	if err := s.tokenRepo.RevokeByTokenHash(ctx, tokenHash); err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return ErrInvalidRefreshToken
		}
		return err
	}

	return nil
}

// LogoutAll revokes every live refresh token belonging to a user
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return 0, ErrUserNotFound
	}

	revoked, err := s.tokenRepo.RevokeAllForUser(ctx, id)
	if err != nil {
		return 0, err
	}

	s.logger.Info("revoked all sessions", "user_id", id, "revoked", revoked)
	return revoked, nil
}

// GetUserProfile returns the current user's profile
func (s *AuthService) GetUserProfile(ctx context.Context, userID string) (*UserResponse, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	resp := toUserResponse(user)
	return &resp, nil
}

// issueTokenPair mints an access/refresh pair and tracks the refresh
// token hash for rotation and revocation
func (s *AuthService) issueTokenPair(ctx context.Context, user *repository.User, ipAddress, userAgent *string) (*TokenResponse, error) {
	pair, err := s.tokens.GenerateTokenPair(user.ID.String(), user.Username, user.Roles)
	if err != nil {
		return nil, err
	}

	record := &repository.RefreshToken{
		UserID:    user.ID,
		TokenHash: s.tokens.HashRefreshToken(pair.RefreshToken),
		JTI:       pair.RefreshJTI,
		ExpiresAt: time.Now().UTC().Add(s.tokens.GetRefreshTokenExpiry()),
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}

	if err := s.tokenRepo.Create(ctx, record); err != nil {
		return nil, err
	}

	metrics.AuthTokensIssuedTotal.WithLabelValues("access").Inc()
	metrics.AuthTokensIssuedTotal.WithLabelValues("refresh").Inc()

	return &TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		TokenType:    "Bearer",
	}, nil
}

// toUserResponse maps a user row to its API representation
func toUserResponse(user *repository.User) UserResponse {
	return UserResponse{
		ID:         user.ID.String(),
		Username:   user.Username,
		Email:      user.Email,
		FullName:   user.FullName,
		Roles:      user.Roles,
		IsVerified: user.IsVerified,
		CreatedAt:  user.CreatedAt,
		LastLogin:  user.LastLoginAt,
	}
}

// isValidEmail checks if the email format is valid
func isValidEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}
