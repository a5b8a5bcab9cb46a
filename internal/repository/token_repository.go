package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Token repository errors
var (
	ErrTokenNotFound = errors.New("refresh token not found")
)

// TokenRepository defines the interface for refresh token tracking.
// Presented refresh tokens are looked up by SHA-256 hash; a missing or
// revoked row makes the token invalid regardless of its signature.
type TokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeByTokenHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// tokenRepository implements TokenRepository using PostgreSQL
type tokenRepository struct {
	pool *pgxpool.Pool
}

// NewTokenRepository creates a new TokenRepository instance
func NewTokenRepository(pool *pgxpool.Pool) TokenRepository {
	return &tokenRepository{pool: pool}
}

// Create inserts a new refresh token record
func (r *tokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	defer observeQuery("refresh_tokens_create", time.Now())

	query := `
		INSERT INTO refresh_tokens (user_id, token_hash, jti, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	return r.pool.QueryRow(ctx, query,
		token.UserID,
		token.TokenHash,
		token.JTI,
		token.ExpiresAt,
		token.IPAddress,
		token.UserAgent,
	).Scan(&token.ID, &token.CreatedAt)
}

// GetByTokenHash retrieves a refresh token record by its hash
func (r *tokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	defer observeQuery("refresh_tokens_get_by_token_hash", time.Now())

	query := `
		SELECT id, user_id, token_hash, jti, expires_at, revoked_at, created_at, ip_address, user_agent
		FROM refresh_tokens
		WHERE token_hash = $1
	`

	token := &RefreshToken{}
	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.JTI,
		&token.ExpiresAt,
		&token.RevokedAt,
		&token.CreatedAt,
		&token.IPAddress,
		&token.UserAgent,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	return token, nil
}

// Revoke marks a refresh token as revoked by ID
func (r *tokenRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	defer observeQuery("refresh_tokens_revoke", time.Now())

	query := `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE id = $2 AND revoked_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrTokenNotFound
	}

	return nil
}

// RevokeByTokenHash marks a refresh token as revoked by its hash
func (r *tokenRepository) RevokeByTokenHash(ctx context.Context, tokenHash string) error {
	defer observeQuery("refresh_tokens_revoke_by_token_hash", time.Now())

	query := `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE token_hash = $2 AND revoked_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, time.Now().UTC(), tokenHash)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrTokenNotFound
	}

	return nil
}

// RevokeAllForUser revokes every live refresh token belonging to a user
func (r *tokenRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	defer observeQuery("refresh_tokens_revoke_all_for_user", time.Now())

	query := `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE user_id = $2 AND revoked_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, time.Now().UTC(), userID)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

// DeleteExpired removes refresh token records past their expiry
func (r *tokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	defer observeQuery("refresh_tokens_delete_expired", time.Now())

	query := `DELETE FROM refresh_tokens WHERE expires_at < $1`

	result, err := r.pool.Exec(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}
