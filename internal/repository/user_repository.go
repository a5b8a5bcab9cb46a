package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("username or email already exists")
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// GetByIdentifier resolves either a username or an email address.
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	// RecordFailedAttempt atomically increments the failed-login counter
	// and sets locked_until when the counter reaches maxAttempts. If a
	// previous lockout has already expired, the counter restarts at one
	// for the new window. It returns the new counter value and the
	// lockout timestamp, if any.
	RecordFailedAttempt(ctx context.Context, id uuid.UUID, maxAttempts int, lockout time.Duration) (int, *time.Time, error)
	// ResetFailedAttempts clears the counter and any lockout timestamp.
	ResetFailedAttempts(ctx context.Context, id uuid.UUID) error
	SetVerified(ctx context.Context, id uuid.UUID, verified bool) error
}

// userRepository implements UserRepository using PostgreSQL
type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `id, username, email, password_hash, full_name, roles,
	is_active, is_verified, failed_login_count, locked_until,
	last_login_at, created_at, updated_at`

// scanUser scans a user row in userColumns order
func scanUser(row pgx.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.FullName,
		&user.Roles,
		&user.IsActive,
		&user.IsVerified,
		&user.FailedLoginCount,
		&user.LockedUntil,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// Create inserts a new user. Username and email are stored lower-cased;
// the unique indexes on LOWER(username)/LOWER(email) make the
// existence-check-then-insert race safe: the second of two concurrent
// registrations fails here with ErrDuplicateUser.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	defer observeQuery("users_create", time.Now())

	query := `
		INSERT INTO users (username, email, password_hash, full_name, roles, is_active, is_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		strings.ToLower(strings.TrimSpace(user.Username)),
		strings.ToLower(strings.TrimSpace(user.Email)),
		user.PasswordHash,
		user.FullName,
		user.Roles,
		user.IsActive,
		user.IsVerified,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		if strings.Contains(err.Error(), "idx_users_username") ||
			strings.Contains(err.Error(), "idx_users_email") {
			return ErrDuplicateUser
		}
		return err
	}

	return nil
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	defer observeQuery("users_get_by_id", time.Now())

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetByUsername retrieves a user by username (case-insensitive)
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	defer observeQuery("users_get_by_username", time.Now())

	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(username) = LOWER($1)`
	return scanUser(r.pool.QueryRow(ctx, query, strings.TrimSpace(username)))
}

// GetByEmail retrieves a user by email address (case-insensitive)
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	defer observeQuery("users_get_by_email", time.Now())

	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUser(r.pool.QueryRow(ctx, query, strings.TrimSpace(email)))
}

// GetByIdentifier resolves a login identifier that may be a username or
// an email address
func (r *userRepository) GetByIdentifier(ctx context.Context, identifier string) (*User, error) {
	defer observeQuery("users_get_by_identifier", time.Now())

	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1)
	`
	return scanUser(r.pool.QueryRow(ctx, query, strings.TrimSpace(identifier)))
}

// ExistsByUsernameOrEmail checks whether a username or email is taken
// (case-insensitive)
func (r *userRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	defer observeQuery("users_exists_by_username_or_email", time.Now())

	query := `
		SELECT EXISTS(
			SELECT 1 FROM users
			WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($2)
		)
	`

	var exists bool
	err := r.pool.QueryRow(ctx, query, strings.TrimSpace(username), strings.TrimSpace(email)).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

// UpdateLastLogin updates the last_login_at timestamp for a user
func (r *userRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID) error {
	defer observeQuery("users_update_last_login", time.Now())

	query := `
		UPDATE users
		SET last_login_at = $1, updated_at = $1
		WHERE id = $2
	`

	result, err := r.pool.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// UpdatePassword replaces the stored credential hash
func (r *userRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	defer observeQuery("users_update_password", time.Now())

	query := `
		UPDATE users
		SET password_hash = $1, updated_at = $2
		WHERE id = $3
	`

	result, err := r.pool.Exec(ctx, query, passwordHash, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// RecordFailedAttempt increments the failed-login counter and applies a
// lockout once the counter reaches maxAttempts. An expired lockout
// starts a fresh window: the counter restarts at one instead of
// compounding past the threshold. A single statement keeps concurrent
// failed logins from under-counting.
func (r *userRepository) RecordFailedAttempt(ctx context.Context, id uuid.UUID, maxAttempts int, lockout time.Duration) (int, *time.Time, error) {
	defer observeQuery("users_record_failed_attempt", time.Now())

	query := `
		UPDATE users
		SET failed_login_count = CASE
		        WHEN locked_until IS NOT NULL AND locked_until <= $4 THEN 1
		        ELSE failed_login_count + 1
		    END,
		    locked_until = CASE
		        WHEN (CASE
		            WHEN locked_until IS NOT NULL AND locked_until <= $4 THEN 1
		            ELSE failed_login_count + 1
		        END) >= $2 THEN $3::timestamptz
		        WHEN locked_until IS NOT NULL AND locked_until <= $4 THEN NULL
		        ELSE locked_until
		    END,
		    updated_at = $4
		WHERE id = $1
		RETURNING failed_login_count, locked_until
	`

	now := time.Now().UTC()
	lockedUntil := now.Add(lockout)

	var count int
	var lockedAt *time.Time
	err := r.pool.QueryRow(ctx, query, id, maxAttempts, lockedUntil, now).Scan(&count, &lockedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, ErrUserNotFound
		}
		return 0, nil, err
	}

	return count, lockedAt, nil
}

// ResetFailedAttempts clears the failed-login counter and lockout
func (r *userRepository) ResetFailedAttempts(ctx context.Context, id uuid.UUID) error {
	defer observeQuery("users_reset_failed_attempts", time.Now())

	query := `
		UPDATE users
		SET failed_login_count = 0, locked_until = NULL, updated_at = $1
		WHERE id = $2
	`

	result, err := r.pool.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// SetVerified flips the email-verified flag
func (r *userRepository) SetVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	defer observeQuery("users_set_verified", time.Now())

	query := `
		UPDATE users
		SET is_verified = $1, updated_at = $2
		WHERE id = $3
	`

	result, err := r.pool.Exec(ctx, query, verified, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}
