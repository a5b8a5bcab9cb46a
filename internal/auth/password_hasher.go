package auth

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the minimum required password length
	MinPasswordLength = 8
	// DefaultBcryptCost is the default cost factor for bcrypt hashing
	DefaultBcryptCost = 12
)

// PasswordValidationError represents a specific password validation failure
type PasswordValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// PasswordHasher handles password complexity validation, hashing, and
// verification. Hashing uses bcrypt, so every call salts independently
// and two hashes of the same password differ.
type PasswordHasher struct {
	cost      int
	dummyHash string
}

// NewPasswordHasher creates a new PasswordHasher with the given bcrypt
// cost. Costs outside bcrypt's supported range fall back to the default.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}

	h := &PasswordHasher{cost: cost}

	// Precomputed hash of a throwaway value, used to equalize timing
	// when the login identifier does not resolve to a user.
	dummy, err := bcrypt.GenerateFromPassword([]byte("timing-equalization"), cost)
	if err == nil {
		h.dummyHash = string(dummy)
	}

	return h
}

// ValidatePassword checks if a password meets all complexity requirements.
// Returns a list of validation errors (empty if password is valid).
func (h *PasswordHasher) ValidatePassword(password string) []PasswordValidationError {
	var errors []PasswordValidationError

	if len(password) < MinPasswordLength {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password must be at least 8 characters long",
		})
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	if !hasUpper {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one uppercase letter",
		})
	}

	if !hasLower {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one lowercase letter",
		})
	}

	if !hasNumber {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one number",
		})
	}

	if !hasSpecial {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one special character",
		})
	}

	return errors
}

// IsValidPassword returns true if the password meets all requirements
func (h *PasswordHasher) IsValidPassword(password string) bool {
	return len(h.ValidatePassword(password)) == 0
}

// Hash creates a bcrypt hash of the password
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares a password with its bcrypt hash. A malformed stored
// hash is treated as a mismatch, not a fatal error.
func (h *PasswordHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// VerifyDummy burns a bcrypt comparison against a precomputed hash so
// that lookups for unknown identifiers take about as long as real ones.
func (h *PasswordHasher) VerifyDummy(password string) {
	if h.dummyHash == "" {
		return
	}
	_ = bcrypt.CompareHashAndPassword([]byte(h.dummyHash), []byte(password))
}

// Cost extracts the cost factor from a bcrypt hash
func Cost(hash string) (int, error) {
	return bcrypt.Cost([]byte(hash))
}
