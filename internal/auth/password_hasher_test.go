package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"pgregory.net/rapid"
)

// newTestHasher uses the minimum bcrypt cost to keep tests fast
func newTestHasher() *PasswordHasher {
	return NewPasswordHasher(bcrypt.MinCost)
}

func TestValidatePassword(t *testing.T) {
	hasher := newTestHasher()

	tests := []struct {
		name     string
		password string
		wantOK   bool
	}{
		{"valid password", "Correct123!", true},
		{"too short", "Ab1!", false},
		{"missing uppercase", "password123!", false},
		{"missing lowercase", "PASSWORD123!", false},
		{"missing digit", "Password!!!!", false},
		{"missing special", "Password1234", false},
		{"empty", "", false},
		{"exactly eight chars valid", "Abcdef1!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := hasher.ValidatePassword(tt.password)
			if got := len(errs) == 0; got != tt.wantOK {
				t.Errorf("ValidatePassword(%q) ok = %v, want %v (errors: %v)", tt.password, got, tt.wantOK, errs)
			}
			if got := hasher.IsValidPassword(tt.password); got != tt.wantOK {
				t.Errorf("IsValidPassword(%q) = %v, want %v", tt.password, got, tt.wantOK)
			}
		})
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher := newTestHasher()

	hash, err := hasher.Hash("Correct123!")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("expected bcrypt hash, got %q", hash)
	}

	if !hasher.Verify("Correct123!", hash) {
		t.Error("Verify failed for correct password")
	}

	if hasher.Verify("Wrong123!", hash) {
		t.Error("Verify succeeded for wrong password")
	}
}

func TestHashProducesUniqueSalts(t *testing.T) {
	hasher := newTestHasher()

	hash1, err := hasher.Hash("Correct123!")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	hash2, err := hasher.Hash("Correct123!")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	if hash1 == hash2 {
		t.Error("two hashes of the same password are identical; salt is not random")
	}

	if !hasher.Verify("Correct123!", hash1) || !hasher.Verify("Correct123!", hash2) {
		t.Error("both hashes should verify against the original password")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher := newTestHasher()

	for _, hash := range []string{"", "not-a-hash", "$2a$garbage"} {
		if hasher.Verify("Correct123!", hash) {
			t.Errorf("Verify succeeded against malformed hash %q", hash)
		}
	}
}

func TestHashVerifyRoundTrip(t *testing.T) {
	hasher := newTestHasher()

	rapid.Check(t, func(t *rapid.T) {
		password := rapid.StringMatching(`[A-Z][a-z]{3,10}[0-9]{1,4}[!@#$%^&*]`).Draw(t, "password")

		hash, err := hasher.Hash(password)
		if err != nil {
			t.Fatalf("Hash(%q) failed: %v", password, err)
		}

		if !hasher.Verify(password, hash) {
			t.Fatalf("Verify rejected the password that was just hashed")
		}

		other := rapid.StringMatching(`[A-Z][a-z]{3,10}[0-9]{1,4}[!@#$%^&*]`).Draw(t, "other")
		if other != password && hasher.Verify(other, hash) {
			t.Fatalf("Verify accepted %q against the hash of %q", other, password)
		}
	})
}

func TestNewPasswordHasherCostFallback(t *testing.T) {
	low := NewPasswordHasher(-1)
	hash, err := low.Hash("Correct123!")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if cost, err := Cost(hash); err != nil || cost != DefaultBcryptCost {
		t.Errorf("cost = %d, err = %v; want default cost %d", cost, err, DefaultBcryptCost)
	}
}
