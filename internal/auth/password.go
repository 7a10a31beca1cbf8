package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/welldanyogia/home-iot/internal/security"
)

// BcryptCost is the cost factor for bcrypt hashing
const BcryptCost = 12

// ErrNoAdminPassword is returned when a verifier is built without any secret
var ErrNoAdminPassword = errors.New("no admin password configured")

// PasswordVerifier checks a submitted admin password against the configured
// secret. A bcrypt hash takes precedence over a plain password.
type PasswordVerifier struct {
	plain string
	hash  []byte
}

// NewPasswordVerifier creates a verifier from a plain password and/or a
// bcrypt hash
func NewPasswordVerifier(plain, hash string) (*PasswordVerifier, error) {
	if plain == "" && hash == "" {
		return nil, ErrNoAdminPassword
	}
	if hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, err
		}
	}
	return &PasswordVerifier{plain: plain, hash: []byte(hash)}, nil
}

// Verify reports whether password matches the configured admin password
func (v *PasswordVerifier) Verify(password string) bool {
	if password == "" {
		return false
	}
	if len(v.hash) > 0 {
		return bcrypt.CompareHashAndPassword(v.hash, []byte(password)) == nil
	}
	return security.SecureCompare(password, v.plain)
}

// HashPassword creates a bcrypt hash of the password suitable for
// WATER_SYSTEM_ADMIN_PASSWORD_HASH
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
