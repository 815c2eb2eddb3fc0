// Package authpw hashes and checks host and cohost credentials.
package authpw

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"staycal/api/internal/calendar"
)

const MinPasswordLength = 8

// ErrMismatch is returned when a password does not match its hash.
var ErrMismatch = errors.New("invalid credentials")

// Hash validates the password length and returns its bcrypt hash.
func Hash(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", calendar.Validation(fmt.Sprintf("Password must be at least %d characters.", MinPasswordLength))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Check compares a stored hash with a candidate password.
func Check(hash, password string) error {
	if hash == "" || password == "" {
		return ErrMismatch
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrMismatch
	}
	return nil
}
