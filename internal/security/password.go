package security

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// MaxBcryptInput is the longest password bcrypt will hash.
const MaxBcryptInput = 72

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
)

// PasswordPolicy holds the configured length bounds, counted in characters.
type PasswordPolicy struct {
	MinLength int
	MaxLength int
}

func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8, MaxLength: MaxBcryptInput}
}

// Normalize clamps the bounds to what bcrypt can accept.
func (p PasswordPolicy) Normalize() PasswordPolicy {
	if p.MinLength <= 0 {
		p.MinLength = 8
	}
	if p.MaxLength <= 0 || p.MaxLength > MaxBcryptInput {
		p.MaxLength = MaxBcryptInput
	}
	if p.MinLength > p.MaxLength {
		p.MinLength = p.MaxLength
	}
	return p
}

func (p PasswordPolicy) Check(plain string) error {
	n := utf8.RuneCountInString(plain)
	if n < p.MinLength {
		return fmt.Errorf("%w: minimum is %d characters", ErrPasswordTooShort, p.MinLength)
	}
	if n > p.MaxLength || len(plain) > MaxBcryptInput {
		return fmt.Errorf("%w: maximum is %d characters", ErrPasswordTooLong, p.MaxLength)
	}
	return nil
}

// HashPassword hashes a plain text password with bcrypt.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)

	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// CheckPassword compares a bcrypt hash with a plaintext password.
func CheckPassword(hash, plain string) error {
	if hash == "" {
		// OAuth-only accounts carry no password
		return bcrypt.ErrMismatchedHashAndPassword
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
