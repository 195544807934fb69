// Package user provides auth user management.
package user

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/louisbranch/latchkey/internal/platform/errors"
	"github.com/louisbranch/latchkey/internal/platform/id"
)

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeUserEmptyEmail, "email is required")
	// ErrInvalidEmail indicates an email address that does not match the required format.
	ErrInvalidEmail = apperrors.New(apperrors.CodeUserInvalidEmail, "email must be a valid address")

	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// User represents an authenticated identity record.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	Email string
}

// ValidateEmail enforces the canonical email shape used as the unique
// identity claim across registration and login.
func ValidateEmail(s string) error {
	if !emailPattern.MatchString(s) {
		return ErrInvalidEmail
	}
	return nil
}

// CreateUser creates a durable user identity from validated input.
//
// Registration treats this as the canonical point where an untrusted identity
// claim becomes a stable user record bound to a credential.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateUserInput(input)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	return User{
		ID:        userID,
		Email:     normalized.Email,
		CreatedAt: now().UTC(),
	}, nil
}

// NormalizeCreateUserInput trims and normalizes input before validation.
func NormalizeCreateUserInput(input CreateUserInput) (CreateUserInput, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if input.Email == "" {
		return CreateUserInput{}, ErrEmptyEmail
	}
	if err := ValidateEmail(input.Email); err != nil {
		return CreateUserInput{}, err
	}
	return input, nil
}
