package storage

import (
	"context"
	"time"

	"github.com/louisbranch/latchkey/internal/auth/user"
	"github.com/louisbranch/latchkey/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrEmailTaken indicates a user record already exists for an email.
var ErrEmailTaken = errors.New(errors.CodeDuplicateEmail, "email already registered")

// ErrCounterRegression indicates a conditional counter update observed a
// counter that did not advance past the stored value.
var ErrCounterRegression = errors.New(errors.CodeCounterRegression, "credential counter did not advance")

// UserStore persists auth user records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
}

// Credential stores a passkey public key bound to a user.
//
// Counter is the authenticator signature counter last accepted for this
// credential. It never decreases across successful authentications.
type Credential struct {
	ID           string
	UserID       string
	CredentialID string
	PublicKey    []byte
	Counter      uint32
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastUsedAt   *time.Time
}

// CredentialStore persists passkey credential records.
type CredentialStore interface {
	PutCredential(ctx context.Context, credential Credential) error
	GetCredentialByCredentialID(ctx context.Context, credentialID string) (Credential, error)
	ListCredentialsByUser(ctx context.Context, userID string) ([]Credential, error)
	// UpdateCredentialCounter applies newCounter only when it is strictly
	// greater than the stored counter; otherwise it returns
	// ErrCounterRegression. A zero-to-zero update is a successful no-op.
	UpdateCredentialCounter(ctx context.Context, credentialID string, newCounter uint32, usedAt time.Time) error
}

// RegistrationStore creates a user and its first credential atomically.
type RegistrationStore interface {
	CreateUserWithCredential(ctx context.Context, u user.User, credential Credential) error
}

// SessionRecord is the durable form of one auth session.
type SessionRecord struct {
	ID        string
	UserID    string
	Challenge string
	CreatedAt time.Time
}

// SessionStore persists auth session records.
type SessionStore interface {
	PutSession(ctx context.Context, record SessionRecord) error
	GetSession(ctx context.Context, id string) (SessionRecord, error)
	DeleteSession(ctx context.Context, id string) error
}
