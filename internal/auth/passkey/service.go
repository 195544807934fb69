package passkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/latchkey/internal/auth/session"
	"github.com/louisbranch/latchkey/internal/auth/storage"
	"github.com/louisbranch/latchkey/internal/auth/user"
	apperrors "github.com/louisbranch/latchkey/internal/platform/errors"
	"github.com/louisbranch/latchkey/internal/platform/id"
)

var (
	// ErrChallengeMissing indicates the session has no pending challenge of
	// the expected kind, or the pending challenge expired.
	ErrChallengeMissing = apperrors.New(apperrors.CodeChallengeMissing, "no pending challenge for session")
	// ErrVerificationFailed indicates the authenticator response did not
	// verify against the pending challenge.
	ErrVerificationFailed = apperrors.New(apperrors.CodeVerificationFailed, "credential verification failed")
	// ErrUnknownCredential indicates the asserted credential id is not
	// registered.
	ErrUnknownCredential = apperrors.New(apperrors.CodeUnknownCredential, "credential is not registered")
)

// Service issues WebAuthn challenges and verifies authenticator responses.
//
// It is the canonical entrypoint for passkey registration and login; transport
// handlers call it and collapse its error taxonomy at the public boundary.
type Service struct {
	users         storage.UserStore
	credentials   storage.CredentialStore
	registrations storage.RegistrationStore
	sessions      *session.Manager
	config        Config
	webAuthn      passkeyProvider
	webAuthnErr   error
	parser        passkeyParser
	clock         func() time.Time
	idGenerator   func() (string, error)
	tracer        trace.Tracer
}

// NewService builds a passkey service with defaults for the auth package.
func NewService(users storage.UserStore, credentials storage.CredentialStore, registrations storage.RegistrationStore, sessions *session.Manager, config Config) *Service {
	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: config.RPDisplayName,
		RPID:          config.RPID,
		RPOrigins:     config.RPOrigins,
		Timeouts: webauthn.TimeoutsConfig{
			Login:        webauthn.TimeoutConfig{Enforce: true, Timeout: config.ChallengeTTL},
			Registration: webauthn.TimeoutConfig{Enforce: true, Timeout: config.ChallengeTTL},
		},
	})
	return &Service{
		users:         users,
		credentials:   credentials,
		registrations: registrations,
		sessions:      sessions,
		config:        config,
		webAuthn:      webAuthn,
		webAuthnErr:   err,
		parser:        defaultPasskeyParser{},
		clock:         time.Now,
		idGenerator:   id.NewID,
		tracer:        otel.Tracer("latchkey/auth/passkey"),
	}
}

type passkeyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type passkeyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultPasskeyParser struct{}

func (defaultPasskeyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultPasskeyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// webauthnUser adapts a user record and its stored credentials to the
// webauthn.User contract. The user id doubles as the authenticator user
// handle, which is how discoverable login resolves identities.
type webauthnUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *webauthnUser) WebAuthnName() string {
	return u.user.Email
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	return u.user.Email
}

func (u *webauthnUser) WebAuthnIcon() string {
	return ""
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// challengeToken is the serialized single-use challenge stored on the session
// actor. It carries the prospective identity alongside the WebAuthn session
// material so finish calls can complete without extra state.
type challengeToken struct {
	Kind   SessionKind          `json:"kind"`
	UserID string               `json:"user_id,omitempty"`
	Email  string               `json:"email,omitempty"`
	Data   webauthn.SessionData `json:"data"`
}

func (s *Service) storeChallenge(ctx context.Context, sessionID string, token challengeToken) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return err
	}
	_, err = s.sessions.Actor(sessionID).Save(ctx, session.Patch{
		Challenge: session.StringPtr(string(payload)),
	})
	return err
}

// loadChallenge returns the pending challenge of the expected kind. Expired
// challenges are cleared and reported as missing.
func (s *Service) loadChallenge(ctx context.Context, sessionID string, expectedKind SessionKind) (challengeToken, error) {
	current, err := s.sessions.Actor(sessionID).Get(ctx)
	if err != nil {
		return challengeToken{}, err
	}
	if current.Challenge == "" {
		return challengeToken{}, ErrChallengeMissing
	}
	var token challengeToken
	if err := json.Unmarshal([]byte(current.Challenge), &token); err != nil {
		s.clearChallenge(ctx, sessionID)
		return challengeToken{}, apperrors.Wrap(apperrors.CodeChallengeMissing, "decode pending challenge", err)
	}
	if token.Kind != expectedKind {
		return challengeToken{}, ErrChallengeMissing
	}
	if !token.Data.Expires.IsZero() && !s.clock().UTC().Before(token.Data.Expires) {
		s.clearChallenge(ctx, sessionID)
		return challengeToken{}, ErrChallengeMissing
	}
	return token, nil
}

// clearChallenge consumes the pending challenge. Best effort on failure
// paths; the challenge expiry bounds any leftover state.
func (s *Service) clearChallenge(ctx context.Context, sessionID string) {
	_, _ = s.sessions.Actor(sessionID).Save(ctx, session.Patch{
		Challenge: session.StringPtr(""),
	})
}

func (s *Service) loadWebauthnUser(ctx context.Context, base user.User) (*webauthnUser, error) {
	records, err := s.credentials.ListCredentialsByUser(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	parsed, err := decodeStoredCredentials(records)
	if err != nil {
		return nil, err
	}
	return &webauthnUser{user: base, credentials: parsed}, nil
}

func decodeStoredCredentials(records []storage.Credential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		rawID, err := decodeCredentialID(record.CredentialID)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, webauthn.Credential{
			ID:        rawID,
			PublicKey: record.PublicKey,
			Authenticator: webauthn.Authenticator{
				SignCount: record.Counter,
			},
		})
	}
	return credentials, nil
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCredentialID(encoded string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(encoded)
}
