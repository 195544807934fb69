package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/louisbranch/latchkey/internal/auth/session"
	"github.com/louisbranch/latchkey/internal/auth/storage"
	"github.com/louisbranch/latchkey/internal/auth/user"
	apperrors "github.com/louisbranch/latchkey/internal/platform/errors"
)

// BeginLogin issues an authentication challenge for the session and returns
// the credential request options as JSON.
//
// The allow list is always empty: login is discoverable, the authenticator
// picks the credential and reports the user handle.
func (s *Service) BeginLogin(ctx context.Context, sessionID string) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "passkey.BeginLogin")
	defer span.End()

	if err := s.ready(); err != nil {
		return nil, err
	}

	assertion, data, err := s.webAuthn.BeginDiscoverableLogin(
		webauthn.WithUserVerification(protocol.VerificationPreferred),
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "begin login", err)
	}
	if data == nil {
		return nil, apperrors.New(apperrors.CodeUnknown, "login session data is required")
	}

	token := challengeToken{Kind: SessionKindLogin, Data: *data}
	if err := s.storeChallenge(ctx, sessionID, token); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "store login challenge", err)
	}

	optionsJSON, err := json.Marshal(assertion)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "encode login options", err)
	}
	return optionsJSON, nil
}

// FinishLogin verifies an assertion response against the pending login
// challenge, enforces the monotonic signature counter, and authenticates the
// session as the credential owner.
//
// An unregistered credential id leaves the session untouched so the caller
// can retry against the same challenge. Every other failure consumes it.
func (s *Service) FinishLogin(ctx context.Context, sessionID string, response []byte) (user.User, error) {
	ctx, span := s.tracer.Start(ctx, "passkey.FinishLogin")
	defer span.End()

	if err := s.ready(); err != nil {
		return user.User{}, err
	}
	if len(response) == 0 {
		return user.User{}, ErrVerificationFailed
	}

	token, err := s.loadChallenge(ctx, sessionID, SessionKindLogin)
	if err != nil {
		return user.User{}, err
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		s.clearChallenge(ctx, sessionID)
		return user.User{}, apperrors.Wrap(apperrors.CodeVerificationFailed, "parse assertion response", err)
	}

	credentialID := encodeCredentialID(parsed.RawID)
	if _, err := s.credentials.GetCredentialByCredentialID(ctx, credentialID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, ErrUnknownCredential
		}
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "look up credential", err)
	}

	validatedUser, validatedCredential, err := s.webAuthn.ValidatePasskeyLogin(s.userHandler(ctx), token.Data, parsed)
	if err != nil {
		s.clearChallenge(ctx, sessionID)
		return user.User{}, apperrors.Wrap(apperrors.CodeVerificationFailed, "verify assertion response", err)
	}

	owner, ok := validatedUser.(*webauthnUser)
	if !ok {
		s.clearChallenge(ctx, sessionID)
		return user.User{}, apperrors.New(apperrors.CodeVerificationFailed, "unexpected webauthn user type")
	}

	if validatedCredential.Authenticator.CloneWarning {
		s.clearChallenge(ctx, sessionID)
		return user.User{}, storage.ErrCounterRegression
	}
	err = s.credentials.UpdateCredentialCounter(ctx, credentialID, validatedCredential.Authenticator.SignCount, s.clock().UTC())
	if err != nil {
		s.clearChallenge(ctx, sessionID)
		if errors.Is(err, storage.ErrCounterRegression) || errors.Is(err, storage.ErrNotFound) {
			return user.User{}, err
		}
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "advance credential counter", err)
	}

	_, err = s.sessions.Actor(sessionID).Save(ctx, sessionAuthenticatedPatch(owner.user.ID))
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "authenticate session", err)
	}
	return owner.user, nil
}

// userHandler resolves the asserted user handle to a stored user and its
// credentials for discoverable login validation.
func (s *Service) userHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		userID := strings.TrimSpace(string(userHandle))
		if userID == "" {
			return nil, apperrors.New(apperrors.CodeVerificationFailed, "user handle is required")
		}
		base, err := s.users.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.loadWebauthnUser(ctx, base)
	}
}

// sessionAuthenticatedPatch binds the session to a user and consumes the
// pending challenge in the same save.
func sessionAuthenticatedPatch(userID string) session.Patch {
	return session.Patch{
		UserID:    session.StringPtr(userID),
		Challenge: session.StringPtr(""),
	}
}
