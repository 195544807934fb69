package passkey

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/louisbranch/latchkey/internal/auth/storage"
	"github.com/louisbranch/latchkey/internal/auth/user"
	apperrors "github.com/louisbranch/latchkey/internal/platform/errors"
)

// BeginRegistration issues a registration challenge for the session and
// returns the credential creation options as JSON.
//
// The prospective user id is minted here and rides inside the challenge, so
// the user handle the authenticator stores equals the id the finished
// registration persists.
func (s *Service) BeginRegistration(ctx context.Context, sessionID, email string) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "passkey.BeginRegistration")
	defer span.End()

	if err := s.ready(); err != nil {
		return nil, err
	}

	input, err := user.NormalizeCreateUserInput(user.CreateUserInput{Email: email})
	if err != nil {
		return nil, err
	}

	_, err = s.users.GetUserByEmail(ctx, input.Email)
	if err == nil {
		return nil, storage.ErrEmailTaken
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "look up email", err)
	}

	prospectiveID, err := s.idGenerator()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "generate user id", err)
	}

	prospective := &webauthnUser{user: user.User{ID: prospectiveID, Email: input.Email}}
	creation, data, err := s.webAuthn.BeginRegistration(prospective,
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementRequired,
			UserVerification: protocol.VerificationPreferred,
		}),
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "begin registration", err)
	}
	if data == nil {
		return nil, apperrors.New(apperrors.CodeUnknown, "registration session data is required")
	}

	token := challengeToken{
		Kind:   SessionKindRegistration,
		UserID: prospectiveID,
		Email:  input.Email,
		Data:   *data,
	}
	if err := s.storeChallenge(ctx, sessionID, token); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "store registration challenge", err)
	}

	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "encode registration options", err)
	}
	return optionsJSON, nil
}

// FinishRegistration verifies an attestation response against the pending
// registration challenge. On success the user and its first credential exist
// atomically and the session is authenticated as that user.
//
// The challenge is single use: any verification attempt consumes it.
func (s *Service) FinishRegistration(ctx context.Context, sessionID, email string, response []byte) (user.User, error) {
	ctx, span := s.tracer.Start(ctx, "passkey.FinishRegistration")
	defer span.End()

	if err := s.ready(); err != nil {
		return user.User{}, err
	}
	if len(response) == 0 {
		return user.User{}, ErrVerificationFailed
	}

	token, err := s.loadChallenge(ctx, sessionID, SessionKindRegistration)
	if err != nil {
		return user.User{}, err
	}
	if token.UserID == "" || token.Email == "" {
		s.clearChallenge(ctx, sessionID)
		return user.User{}, ErrChallengeMissing
	}
	if email != "" {
		input, err := user.NormalizeCreateUserInput(user.CreateUserInput{Email: email})
		if err != nil || input.Email != token.Email {
			s.clearChallenge(ctx, sessionID)
			return user.User{}, ErrVerificationFailed
		}
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		s.clearChallenge(ctx, sessionID)
		return user.User{}, apperrors.Wrap(apperrors.CodeVerificationFailed, "parse attestation response", err)
	}

	prospective := &webauthnUser{user: user.User{ID: token.UserID, Email: token.Email}}
	credential, err := s.webAuthn.CreateCredential(prospective, token.Data, parsed)
	if err != nil {
		s.clearChallenge(ctx, sessionID)
		return user.User{}, apperrors.Wrap(apperrors.CodeVerificationFailed, "verify attestation response", err)
	}

	newUser, err := user.CreateUser(user.CreateUserInput{Email: token.Email}, s.clock, func() (string, error) {
		return token.UserID, nil
	})
	if err != nil {
		s.clearChallenge(ctx, sessionID)
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "create user record", err)
	}

	now := newUser.CreatedAt
	recordID, err := s.idGenerator()
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "generate credential id", err)
	}
	record := storage.Credential{
		ID:           recordID,
		UserID:       newUser.ID,
		CredentialID: encodeCredentialID(credential.ID),
		PublicKey:    credential.PublicKey,
		Counter:      credential.Authenticator.SignCount,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.registrations.CreateUserWithCredential(ctx, newUser, record); err != nil {
		s.clearChallenge(ctx, sessionID)
		if errors.Is(err, storage.ErrEmailTaken) {
			return user.User{}, err
		}
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "persist user and credential", err)
	}

	_, err = s.sessions.Actor(sessionID).Save(ctx, sessionAuthenticatedPatch(newUser.ID))
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "authenticate session", err)
	}
	return newUser, nil
}

func (s *Service) ready() error {
	if s.users == nil || s.credentials == nil || s.registrations == nil {
		return apperrors.New(apperrors.CodeUnknown, "stores are not configured")
	}
	if s.sessions == nil {
		return apperrors.New(apperrors.CodeUnknown, "session manager is not configured")
	}
	if s.webAuthnErr != nil || s.webAuthn == nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "webauthn configuration is not available", s.webAuthnErr)
	}
	if s.parser == nil {
		return apperrors.New(apperrors.CodeUnknown, "webauthn parser is not configured")
	}
	return nil
}
