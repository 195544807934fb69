// Package sessiontoken signs and verifies the session id carried by the
// auth cookie. The token binds the cookie to this deployment's key; session
// expiry itself is enforced by the session actor, not the token.
package sessiontoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid indicates a token that did not verify. Callers treat it as an
// absent session and mint a fresh one.
var ErrInvalid = errors.New("session token is invalid")

// Config defines how session tokens are signed.
type Config struct {
	Key string `env:"LATCHKEY_SESSION_TOKEN_KEY"`
}

// LoadConfigFromEnv reads session token configuration. The signing key is
// required; there is no safe default.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse session token env: %w", err)
	}
	if strings.TrimSpace(cfg.Key) == "" {
		return Config{}, fmt.Errorf("LATCHKEY_SESSION_TOKEN_KEY is required")
	}
	return cfg, nil
}

// Codec signs session ids into HS256 tokens and verifies them back.
type Codec struct {
	key []byte
	now func() time.Time
}

// NewCodec builds a codec for the given signing key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) == 0 {
		return nil, errors.New("signing key is required")
	}
	return &Codec{key: key, now: time.Now}, nil
}

// Sign returns a signed token carrying the session id.
func (c *Codec) Sign(sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", errors.New("session id is required")
	}
	claims := jwt.RegisteredClaims{
		Subject:  sessionID,
		IssuedAt: jwt.NewNumericDate(c.now().UTC()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// Verify extracts the session id from a signed token.
func (c *Codec) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalid
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(_ *jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return "", ErrInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalid
	}
	return claims.Subject, nil
}
