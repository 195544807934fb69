// Package web exposes the passkey authentication flows as a thin HTTP JSON
// surface. Clients keep a session cookie whose value is a signed session id;
// all per-session state lives behind the session actor.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/louisbranch/latchkey/internal/auth/api/web/sessiontoken"
	"github.com/louisbranch/latchkey/internal/auth/session"
	"github.com/louisbranch/latchkey/internal/auth/storage"
	"github.com/louisbranch/latchkey/internal/auth/user"
	"github.com/louisbranch/latchkey/internal/platform/id"
)

// SessionCookieName is the cookie carrying the signed session id.
const SessionCookieName = "latchkey_session"

// passkeyService is the slice of the passkey service the handlers call.
type passkeyService interface {
	BeginRegistration(ctx context.Context, sessionID, email string) ([]byte, error)
	FinishRegistration(ctx context.Context, sessionID, email string, response []byte) (user.User, error)
	BeginLogin(ctx context.Context, sessionID string) ([]byte, error)
	FinishLogin(ctx context.Context, sessionID string, response []byte) (user.User, error)
}

// Server hosts the passkey authentication endpoints.
type Server struct {
	passkeys      passkeyService
	sessions      *session.Manager
	users         storage.UserStore
	codec         *sessiontoken.Codec
	idGenerator   func() (string, error)
	secureCookies bool
}

// NewServer builds a web server bound to the passkey service and its stores.
func NewServer(passkeys passkeyService, sessions *session.Manager, users storage.UserStore, codec *sessiontoken.Codec, secureCookies bool) *Server {
	return &Server{
		passkeys:      passkeys,
		sessions:      sessions,
		users:         users,
		codec:         codec,
		idGenerator:   id.NewID,
		secureCookies: secureCookies,
	}
}

// RegisterRoutes registers the auth HTTP endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/auth/register/begin", s.handleRegisterBegin)
	mux.HandleFunc("/auth/register/finish", s.handleRegisterFinish)
	mux.HandleFunc("/auth/login/begin", s.handleLoginBegin)
	mux.HandleFunc("/auth/login/finish", s.handleLoginFinish)
	mux.HandleFunc("/auth/session", s.handleSession)
	mux.HandleFunc("/auth/logout", s.handleLogout)
	mux.HandleFunc("/up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// currentSessionID returns the session id from a valid cookie, or "" when the
// cookie is absent or does not verify.
func (s *Server) currentSessionID(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	sessionID, err := s.codec.Verify(cookie.Value)
	if err != nil {
		return ""
	}
	return sessionID
}

// ensureSessionID returns the request's session id, minting a fresh one and
// setting the cookie when the request carries none.
func (s *Server) ensureSessionID(w http.ResponseWriter, r *http.Request) (string, error) {
	if sessionID := s.currentSessionID(r); sessionID != "" {
		return sessionID, nil
	}
	sessionID, err := s.idGenerator()
	if err != nil {
		return "", err
	}
	token, err := s.codec.Sign(sessionID)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, s.sessionCookie(token, 0))
	return sessionID, nil
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	cookie := s.sessionCookie("", -1)
	cookie.Expires = time.Unix(0, 0)
	http.SetCookie(w, cookie)
}

func (s *Server) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}
