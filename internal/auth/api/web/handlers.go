package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/louisbranch/latchkey/internal/auth/storage"
	apperrors "github.com/louisbranch/latchkey/internal/platform/errors"
)

type beginRegistrationRequest struct {
	Email string `json:"email"`
}

type finishRegistrationRequest struct {
	Email    string          `json:"email"`
	Response json.RawMessage `json:"response"`
}

type finishLoginRequest struct {
	Response json.RawMessage `json:"response"`
}

type finishResponse struct {
	OK bool `json:"ok"`
}

type sessionResponse struct {
	Authenticated bool         `json:"authenticated"`
	User          *sessionUser `json:"user,omitempty"`
}

type sessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (s *Server) handleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req beginRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, finishResponse{OK: false})
		return
	}

	sessionID, err := s.ensureSessionID(w, r)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	options, err := s.passkeys.BeginRegistration(r.Context(), sessionID, req.Email)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeRawJSON(w, options)
}

func (s *Server) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req finishRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, finishResponse{OK: false})
		return
	}

	sessionID, err := s.ensureSessionID(w, r)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	if _, err := s.passkeys.FinishRegistration(r.Context(), sessionID, req.Email, req.Response); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, finishResponse{OK: true})
}

func (s *Server) handleLoginBegin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID, err := s.ensureSessionID(w, r)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	options, err := s.passkeys.BeginLogin(r.Context(), sessionID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeRawJSON(w, options)
}

func (s *Server) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req finishLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, finishResponse{OK: false})
		return
	}

	sessionID, err := s.ensureSessionID(w, r)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	if _, err := s.passkeys.FinishLogin(r.Context(), sessionID, req.Response); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, finishResponse{OK: true})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := s.currentSessionID(r)
	if sessionID == "" {
		writeJSON(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}

	current, err := s.sessions.Actor(sessionID).Get(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if current.UserID == "" {
		writeJSON(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}

	owner, err := s.users.GetUser(r.Context(), current.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, sessionResponse{Authenticated: false})
			return
		}
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Authenticated: true,
		User:          &sessionUser{ID: owner.ID, Email: owner.Email},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if sessionID := s.currentSessionID(r); sessionID != "" {
		if err := s.sessions.Actor(sessionID).Revoke(r.Context()); err != nil {
			s.writeFailure(w, err)
			return
		}
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, finishResponse{OK: true})
}

// writeFailure collapses the error taxonomy at the public boundary. Callers
// learn success or failure and nothing else, with two exceptions: a duplicate
// email answers 409 so registration UIs can say why, and invalid input
// answers 400. Which verification step failed is never revealed.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := apperrors.CodeOf(err).HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Printf("auth request failed: %v", err)
	}
	writeJSON(w, status, finishResponse{OK: false})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

func writeRawJSON(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
