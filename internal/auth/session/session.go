// Package session owns durable per-session auth state.
//
// Each session id maps to exactly one Actor. The actor is the unit of
// concurrency control for the auth subsystem: every read and write of one
// session's state is serialized through it, so protocol steps against the
// same session cannot interleave inconsistently. Different sessions share
// nothing.
package session

import (
	"time"
)

// Session is the state held for one session id.
//
// Zero values mean absent: an empty UserID is an unauthenticated session and
// an empty Challenge means no passkey ceremony is pending. Challenge is an
// opaque single-use token; consuming it clears the field in the same save
// that applies the transition it authorizes.
type Session struct {
	UserID    string
	Challenge string
	CreatedAt time.Time
}

// Patch describes a partial session update. Nil fields preserve the stored
// value; a pointer to the empty string clears it.
type Patch struct {
	UserID    *string
	Challenge *string
}

// StringPtr adapts a value for use in a Patch.
func StringPtr(s string) *string {
	return &s
}

// merge applies a patch over an existing session, preserving CreatedAt.
func merge(existing Session, patch Patch) Session {
	next := existing
	if patch.UserID != nil {
		next.UserID = *patch.UserID
	}
	if patch.Challenge != nil {
		next.Challenge = *patch.Challenge
	}
	return next
}
