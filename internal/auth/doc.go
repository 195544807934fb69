// Package auth defines the identity boundary of the service.
//
// It is the single place that owns user lifecycle, passkey credentials, and
// session state so callers can depend on stable user IDs and a boolean
// authentication outcome instead of re-implementing identity rules.
//
// Subpackages:
//   - app: auth server wiring and lifecycle
//   - api/web: HTTP JSON handlers and the session cookie
//   - passkey: WebAuthn challenge issuance and verification
//   - session: per-session durable actors
//   - storage: persistence interfaces and SQLite implementations
//   - user: user domain model and helpers
package auth
