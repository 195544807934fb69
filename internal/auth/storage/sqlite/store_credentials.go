package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/latchkey/internal/auth/storage"
)

type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCredential(ctx context.Context, target execContexter, credential storage.Credential) error {
	if strings.TrimSpace(credential.ID) == "" {
		return fmt.Errorf("credential record id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if len(credential.PublicKey) == 0 {
		return fmt.Errorf("public key is required")
	}

	lastUsed := sql.NullInt64{}
	if credential.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toMillis(*credential.LastUsedAt), Valid: true}
	}

	_, err := target.ExecContext(ctx, `
INSERT INTO credentials (
	id,
	user_id,
	credential_id,
	public_key,
	counter,
	created_at,
	updated_at,
	last_used_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		credential.ID,
		credential.UserID,
		credential.CredentialID,
		credential.PublicKey,
		int64(credential.Counter),
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
		lastUsed,
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// PutCredential stores a passkey credential.
func (s *Store) PutCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return insertCredential(ctx, s.sqlDB, credential)
}

// GetCredentialByCredentialID fetches a credential by the authenticator-supplied id.
func (s *Store) GetCredentialByCredentialID(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Credential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.Credential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, user_id, credential_id, public_key, counter, created_at, updated_at, last_used_at
FROM credentials
WHERE credential_id = ?
`, credentialID)
	return scanCredential(row.Scan)
}

// ListCredentialsByUser returns credentials registered for a user.
func (s *Store) ListCredentialsByUser(ctx context.Context, userID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, user_id, credential_id, public_key, counter, created_at, updated_at, last_used_at
FROM credentials
WHERE user_id = ?
ORDER BY created_at, id
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []storage.Credential
	for rows.Next() {
		credential, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// UpdateCredentialCounter applies newCounter with a compare-and-set.
//
// The WHERE clause only matches when the stored counter is strictly lower, so
// two concurrent authentications for the same credential cannot both commit
// counters out of order. A stored-zero/new-zero pair is accepted without a
// write for authenticators that never report a counter.
func (s *Store) UpdateCredentialCounter(ctx context.Context, credentialID string, newCounter uint32, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE credentials
SET counter = ?, updated_at = ?, last_used_at = ?
WHERE credential_id = ? AND counter < ?
`, int64(newCounter), toMillis(usedAt), toMillis(usedAt), credentialID, int64(newCounter))
	if err != nil {
		return fmt.Errorf("update credential counter: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential counter: %w", err)
	}
	if affected > 0 {
		return nil
	}

	stored, err := s.GetCredentialByCredentialID(ctx, credentialID)
	if err != nil {
		return err
	}
	if stored.Counter == 0 && newCounter == 0 {
		return nil
	}
	return storage.ErrCounterRegression
}

func scanCredential(scan func(dest ...any) error) (storage.Credential, error) {
	var credential storage.Credential
	var counter int64
	var createdAt int64
	var updatedAt int64
	var lastUsed sql.NullInt64
	if err := scan(
		&credential.ID,
		&credential.UserID,
		&credential.CredentialID,
		&credential.PublicKey,
		&counter,
		&createdAt,
		&updatedAt,
		&lastUsed,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, fmt.Errorf("scan credential: %w", err)
	}
	credential.Counter = uint32(counter)
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	if lastUsed.Valid {
		value := fromMillis(lastUsed.Int64)
		credential.LastUsedAt = &value
	}
	return credential, nil
}
