package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/latchkey/internal/auth/storage"
	"github.com/louisbranch/latchkey/internal/auth/user"
)

// isUniqueConstraintError detects SQLite unique constraint violations.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// PutUser persists a user record. A conflicting email maps to ErrEmailTaken.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("user email is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)
`, u.ID, u.Email, toMillis(u.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrEmailTaken
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser fetches a user record by id.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, created_at FROM users WHERE id = ?
`, userID)
	return scanUser(row)
}

// GetUserByEmail fetches a user record by its unique email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(email) == "" {
		return user.User{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, created_at FROM users WHERE email = ?
`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (user.User, error) {
	var u user.User
	var createdAt int64
	if err := row.Scan(&u.ID, &u.Email, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

// CreateUserWithCredential inserts a user and its first credential in one
// transaction. Either both records exist afterwards or neither does.
func (s *Store) CreateUserWithCredential(ctx context.Context, u user.User, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if credential.UserID != u.ID {
		return fmt.Errorf("credential user id %q does not match user %q", credential.UserID, u.ID)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin registration transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)
`, u.ID, u.Email, toMillis(u.CreatedAt))
	if err != nil {
		_ = tx.Rollback()
		if isUniqueConstraintError(err) {
			return storage.ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}

	if err := insertCredential(ctx, tx, credential); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit registration transaction: %w", err)
	}
	return nil
}
