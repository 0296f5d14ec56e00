package db

import (
	"context"
	"database/sql"

	"clipd/pkg/domain"

	"github.com/pkg/errors"
)

// CreateUser inserts the account row. Username uniqueness is enforced by
// the UNIQUE constraint so two racing registrations cannot both win; the
// loser surfaces as ErrUsernameTaken.
func (s *SQLite) CreateUser(ctx context.Context, u *domain.User) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO users (user_id, username, password_hash, created_at)
	VALUES (?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(queryCtx, q, u.ID, u.Username, u.PasswordHash, u.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return domain.ErrUsernameTaken
	}
	s.recordError(err)
	return errors.Wrap(err, "db create user")
}

func (s *SQLite) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT user_id, username, password_hash, created_at FROM users WHERE user_id = ?`
	var u domain.User
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrUserNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get user")
	}
	return &u, nil
}

func (s *SQLite) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT user_id, username, password_hash, created_at FROM users WHERE username = ?`
	var u domain.User
	err := s.db.QueryRowContext(queryCtx, q, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrUserNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get user by username")
	}
	return &u, nil
}

func (s *SQLite) UserIDExists(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	q := `SELECT 1 FROM users WHERE user_id = ? LIMIT 1`
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "user exists check")
	}
	return exists == 1, nil
}
