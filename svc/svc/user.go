package svc

import (
	"context"
	"time"

	"clipd/metrics"
	"clipd/pkg/domain"
	"clipd/svc/auth"
	"clipd/svc/db"
	"clipd/svc/util"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

const (
	minUsernameLen = 3
	minPasswordLen = 8
)

// User handles registration and credential verification. Password digests
// never leave this layer; lookups return the stored record with the digest
// field stripped by the domain type's JSON tags.
type User struct {
	db     *db.SQLite
	hasher *auth.Hasher
	now    func() time.Time
}

func NewUser(sqlDB *db.SQLite, h *auth.Hasher) *User {
	if sqlDB == nil || h == nil {
		panic("user service: nil dependency (sqlDB or hasher)")
	}
	return &User{db: sqlDB, hasher: h, now: time.Now}
}

func (s *User) Create(ctx context.Context, username, password string) (*domain.User, error) {
	username = norm.NFC.String(username)
	if len(username) < minUsernameLen {
		return nil, domain.ErrUsernameTooShort
	}
	if len(password) < minPasswordLen {
		return nil, domain.ErrPasswordTooShort
	}

	id, err := util.GenID(func(id string) (bool, error) {
		return s.db.UserIDExists(ctx, id)
	})
	if err != nil {
		return nil, errors.Wrap(domain.ErrIDGenerationFailed, err.Error())
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	user := &domain.User{
		ID:           id,
		Username:     username,
		PasswordHash: digest,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUsernameTaken) {
			return nil, domain.ErrUsernameTaken
		}
		return nil, errors.Wrap(err, "create user")
	}
	metrics.UserCreated.Inc()
	user.PasswordHash = ""
	return user, nil
}

// Verify checks a username/password pair and returns the matching user.
// Unknown usernames and wrong passwords are indistinguishable to callers.
func (s *User) Verify(ctx context.Context, username, password string) (*domain.User, error) {
	username = norm.NFC.String(username)
	user, err := s.db.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			// Burn a hash comparison so unknown usernames take as long
			// as wrong passwords.
			s.hasher.Verify(password, "")
			metrics.LoginFailures.Inc()
			return nil, domain.ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "lookup user")
	}
	match, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !match {
		metrics.LoginFailures.Inc()
		util.Warn().Str("username", username).Msg("login failed")
		return nil, domain.ErrInvalidCredentials
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *User) Get(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, domain.ErrInvalidRequest
	}
	user, err := s.db.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "get user")
	}
	user.PasswordHash = ""
	return user, nil
}
