// Package auth issues and verifies the bearer tokens the API runs on.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/store"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// UserSource is the slice of the storage layer auth needs: looking up
// accounts at login and re-checking them on every token verification.
type UserSource interface {
	GetUserByEmail(ctx context.Context, email string) (core.User, error)
	GetUserByID(ctx context.Context, id int64) (core.User, error)
}

type Authenticator struct {
	users  UserSource
	secret []byte
	ttl    time.Duration
}

func New(users UserSource, secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Authenticator{users: users, secret: []byte(secret), ttl: ttl}
}

// Login checks the credentials and mints a token. Unknown emails, wrong
// passwords and deactivated accounts all come back as
// ErrInvalidCredentials so callers cannot probe for accounts.
func (a *Authenticator) Login(ctx context.Context, email, password string) (core.User, string, error) {
	user, err := a.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return core.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return core.User{}, "", fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return core.User{}, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return core.User{}, "", ErrInvalidCredentials
	}

	token, err := a.Mint(user)
	if err != nil {
		return core.User{}, "", fmt.Errorf("sign token: %w", err)
	}
	user.PasswordHash = ""
	return user, token, nil
}
