package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/store"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload: enough identity to route and gate a
// request without a database read on every call.
type Claims struct {
	UserID      int64     `json:"user_id"`
	Role        core.Role `json:"role"`
	HouseholdID *int64    `json:"household_id,omitempty"`
	jwt.RegisteredClaims
}

// Mint signs a token carrying the user's id, role and household.
func (a *Authenticator) Mint(user core.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:      user.ID,
		Role:        user.Role,
		HouseholdID: user.HouseholdID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "bilancio",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Verify parses the token and re-loads the account: a token for a
// deleted or deactivated user is no longer valid, whatever its expiry.
func (a *Authenticator) Verify(ctx context.Context, tokenString string) (core.User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return core.User{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return core.User{}, ErrInvalidToken
	}

	user, err := a.users.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return core.User{}, ErrInvalidToken
	}
	if err != nil {
		return core.User{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return core.User{}, ErrInvalidToken
	}
	user.PasswordHash = ""
	return user, nil
}
