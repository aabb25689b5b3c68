package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ErrUnauthorized is the only error a connecting client ever observes.
// The specific cause is logged, never returned.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator admits or rejects a socket handshake credential.
type Authenticator struct {
	JWT    *JWT
	Users  IdentityStore
	Logger *slog.Logger
}

func NewAuthenticator(j *JWT, users IdentityStore, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{JWT: j, Users: users, Logger: logger}
}

// Authenticate verifies the credential, resolves its subject and checks the
// embedded email against the stored identity.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, a.reject(ctx, "missing credential", nil)
	}

	claims, err := a.JWT.Verify(credential)
	if err != nil {
		reason := "malformed credential"
		if errors.Is(err, ErrTokenExpired) {
			reason = "expired credential"
		}
		return Identity{}, a.reject(ctx, reason, err)
	}

	uid, err := claims.UserID()
	if err != nil {
		return Identity{}, a.reject(ctx, "invalid subject", err)
	}

	u, err := a.Users.FindUserByID(ctx, uid)
	if err != nil {
		reason := "identity lookup failed"
		if errors.Is(err, ErrUserNotFound) {
			reason = "unknown identity"
		}
		return Identity{}, a.reject(ctx, reason, err, slog.Uint64("user_id", uid))
	}

	if !strings.EqualFold(strings.TrimSpace(u.Email), strings.TrimSpace(claims.Email)) {
		return Identity{}, a.reject(ctx, "email mismatch", nil, slog.Uint64("user_id", uid))
	}

	return u.Identity(), nil
}

func (a *Authenticator) reject(ctx context.Context, reason string, err error, attrs ...slog.Attr) error {
	attrs = append(attrs, slog.String("reason", reason))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	a.Logger.LogAttrs(ctx, slog.LevelWarn, "socket authentication rejected", attrs...)
	return ErrUnauthorized
}
