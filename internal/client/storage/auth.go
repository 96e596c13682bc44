package storage

import (
	"context"
	"time"
)

// AuthStorage хранит токен текущего пользователя между запусками клиента
type AuthStorage interface {
	// SaveAuth replaces the stored session
	SaveAuth(ctx context.Context, auth *AuthData) error

	// GetAuth returns ErrAuthNotFound if nobody is logged in
	GetAuth(ctx context.Context) (*AuthData, error)

	// DeleteAuth removes stored authentication data (logout)
	DeleteAuth(ctx context.Context) error

	// IsAuthenticated checks if a non-expired token is stored
	IsAuthenticated(ctx context.Context) (bool, error)
}

// AuthData сохраненная сессия клиента
type AuthData struct {
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ServerURL string    `json:"server_url"`
}

// Expired reports whether the token is no longer valid at now.
// Токен недействителен начиная с ExpiresAt включительно.
func (a *AuthData) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}
