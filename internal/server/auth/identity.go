package auth

import (
	"context"
	"time"
)

// Identity аутентифицированный субъект запроса или соединения.
// Восстанавливается из проверенного токена, не хранится на сервере.
type Identity struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
	Subject   string // username
	UserID    string
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity кладет identity в контекст запроса
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext извлекает identity из контекста.
// Возвращает nil, false для неаутентифицированного запроса.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	if !ok || id == nil {
		return nil, false
	}
	return id, true
}
