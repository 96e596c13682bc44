package ws

import (
	"context"
	"log/slog"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/iudanet/gophchat/internal/server/auth"
	"github.com/iudanet/gophchat/pkg/api"
)

// Authenticator разрешает identity по значению заголовка Authorization
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (*auth.Identity, error)
}

// Gate проверяет токен из заголовка STOMP фрейма CONNECT.
// Работает один раз на соединение; последующие фреймы не проверяются.
type Gate struct {
	logger        *slog.Logger
	authenticator Authenticator
}

// NewGate создает gate рукопожатия
func NewGate(logger *slog.Logger, authenticator Authenticator) *Gate {
	return &Gate{logger: logger, authenticator: authenticator}
}

// Authenticate возвращает identity для фрейма CONNECT/STOMP или nil.
// Токен берется из заголовков фрейма, а не из HTTP запроса upgrade.
func (g *Gate) Authenticate(ctx context.Context, f *frame.Frame) *auth.Identity {
	if f == nil || (f.Command != frame.CONNECT && f.Command != frame.STOMP) {
		return nil
	}

	header, ok := f.Header.Contains(api.HeaderAuthorization)
	if !ok {
		header, ok = f.Header.Contains(api.HeaderAuthorizationLower)
	}
	if !ok || header == "" {
		return nil
	}

	id, err := g.authenticator.Authenticate(ctx, header)
	if err != nil {
		g.logger.DebugContext(ctx, "stomp connect not authenticated", slog.Any("error", err))
		return nil
	}

	return id
}
