package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/gophchat/internal/server/auth"
	"github.com/iudanet/gophchat/pkg/api"
)

// DefaultPublicPaths пути, доступные без токена: эндпоинты аутентификации,
// диагностика и STOMP endpoint (он проверяет токен в CONNECT)
var DefaultPublicPaths = []string{
	"/api/auth/",
	"/h2-console",
	api.PathWS,
	api.PathHealth,
	api.PathMetrics,
}

// Authenticator разрешает identity по значению заголовка Authorization
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (*auth.Identity, error)
}

// IsPublicPath проверяет, попадает ли путь под один из публичных префиксов.
// Префикс совпадает целиком или по границе сегмента: /ws, но не /wsx.
func IsPublicPath(path string, publicPaths []string) bool {
	for _, p := range publicPaths {
		base := strings.TrimSuffix(p, "/")
		if path == base || strings.HasPrefix(path, base+"/") {
			return true
		}
	}
	return false
}

func bypass(r *http.Request, publicPaths []string) bool {
	return r.Method == http.MethodOptions || IsPublicPath(r.URL.Path, publicPaths)
}

// AuthMiddleware устанавливает identity запроса по bearer токену.
// Никогда не отклоняет запрос: без токена или с недействительным токеном
// запрос идет дальше без identity, решение принимает RequireIdentity.
func AuthMiddleware(logger *slog.Logger, authenticator Authenticator, publicPaths []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass(r, publicPaths) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			id, err := authenticator.Authenticate(ctx, header)
			if err != nil {
				// Причину клиенту не раскрываем
				logger.DebugContext(ctx, "request not authenticated",
					slog.String("path", r.URL.Path),
					slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			logger.DebugContext(ctx, "request authenticated", slog.String("username", id.Subject))
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(ctx, id)))
		})
	}
}

// RequireIdentity отклоняет с 401 непубличные запросы без identity
func RequireIdentity(logger *slog.Logger, publicPaths []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass(r, publicPaths) {
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := auth.FromContext(r.Context()); !ok {
				logger.WarnContext(r.Context(), "unauthorized request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, api.ErrorResponse{Error: "Unauthorized"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
