// Package server собирает HTTP и STOMP endpoints чата в один http.Handler.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iudanet/gophchat/internal/server/auth"
	"github.com/iudanet/gophchat/internal/server/broker"
	"github.com/iudanet/gophchat/internal/server/chat"
	"github.com/iudanet/gophchat/internal/server/handlers"
	"github.com/iudanet/gophchat/internal/server/metrics"
	"github.com/iudanet/gophchat/internal/server/middleware"
	"github.com/iudanet/gophchat/internal/server/ws"
	"github.com/iudanet/gophchat/pkg/api"
)

// AuthService регистрация, вход и проверка bearer токенов
type AuthService interface {
	handlers.AuthService
	Authenticate(ctx context.Context, authorization string) (*auth.Identity, error)
}

// Storage то, что нужно HTTP слою от хранилища пользователей
type Storage interface {
	handlers.UserLister
	handlers.Pinger
}

// Options зависимости и настройки сервера
type Options struct {
	Logger     *slog.Logger
	Auth       AuthService
	Storage    Storage
	Broker     *broker.Broker
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Version    string
	Origins    []string
	RateLimits []middleware.PathRateLimit
	WS         ws.Config
}

// Handler HTTP API и STOMP endpoint сервера
type Handler struct {
	http.Handler
	ws *ws.Handler
}

// CloseSessions завершает STOMP сессии: http.Server.Shutdown не трогает hijacked соединения.
// Подходит для http.Server.RegisterOnShutdown.
func (h *Handler) CloseSessions(ctx context.Context) {
	h.ws.Shutdown(ctx)
}

// NewHandler создает роутер со всеми endpoints.
// ctx ограничивает жизнь фоновых задач (очистка rate limiter).
func NewHandler(ctx context.Context, opts Options) *Handler {
	logger := opts.Logger
	if opts.Broker == nil {
		opts.Broker = broker.New()
	}
	opts.WS.AllowedOrigins = opts.Origins

	authHandler := handlers.NewAuthHandler(logger, opts.Auth, opts.Metrics)
	usersHandler := handlers.NewUsersHandler(logger, opts.Storage)
	healthHandler := handlers.NewHealthHandler(logger, opts.Storage, opts.Version)

	router := chat.NewRouter(logger, opts.Broker, opts.Metrics)
	wsHandler := ws.NewHandler(logger, opts.Auth, opts.Broker, router, opts.Metrics, opts.WS)

	publicPaths := middleware.DefaultPublicPaths

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoveryMiddleware(logger))
	r.Use(middleware.CORSMiddleware(opts.Origins))
	r.Use(middleware.MetricsMiddleware(opts.Metrics))
	r.Use(middleware.AuthMiddleware(logger, opts.Auth, publicPaths))
	r.Use(middleware.LoggingWithSkip(logger, []string{api.PathHealth, api.PathMetrics}))
	r.Use(middleware.RequireIdentity(logger, publicPaths))
	r.Use(middleware.RateLimitByPathMiddleware(ctx, logger, opts.RateLimits))

	r.Post(api.PathRegister, authHandler.Register)
	r.Post(api.PathLogin, authHandler.Login)

	r.Get(api.PathUsers, usersHandler.List)
	r.Get(api.PathMe, usersHandler.Me)

	r.Get(api.PathHealth, healthHandler.Health)
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, api.PathMetrics, metrics.Handler(opts.Gatherer))
	}

	r.Method(http.MethodGet, api.PathWS, wsHandler)

	return &Handler{Handler: r, ws: wsHandler}
}

// AuthRateLimits лимиты для endpoints входа и регистрации
func AuthRateLimits(rate int, window time.Duration) []middleware.PathRateLimit {
	return []middleware.PathRateLimit{
		{Path: api.PathLogin, Rate: rate, Window: window},
		{Path: api.PathRegister, Rate: rate, Window: window},
	}
}
