package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/internal/server/auth"
	"github.com/iudanet/gophchat/internal/server/metrics"
	"github.com/iudanet/gophchat/pkg/api"
)

// AuthService регистрация и вход
type AuthService interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (*auth.LoginResult, error)
}

// AuthHandler обрабатывает запросы авторизации
type AuthHandler struct {
	logger  *slog.Logger
	service AuthService
	metrics *metrics.Metrics
}

// NewAuthHandler создает новый handler для авторизации
func NewAuthHandler(logger *slog.Logger, service AuthService, m *metrics.Metrics) *AuthHandler {
	return &AuthHandler{
		logger:  logger,
		service: service,
		metrics: m,
	}
}

// Register обрабатывает POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode register request", slog.Any("error", err))
		h.metrics.Registration(metrics.ResultRejected)
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.service.Register(ctx, req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameTaken):
			h.logger.WarnContext(ctx, "username already taken", slog.String("username", req.Username))
			h.metrics.Registration(metrics.ResultRejected)
			sendError(h.logger, w, api.UsernameTakenMessage, http.StatusBadRequest)
		case errors.Is(err, auth.ErrInvalidInput):
			h.logger.WarnContext(ctx, "invalid registration input", slog.Any("error", err))
			h.metrics.Registration(metrics.ResultRejected)
			sendError(h.logger, w, strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": "), http.StatusBadRequest)
		default:
			h.logger.ErrorContext(ctx, "failed to register user", slog.Any("error", err))
			h.metrics.Registration(metrics.ResultFailure)
			sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.metrics.Registration(metrics.ResultSuccess)
	h.logger.InfoContext(ctx, "user registered successfully",
		slog.String("username", user.Username),
		slog.String("user_id", user.ID))

	sendJSON(h.logger, w, api.MessageResponse{Message: api.RegisterSuccessMessage}, http.StatusOK)
}

// Login обрабатывает POST /api/auth/login.
// Все неудачи дают одинаковый 401 без уточнения причины.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode login request", slog.Any("error", err))
		h.metrics.Login(metrics.ResultRejected)
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.Login(ctx, req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.ErrorContext(ctx, "login failed", slog.Any("error", err))
		}
		h.metrics.Login(metrics.ResultFailure)
		sendError(h.logger, w, auth.ErrInvalidCredentials.Error(), http.StatusUnauthorized)
		return
	}

	h.metrics.Login(metrics.ResultSuccess)
	h.logger.InfoContext(ctx, "user logged in successfully",
		slog.String("username", result.Identity.Subject),
		slog.String("user_id", result.Identity.UserID))

	sendJSON(h.logger, w, api.TokenResponse{
		Token:     result.Token,
		ExpiresIn: result.ExpiresIn,
	}, http.StatusOK)
}
