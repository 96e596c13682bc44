package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/samber/lo"

	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/internal/server/auth"
	"github.com/iudanet/gophchat/pkg/api"
)

// UserLister источник списка зарегистрированных пользователей
type UserLister interface {
	ListUsers(ctx context.Context) ([]*models.User, error)
}

// UsersHandler обрабатывает запросы о пользователях
type UsersHandler struct {
	logger *slog.Logger
	users  UserLister
}

// NewUsersHandler создает handler пользователей
func NewUsersHandler(logger *slog.Logger, users UserLister) *UsersHandler {
	return &UsersHandler{
		logger: logger,
		users:  users,
	}
}

// List обрабатывает GET /api/users.
// Возвращает всех пользователей, кроме вызывающего.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := auth.FromContext(ctx)
	if !ok {
		sendError(h.logger, w, "", http.StatusUnauthorized)
		return
	}

	users, err := h.users.ListUsers(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list users", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	others := lo.Filter(users, func(u *models.User, _ int) bool {
		return u.Username != id.Subject
	})
	resp := lo.Map(others, func(u *models.User, _ int) api.UserResponse {
		return api.UserResponse{ID: u.ID, Username: u.Username}
	})

	sendJSON(h.logger, w, resp, http.StatusOK)
}

// Me обрабатывает GET /api/me
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		sendError(h.logger, w, "", http.StatusUnauthorized)
		return
	}

	sendJSON(h.logger, w, api.MeResponse{
		Username:  id.Subject,
		UserID:    id.UserID,
		IssuedAt:  id.IssuedAt,
		ExpiresAt: id.ExpiresAt,
	}, http.StatusOK)
}
