package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iudanet/gophchat/internal/crypto"
	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/internal/server/auth"
	"github.com/iudanet/gophchat/internal/server/jwt"
	"github.com/iudanet/gophchat/internal/server/metrics"
	"github.com/iudanet/gophchat/internal/server/storage"
	"github.com/iudanet/gophchat/pkg/api"
)

func setupTestLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelError,
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// mockUserStorage is a mock implementation of UserStorage for testing
type mockUserStorage struct {
	mu           sync.Mutex
	users        map[string]*models.User // username -> User
	getUserError error
	listError    error
}

func newMockUserStorage() *mockUserStorage {
	return &mockUserStorage{users: make(map[string]*models.User)}
}

func (m *mockUserStorage) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[user.Username]; exists {
		return storage.ErrUserAlreadyExists
	}
	m.users[user.Username] = user
	return nil
}

func (m *mockUserStorage) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getUserError != nil {
		return nil, m.getUserError
	}
	user, ok := m.users[username]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return user, nil
}

func (m *mockUserStorage) ListUsers(_ context.Context) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listError != nil {
		return nil, m.listError
	}
	users := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (m *mockUserStorage) UpdateLastLogin(_ context.Context, _ string, _ time.Time) error {
	return nil
}

type authEnv struct {
	handler  *AuthHandler
	users    *mockUserStorage
	registry *prometheus.Registry
}

func setupAuthEnv(t *testing.T) *authEnv {
	t.Helper()

	logger := setupTestLogger()
	tokens, err := jwt.NewService(jwt.Config{Secret: []byte("test-secret"), TTL: time.Hour})
	require.NoError(t, err)

	users := newMockUserStorage()
	service := auth.NewService(logger, users, crypto.NewBcryptHasher(bcrypt.MinCost), tokens)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	return &authEnv{
		handler:  NewAuthHandler(logger, service, m),
		users:    users,
		registry: reg,
	}
}

func doJSON(t *testing.T, h http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var raw []byte
	switch v := body.(type) {
	case string:
		raw = []byte(v)
	default:
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestAuthHandler_Register_Success(t *testing.T) {
	env := setupAuthEnv(t)

	w := doJSON(t, env.handler.Register, api.PathRegister, api.RegisterRequest{
		Username: "alice",
		Password: "pw1",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp api.MessageResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, api.RegisterSuccessMessage, resp.Message)

	user, err := env.users.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "pw1", user.PasswordHash, "password must be stored hashed")
	assert.Contains(t, env.exposition(t), `gophchat_registrations_total{result="success"} 1`)
}

// exposition возвращает метрики в текстовом формате Prometheus
func (e *authEnv) exposition(t *testing.T) string {
	t.Helper()

	rec := httptest.NewRecorder()
	metrics.Handler(e.registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, api.PathMetrics, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestAuthHandler_Register_UsernameTaken(t *testing.T) {
	env := setupAuthEnv(t)

	req := api.RegisterRequest{Username: "alice", Password: "pw1"}
	w := doJSON(t, env.handler.Register, api.PathRegister, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, env.handler.Register, api.PathRegister, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, api.UsernameTakenMessage, resp.Message)
}

func TestAuthHandler_Register_InvalidInput(t *testing.T) {
	env := setupAuthEnv(t)

	tests := []struct {
		name        string
		body        any
		wantMessage string
	}{
		{name: "invalid json", body: "invalid json", wantMessage: "invalid request body"},
		{name: "empty username", body: api.RegisterRequest{Password: "pw"}, wantMessage: "username cannot be empty"},
		{name: "too short", body: api.RegisterRequest{Username: "ab", Password: "pw"}, wantMessage: "username must be at least 3 characters long"},
		{name: "invalid chars", body: api.RegisterRequest{Username: "user name", Password: "pw"}},
		{name: "empty password", body: api.RegisterRequest{Username: "alice"}, wantMessage: "password cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, env.handler.Register, api.PathRegister, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp api.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, "Bad Request", resp.Error)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, resp.Message)
			}
		})
	}

	assert.Empty(t, env.users.users)
}

func TestAuthHandler_Login(t *testing.T) {
	env := setupAuthEnv(t)

	w := doJSON(t, env.handler.Register, api.PathRegister, api.RegisterRequest{Username: "alice", Password: "pw1"})
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("success", func(t *testing.T) {
		w := doJSON(t, env.handler.Login, api.PathLogin, api.LoginRequest{Username: "alice", Password: "pw1"})
		require.Equal(t, http.StatusOK, w.Code)

		var resp api.TokenResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, int64(3600), resp.ExpiresIn)
	})

	// Неверный пароль и неизвестный пользователь неразличимы
	for _, req := range []api.LoginRequest{
		{Username: "alice", Password: "wrong"},
		{Username: "nobody", Password: "pw1"},
	} {
		t.Run("invalid "+req.Username, func(t *testing.T) {
			w := doJSON(t, env.handler.Login, api.PathLogin, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"error":"Unauthorized","message":"invalid credentials"}`, w.Body.String())
		})
	}

	t.Run("invalid json", func(t *testing.T) {
		w := doJSON(t, env.handler.Login, api.PathLogin, "{")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	exposition := env.exposition(t)
	assert.Contains(t, exposition, `gophchat_logins_total{result="success"} 1`)
	assert.Contains(t, exposition, `gophchat_logins_total{result="failure"} 2`)
}

func TestAuthHandler_Login_StoreFailureIsUniform(t *testing.T) {
	env := setupAuthEnv(t)
	env.users.getUserError = errors.New("database is locked")

	w := doJSON(t, env.handler.Login, api.PathLogin, api.LoginRequest{Username: "alice", Password: "pw1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Unauthorized","message":"invalid credentials"}`, w.Body.String())
}
