package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/internal/server/auth"
	"github.com/iudanet/gophchat/pkg/api"
)

func seedUsers(t *testing.T, names ...string) *mockUserStorage {
	t.Helper()

	users := newMockUserStorage()
	for _, name := range names {
		require.NoError(t, users.CreateUser(context.Background(), &models.User{ID: "id-" + name, Username: name}))
	}
	return users
}

func TestUsersHandler_List(t *testing.T) {
	users := seedUsers(t, "alice", "bob", "carol")
	handler := NewUsersHandler(setupTestLogger(), users)

	req := httptest.NewRequest(http.MethodGet, api.PathUsers, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{Subject: "bob", UserID: "id-bob"}))
	w := httptest.NewRecorder()

	handler.List(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp []api.UserResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []api.UserResponse{
		{ID: "id-alice", Username: "alice"},
		{ID: "id-carol", Username: "carol"},
	}, resp)
}

func TestUsersHandler_List_OnlyCaller(t *testing.T) {
	handler := NewUsersHandler(setupTestLogger(), seedUsers(t, "alice"))

	req := httptest.NewRequest(http.MethodGet, api.PathUsers, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{Subject: "alice"}))
	w := httptest.NewRecorder()

	handler.List(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestUsersHandler_List_Errors(t *testing.T) {
	t.Run("no identity", func(t *testing.T) {
		handler := NewUsersHandler(setupTestLogger(), seedUsers(t, "alice"))

		w := httptest.NewRecorder()
		handler.List(w, httptest.NewRequest(http.MethodGet, api.PathUsers, nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		users := seedUsers(t)
		users.listError = errors.New("connection refused")
		handler := NewUsersHandler(setupTestLogger(), users)

		req := httptest.NewRequest(http.MethodGet, api.PathUsers, nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{Subject: "alice"}))
		w := httptest.NewRecorder()
		handler.List(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestUsersHandler_Me(t *testing.T) {
	handler := NewUsersHandler(setupTestLogger(), seedUsers(t))

	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	id := &auth.Identity{
		Subject:   "alice",
		UserID:    "id-alice",
		IssuedAt:  issued,
		ExpiresAt: issued.Add(10 * time.Hour),
	}

	req := httptest.NewRequest(http.MethodGet, api.PathMe, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), id))
	w := httptest.NewRecorder()

	handler.Me(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp api.MeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "id-alice", resp.UserID)
	assert.True(t, resp.IssuedAt.Equal(issued))
	assert.True(t, resp.ExpiresAt.Equal(issued.Add(10*time.Hour)))

	w = httptest.NewRecorder()
	handler.Me(w, httptest.NewRequest(http.MethodGet, api.PathMe, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
