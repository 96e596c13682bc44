package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error {
	return m.err
}

func TestHealthHandler_Health(t *testing.T) {
	tests := []struct {
		name        string
		pingErr     error
		wantCode    int
		wantStatus  string
		wantStorage string
	}{
		{name: "healthy", wantCode: http.StatusOK, wantStatus: "ok", wantStorage: "ok"},
		{
			name:        "storage down",
			pingErr:     errors.New("dial tcp: connection refused"),
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  "degraded",
			wantStorage: "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(setupTestLogger(), &mockPinger{err: tt.pingErr}, "1.2.3")

			w := httptest.NewRecorder()
			handler.Health(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			resp := w.Result()
			defer func() {
				err := resp.Body.Close()
				assert.NoError(t, err)
			}()

			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			var healthResp HealthResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&healthResp))
			assert.Equal(t, tt.wantStatus, healthResp.Status)
			assert.Equal(t, tt.wantStorage, healthResp.Storage)
			assert.Equal(t, "1.2.3", healthResp.Version)
		})
	}
}
