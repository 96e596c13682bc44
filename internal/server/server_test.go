package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iudanet/gophchat/internal/crypto"
	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/internal/server/auth"
	"github.com/iudanet/gophchat/internal/server/jwt"
	"github.com/iudanet/gophchat/internal/server/metrics"
	"github.com/iudanet/gophchat/internal/server/storage/sqlite"
	"github.com/iudanet/gophchat/internal/server/ws"
	"github.com/iudanet/gophchat/pkg/api"
)

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(newTestHandler(t))
	t.Cleanup(srv.Close)
	return srv
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tokens, err := jwt.NewService(jwt.Config{Secret: []byte("integration-secret"), TTL: time.Hour})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	return NewHandler(ctx, Options{
		Logger:     logger,
		Auth:       auth.NewService(logger, store, crypto.NewBcryptHasher(bcrypt.MinCost), tokens),
		Storage:    store,
		Metrics:    m,
		Gatherer:   reg,
		Version:    "test",
		RateLimits: AuthRateLimits(100, time.Minute),
		WS:         ws.Config{AllowAnonymous: true},
	})
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any) (*http.Response, []byte) {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func get(t *testing.T, srv *httptest.Server, path, token string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func registerAndLogin(t *testing.T, srv *httptest.Server, username string) string {
	t.Helper()

	resp, _ := postJSON(t, srv, api.PathRegister, api.RegisterRequest{Username: username, Password: "pw-" + username})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := postJSON(t, srv, api.PathLogin, api.LoginRequest{Username: username, Password: "pw-" + username})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var token api.TokenResponse
	require.NoError(t, json.Unmarshal(body, &token))
	return token.Token
}

func TestServer_RegisterLoginFlow(t *testing.T) {
	srv := setupTestServer(t)

	resp, body := postJSON(t, srv, api.PathRegister, api.RegisterRequest{Username: "alice", Password: "pw1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"User registered successfully!"}`, string(body))

	resp, body = postJSON(t, srv, api.PathRegister, api.RegisterRequest{Username: "alice", Password: "other"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), api.UsernameTakenMessage)

	resp, body = postJSON(t, srv, api.PathLogin, api.LoginRequest{Username: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Unauthorized","message":"invalid credentials"}`, string(body))

	resp, body = postJSON(t, srv, api.PathLogin, api.LoginRequest{Username: "alice", Password: "pw1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var token api.TokenResponse
	require.NoError(t, json.Unmarshal(body, &token))
	assert.NotEmpty(t, token.Token)
	assert.Equal(t, int64(3600), token.ExpiresIn)
}

func TestServer_ProtectedPaths(t *testing.T) {
	srv := setupTestServer(t)

	alice := registerAndLogin(t, srv, "alice")
	registerAndLogin(t, srv, "bob")

	t.Run("with token", func(t *testing.T) {
		resp, body := get(t, srv, api.PathUsers, alice)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var users []api.UserResponse
		require.NoError(t, json.Unmarshal(body, &users))
		require.Len(t, users, 1)
		assert.Equal(t, "bob", users[0].Username)

		resp, body = get(t, srv, api.PathMe, alice)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"username":"alice"`)
	})

	t.Run("without token", func(t *testing.T) {
		resp, body := get(t, srv, api.PathUsers, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, string(body), `"error":"Unauthorized"`)
	})

	t.Run("garbage token", func(t *testing.T) {
		resp, _ := get(t, srv, api.PathMe, "not-a-token")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("public paths", func(t *testing.T) {
		resp, _ := get(t, srv, api.PathHealth, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := get(t, srv, api.PathMetrics, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `gophchat_logins_total{result="success"} 2`)
	})
}

func TestServer_PreflightBypassesAuth(t *testing.T) {
	srv := setupTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+api.PathUsers, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.NotEqual(t, http.StatusUnauthorized, resp.StatusCode)
}

type stompConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialStomp(t *testing.T, srv *httptest.Server, token string) (*stompConn, *frame.Frame) {
	t.Helper()

	dialer := websocket.Dialer{Subprotocols: ws.Subprotocols}
	conn, resp, err := dialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+api.PathWS, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	c := &stompConn{t: t, conn: conn}
	connect := frame.New(frame.CONNECT, "accept-version", "1.2", "host", "localhost")
	if token != "" {
		connect.Header.Set(api.HeaderAuthorization, "Bearer "+token)
	}
	c.write(connect)
	return c, c.read()
}

func (c *stompConn) write(f *frame.Frame) {
	c.t.Helper()

	var buf bytes.Buffer
	require.NoError(c.t, frame.NewWriter(&buf).Write(f))
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, buf.Bytes()))
}

func (c *stompConn) read() *frame.Frame {
	c.t.Helper()

	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err)

		f, err := frame.NewReader(bytes.NewReader(data)).Read()
		require.NoError(c.t, err)
		if f != nil {
			return f
		}
	}
}

func (c *stompConn) subscribe(id, destination string) {
	c.t.Helper()

	c.write(frame.New(frame.SUBSCRIBE, "id", id, "destination", destination, "receipt", "r-"+id))
	f := c.read()
	require.Equal(c.t, frame.RECEIPT, f.Command, f.Header.Get("message"))
}

func (c *stompConn) send(destination string, msg models.ChatMessage) {
	c.t.Helper()

	body, err := json.Marshal(msg)
	require.NoError(c.t, err)
	f := frame.New(frame.SEND, "destination", destination, "content-type", "application/json")
	f.Body = body
	c.write(f)
}

func (c *stompConn) message() models.ChatMessage {
	c.t.Helper()

	f := c.read()
	require.Equal(c.t, frame.MESSAGE, f.Command, f.Header.Get("message"))

	var msg models.ChatMessage
	require.NoError(c.t, json.Unmarshal(f.Body, &msg))
	return msg
}

func TestServer_ChatEndToEnd(t *testing.T) {
	srv := setupTestServer(t)

	aliceToken := registerAndLogin(t, srv, "alice")
	bobToken := registerAndLogin(t, srv, "bob")

	alice, connected := dialStomp(t, srv, aliceToken)
	require.Equal(t, frame.CONNECTED, connected.Command)
	assert.Equal(t, "alice", connected.Header.Get(api.HeaderUserName))

	bob, _ := dialStomp(t, srv, bobToken)
	bob.subscribe("pub", api.TopicPublic)
	bob.subscribe("priv", api.UserQueuePrivate)

	alice.send(api.DestinationAddUser, models.ChatMessage{Sender: "alice"})
	joined := bob.message()
	assert.Equal(t, models.MessageTypeJoin, joined.Type)
	assert.Equal(t, "alice", joined.Sender)

	// Подделанный sender заменяется identity соединения
	alice.send(api.DestinationSendMessage, models.ChatMessage{Content: "hi", Sender: "bob", Type: models.MessageTypeChat})
	msg := bob.message()
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "hi", msg.Content)

	alice.send(api.DestinationSendPrivateMessage, models.ChatMessage{Content: "psst", Recipient: "bob"})
	msg = bob.message()
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "bob", msg.Recipient)
}

func TestServer_AnonymousStompCannotSend(t *testing.T) {
	srv := setupTestServer(t)

	anon, connected := dialStomp(t, srv, "")
	require.Equal(t, frame.CONNECTED, connected.Command)

	anon.send(api.DestinationSendMessage, models.ChatMessage{Content: "hi"})
	f := anon.read()
	assert.Equal(t, frame.ERROR, f.Command)
}

func TestServer_StompTokenForDeletedAccount(t *testing.T) {
	srv := setupTestServer(t)

	// Токен подписан верным ключом, но пользователя нет в хранилище
	tokens, err := jwt.NewService(jwt.Config{Secret: []byte("integration-secret"), TTL: time.Hour})
	require.NoError(t, err)
	token, _, err := tokens.Issue("ghost")
	require.NoError(t, err)

	c, connected := dialStomp(t, srv, token)
	require.Equal(t, frame.CONNECTED, connected.Command)
	_, bound := connected.Header.Contains(api.HeaderUserName)
	assert.False(t, bound)

	c.send(api.DestinationSendMessage, models.ChatMessage{Content: "boo"})
	assert.Equal(t, frame.ERROR, c.read().Command)
}

func TestServer_ShutdownClosesStompSessions(t *testing.T) {
	handler := newTestHandler(t)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessionsClosed := make(chan struct{})
	srv.Config.RegisterOnShutdown(func() {
		defer close(sessionsClosed)
		handler.CloseSessions(ctx)
	})

	alice, connected := dialStomp(t, srv, registerAndLogin(t, srv, "alice"))
	require.Equal(t, frame.CONNECTED, connected.Command)

	readErr := make(chan error, 1)
	go func() {
		_ = alice.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err := alice.conn.ReadMessage()
		readErr <- err
	}()

	require.NoError(t, srv.Config.Shutdown(ctx))
	<-sessionsClosed

	err := <-readErr
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
}
