package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/iudanet/gophchat/internal/server/metrics"
	"github.com/iudanet/gophchat/internal/server/middleware"
	"github.com/iudanet/gophchat/pkg/api"
)

const (
	defaultSendQueue        = 256
	defaultHandshakeTimeout = 10 * time.Second
	defaultMaxFrameSize     = 64 * 1024
)

// Config настройки STOMP endpoint
type Config struct {
	AllowedOrigins   []string
	SendQueue        int
	HandshakeTimeout time.Duration
	MaxFrameSize     int64
	// AllowAnonymous разрешает CONNECT без токена (только чтение /topic/*)
	AllowAnonymous bool
}

// Handler принимает WebSocket соединения и обслуживает STOMP сессии
type Handler struct {
	logger     *slog.Logger
	gate       *Gate
	registry   Registry
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
	cfg        Config

	mu       sync.Mutex
	sessions map[*Session]struct{}
	active   sync.WaitGroup
	stopping bool
}

// NewHandler создает STOMP endpoint
func NewHandler(
	logger *slog.Logger,
	authenticator Authenticator,
	registry Registry,
	dispatcher Dispatcher,
	m *metrics.Metrics,
	cfg Config,
) *Handler {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = defaultSendQueue
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = defaultMaxFrameSize
	}

	h := &Handler{
		logger:     logger,
		gate:       NewGate(logger, authenticator),
		registry:   registry,
		dispatcher: dispatcher,
		metrics:    m,
		cfg:        cfg,
		sessions:   make(map[*Session]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		Subprotocols: Subprotocols,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}

	return h
}

// ServeHTTP обрабатывает GET /ws
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.isStopping() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
		return
	}
	conn.SetReadLimit(h.cfg.MaxFrameSize)

	// Контекст запроса отменяется после hijack, сессия живет своим
	ctx := context.WithoutCancel(r.Context())

	sess, pending, ok := h.handshake(ctx, conn)
	if !ok {
		return
	}
	if !h.track(sess) {
		sess.goAway()
		_ = conn.Close()
		return
	}
	defer h.untrack(sess)

	h.metrics.ConnectionOpened()
	h.logger.InfoContext(ctx, "stomp session opened", slog.String("session", sess.ID()))

	go sess.writeLoop()
	// фреймы, отправленные вместе с CONNECT, обрабатываются до чтения следующих
	if sess.handleFrames(ctx, pending) {
		sess.readLoop(ctx)
	}

	h.registry.RemoveSubscriber(sess)
	h.dispatcher.HandleLeave(ctx, sess)
	sess.drain(writeWait)
	sess.close()

	h.metrics.ConnectionClosed()
	h.logger.InfoContext(ctx, "stomp session closed", slog.String("session", sess.ID()))
}

// Shutdown просит клиентов всех сессий закрыть соединение (close 1001)
// и ждет, пока сессии завершатся и разошлют LEAVE.
// Когда ctx истекает, оставшиеся соединения закрываются без ожидания клиента.
// Новые соединения после вызова не принимаются.
func (h *Handler) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.stopping = true
	sessions := lo.Keys(h.sessions)
	h.mu.Unlock()

	h.logger.InfoContext(ctx, "closing stomp sessions", slog.Int("sessions", len(sessions)))
	for _, sess := range sessions {
		sess.goAway()
	}

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	h.logger.WarnContext(ctx, "stomp sessions did not close in time, dropping connections")
	for _, sess := range sessions {
		_ = sess.conn.Close()
	}
	<-done
}

func (h *Handler) isStopping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopping
}

// track регистрирует живую сессию; false после Shutdown
func (h *Handler) track(sess *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopping {
		return false
	}
	h.sessions[sess] = struct{}{}
	h.active.Add(1)
	return true
}

func (h *Handler) untrack(sess *Session) {
	h.mu.Lock()
	delete(h.sessions, sess)
	h.mu.Unlock()
	h.active.Done()
}

// handshake читает CONNECT, проверяет токен и отвечает CONNECTED.
// Возвращает фреймы, пришедшие в одном сообщении с CONNECT.
// При отказе отправляет ERROR и закрывает соединение.
func (h *Handler) handshake(ctx context.Context, conn *websocket.Conn) (*Session, []*frame.Frame, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.HandshakeTimeout))

	f, pending, err := readFirstFrame(conn)
	if err != nil {
		h.logger.DebugContext(ctx, "stomp handshake failed", slog.Any("error", err))
		h.reject(conn, "")
		return nil, nil, false
	}

	if f.Command != frame.CONNECT && f.Command != frame.STOMP {
		h.metrics.Handshake(metrics.ResultRejected)
		h.reject(conn, "expected CONNECT frame")
		return nil, nil, false
	}

	version := negotiateVersion(f.Header.Get(hdrAcceptVersion))
	if version == "" {
		h.metrics.Handshake(metrics.ResultRejected)
		h.reject(conn, "unsupported protocol version")
		return nil, nil, false
	}

	// identity фиксируется здесь и больше не меняется
	id := h.gate.Authenticate(ctx, f)
	switch {
	case id == nil && !h.cfg.AllowAnonymous:
		h.metrics.Handshake(metrics.ResultRejected)
		h.logger.WarnContext(ctx, "stomp connect rejected: unauthenticated")
		h.reject(conn, "unauthenticated")
		return nil, nil, false
	case id == nil:
		h.metrics.Handshake(metrics.ResultAnon)
	default:
		h.metrics.Handshake(metrics.ResultSuccess)
	}

	sess := newSession(conn, id, h)

	connected := frame.New(frame.CONNECTED,
		hdrVersion, version,
		hdrHeartBeat, "0,0",
		hdrSession, sess.ID(),
		hdrServer, serverName,
	)
	if id != nil {
		connected.Header.Set(api.HeaderUserName, id.Subject)
	}

	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := writeFrame(conn, connected); err != nil {
		h.logger.DebugContext(ctx, "failed to write CONNECTED", slog.Any("error", err))
		_ = conn.Close()
		return nil, nil, false
	}

	return sess, pending, true
}

func (h *Handler) reject(conn *websocket.Conn, message string) {
	if message != "" {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = writeFrame(conn, errorFrame(message))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
			time.Now().Add(writeWait))
	}
	_ = conn.Close()
}
