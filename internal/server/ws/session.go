package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/iudanet/gophchat/internal/server/auth"
	"github.com/iudanet/gophchat/internal/server/broker"
	"github.com/iudanet/gophchat/internal/server/chat"
	"github.com/iudanet/gophchat/internal/server/metrics"
	"github.com/iudanet/gophchat/pkg/api"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Registry реестр подписок
type Registry interface {
	Subscribe(destination string, sub broker.Subscriber)
	Unsubscribe(destination string, sub broker.Subscriber)
	RemoveSubscriber(sub broker.Subscriber)
}

// Dispatcher обрабатывает сообщения, отправленные клиентом
type Dispatcher interface {
	Dispatch(ctx context.Context, destination string, body []byte, id *auth.Identity, sess chat.SessionAttributes) error
	HandleLeave(ctx context.Context, sess chat.SessionAttributes)
}

type outbound struct {
	frame      *frame.Frame
	closeAfter bool
}

// subscription подписка клиента.
// destination как указал клиент, key как зарегистрировано в broker.
type subscription struct {
	id          string
	destination string
	key         string
}

// Session одно STOMP соединение.
// identity задается при создании и дальше не меняется.
type Session struct {
	identity   *auth.Identity
	conn       *websocket.Conn
	logger     *slog.Logger
	registry   Registry
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	send       chan outbound
	done       chan struct{}
	writerDone chan struct{}
	subs       map[string]subscription // id -> subscription
	byKey      map[string][]string     // broker key -> subscription ids
	attrs      map[string]string
	id         string
	closeOnce  sync.Once
	mu         sync.Mutex
	closing    atomic.Bool
}

func newSession(conn *websocket.Conn, id *auth.Identity, h *Handler) *Session {
	s := &Session{
		identity:   id,
		conn:       conn,
		registry:   h.registry,
		dispatcher: h.dispatcher,
		metrics:    h.metrics,
		send:       make(chan outbound, h.cfg.SendQueue),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		subs:       make(map[string]subscription),
		byKey:      make(map[string][]string),
		attrs:      make(map[string]string),
		id:         uuid.New().String(),
	}

	user := "anonymous"
	if id != nil {
		user = id.Subject
	}
	s.logger = h.logger.With(slog.String("session", s.id), slog.String("user", user))

	return s
}

// ID идентификатор сессии
func (s *Session) ID() string {
	return s.id
}

// Set implements chat.SessionAttributes
func (s *Session) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[key] = value
}

// Get implements chat.SessionAttributes
func (s *Session) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// Deliver implements broker.Subscriber.
// Никогда не блокирует: при переполненной очереди сообщение отбрасывается.
func (s *Session) Deliver(key string, payload []byte) bool {
	s.mu.Lock()
	subs := make([]subscription, 0, len(s.byKey[key]))
	for _, subID := range s.byKey[key] {
		subs = append(subs, s.subs[subID])
	}
	s.mu.Unlock()

	if len(subs) == 0 || s.closed() {
		return false
	}

	delivered := true
	for _, sub := range subs {
		f := frame.New(frame.MESSAGE,
			hdrDestination, sub.destination,
			hdrSubscription, sub.id,
			hdrMessageID, uuid.New().String(),
			hdrContentType, contentTypeJSON,
		)
		f.Body = payload

		if !s.enqueue(f, false) {
			delivered = false
			s.metrics.DeliveryDropped()
			s.logger.Warn("outbound queue full, message dropped", slog.String("destination", sub.destination))
		}
	}
	return delivered
}

// enqueue ставит фрейм в очередь отправки без блокировки
func (s *Session) enqueue(f *frame.Frame, closeAfter bool) bool {
	if s.closed() {
		return false
	}

	select {
	case s.send <- outbound{frame: f, closeAfter: closeAfter}:
		if closeAfter {
			s.closing.Store(true)
		}
		return true
	default:
		return false
	}
}

// fail отправляет ERROR и закрывает соединение
func (s *Session) fail(message string) {
	if !s.enqueue(errorFrame(message), true) {
		s.close()
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// goAway отправляет клиенту close 1001; readLoop завершится, когда клиент ответит
func (s *Session) goAway() {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(writeWait))
}

// drain дожидается отправки последнего фрейма (ERROR или RECEIPT на DISCONNECT)
func (s *Session) drain(timeout time.Duration) {
	if !s.closing.Load() {
		return
	}
	select {
	case <-s.writerDone:
	case <-time.After(timeout):
	}
}

// writeLoop единственный писатель в соединение
func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		close(s.writerDone)
	}()

	for {
		select {
		case out := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := writeFrame(s.conn, out.frame); err != nil {
				s.logger.Debug("write failed", slog.Any("error", err))
				s.close()
				return
			}
			if out.closeAfter {
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				s.close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// readLoop обрабатывает фреймы клиента по порядку до закрытия соединения
func (s *Session) readLoop(ctx context.Context) {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, r, err := s.conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("connection closed unexpectedly", slog.Any("error", err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		frames, err := readFrames(r)
		if err != nil {
			s.fail("malformed frame")
			return
		}

		if !s.handleFrames(ctx, frames) {
			return
		}
	}
}

// handleFrames обрабатывает фреймы по порядку; false, когда соединение должно завершиться
func (s *Session) handleFrames(ctx context.Context, frames []*frame.Frame) bool {
	for _, f := range frames {
		if !s.handleFrame(ctx, f) {
			return false
		}
	}
	return true
}

// handleFrame возвращает false, когда соединение должно завершиться
func (s *Session) handleFrame(ctx context.Context, f *frame.Frame) bool {
	switch f.Command {
	case frame.SUBSCRIBE:
		return s.handleSubscribe(f)
	case frame.UNSUBSCRIBE:
		return s.handleUnsubscribe(f)
	case frame.SEND:
		return s.handleSend(ctx, f)
	case frame.DISCONNECT:
		if receipt := f.Header.Get(hdrReceipt); receipt != "" {
			if s.enqueue(receiptFrame(receipt), true) {
				return false
			}
		}
		s.close()
		return false
	case frame.CONNECT, frame.STOMP:
		s.fail("already connected")
		return false
	default:
		s.fail("unsupported command " + f.Command)
		return false
	}
}

func (s *Session) handleSubscribe(f *frame.Frame) bool {
	subID := f.Header.Get(hdrID)
	destination := f.Header.Get(hdrDestination)
	if subID == "" || destination == "" {
		s.fail("SUBSCRIBE requires id and destination")
		return false
	}

	key, err := s.resolveSubscription(destination)
	if err != nil {
		s.logger.Warn("subscription rejected",
			slog.String("destination", destination),
			slog.Any("error", err))
		s.fail(err.Error())
		return false
	}

	s.mu.Lock()
	if _, exists := s.subs[subID]; exists {
		s.mu.Unlock()
		s.fail("duplicate subscription id " + subID)
		return false
	}
	s.subs[subID] = subscription{id: subID, destination: destination, key: key}
	s.byKey[key] = append(s.byKey[key], subID)
	s.mu.Unlock()

	s.registry.Subscribe(key, s)
	s.logger.Debug("subscribed", slog.String("destination", destination))

	return s.receipt(f)
}

func (s *Session) handleUnsubscribe(f *frame.Frame) bool {
	subID := f.Header.Get(hdrID)
	if subID == "" {
		s.fail("UNSUBSCRIBE requires id")
		return false
	}

	s.mu.Lock()
	sub, ok := s.subs[subID]
	last := false
	if ok {
		delete(s.subs, subID)
		ids := s.byKey[sub.key]
		for i, id := range ids {
			if id == subID {
				ids = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(s.byKey, sub.key)
			last = true
		} else {
			s.byKey[sub.key] = ids
		}
	}
	s.mu.Unlock()

	if last {
		s.registry.Unsubscribe(sub.key, s)
	}

	return s.receipt(f)
}

func (s *Session) handleSend(ctx context.Context, f *frame.Frame) bool {
	// Анонимная сессия может только читать общий канал
	if s.identity == nil {
		s.logger.Warn("SEND on unauthenticated session rejected")
		s.fail(chat.ErrUnauthorized.Error())
		return false
	}

	destination := f.Header.Get(hdrDestination)
	if !strings.HasPrefix(destination, api.AppPrefix+"/") {
		s.fail("SEND allowed only to " + api.AppPrefix + " destinations")
		return false
	}

	err := s.dispatcher.Dispatch(ctx, destination, f.Body, s.identity, s)
	if err != nil {
		if errors.Is(err, chat.ErrUnauthorized) {
			s.fail(err.Error())
			return false
		}

		s.logger.Warn("message rejected",
			slog.String("destination", destination),
			slog.Any("error", err))
		s.reportError(err)
	}

	return s.receipt(f)
}

// resolveSubscription проверяет право на подписку и возвращает ключ broker
func (s *Session) resolveSubscription(destination string) (string, error) {
	switch {
	case strings.HasPrefix(destination, "/topic/"):
		return destination, nil

	case strings.HasPrefix(destination, broker.UserPrefix):
		if s.identity == nil {
			return "", chat.ErrUnauthorized
		}

		rest := strings.TrimPrefix(destination, "/user")
		if strings.HasPrefix(rest, "/queue/") {
			return broker.UserDestination(s.identity.Subject, rest), nil
		}

		// /user/<name>/queue/... разрешено только для своего имени
		owner, queue, _ := strings.Cut(strings.TrimPrefix(rest, "/"), "/")
		if owner != s.identity.Subject || !strings.HasPrefix("/"+queue, "/queue/") {
			return "", fmt.Errorf("%w: cannot subscribe to %s", chat.ErrUnauthorized, destination)
		}
		return destination, nil

	default:
		return "", fmt.Errorf("%w: %s", chat.ErrUnknownDestination, destination)
	}
}

// reportError отправляет ошибку обработки в /user/queue/errors этой сессии
func (s *Session) reportError(err error) {
	if s.identity == nil {
		return
	}

	payload, mErr := json.Marshal(api.ErrorResponse{Error: "message rejected", Message: err.Error()})
	if mErr != nil {
		return
	}
	s.Deliver(broker.UserDestination(s.identity.Subject, api.QueueErrors), payload)
}

// receipt подтверждает фрейм, если клиент запросил receipt
func (s *Session) receipt(f *frame.Frame) bool {
	receipt := f.Header.Get(hdrReceipt)
	if receipt == "" {
		return true
	}
	if !s.enqueue(receiptFrame(receipt), false) {
		s.logger.Warn("outbound queue full, receipt dropped")
	}
	return true
}
