// Package chat routes chat events between connected sessions. The sender of
// every event is taken from the identity bound to the producing connection.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/internal/server/auth"
	"github.com/iudanet/gophchat/internal/server/metrics"
	"github.com/iudanet/gophchat/pkg/api"
)

// AttrUsername ключ атрибута сессии с именем присоединившегося пользователя
const AttrUsername = "username"

var (
	// ErrUnauthorized у соединения нет identity
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMalformedMessage тело сообщения не является ChatMessage
	ErrMalformedMessage = errors.New("malformed message")
	// ErrMalformedPrivateMessage у личного сообщения не указан получатель
	ErrMalformedPrivateMessage = errors.New("private message requires a recipient")
	// ErrUnknownDestination destination не обслуживается сервером
	ErrUnknownDestination = errors.New("unknown destination")
)

// Publisher доставляет сообщения подписчикам
type Publisher interface {
	Publish(destination string, payload []byte) int
	PublishToUser(user, queue string, payload []byte) int
}

// SessionAttributes атрибуты STOMP сессии
type SessionAttributes interface {
	Set(key, value string)
	Get(key string) (string, bool)
}

// Router обрабатывает сообщения, отправленные на /app/chat.*
type Router struct {
	logger    *slog.Logger
	publisher Publisher
	metrics   *metrics.Metrics
}

// NewRouter создает роутер чата. metrics может быть nil.
func NewRouter(logger *slog.Logger, publisher Publisher, m *metrics.Metrics) *Router {
	return &Router{
		logger:    logger,
		publisher: publisher,
		metrics:   m,
	}
}

// Dispatch разбирает тело и вызывает обработчик для destination
func (r *Router) Dispatch(ctx context.Context, destination string, body []byte, id *auth.Identity, sess SessionAttributes) error {
	if id == nil {
		return ErrUnauthorized
	}

	var handle func(models.ChatMessage) error
	switch destination {
	case api.DestinationAddUser:
		handle = func(msg models.ChatMessage) error { return r.HandleJoin(ctx, msg, id, sess) }
	case api.DestinationSendMessage:
		handle = func(msg models.ChatMessage) error { return r.HandlePublicMessage(ctx, msg, id) }
	case api.DestinationSendPrivateMessage:
		handle = func(msg models.ChatMessage) error { return r.HandlePrivateMessage(ctx, msg, id) }
	default:
		return fmt.Errorf("%w: %s", ErrUnknownDestination, destination)
	}

	var msg models.ChatMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	// тип все равно выставляется по destination, но неизвестный тип считаем ошибкой клиента
	if msg.Type != "" && !msg.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, msg.Type)
	}

	return handle(msg)
}

// HandleJoin объявляет о входе пользователя в общий канал и запоминает его в сессии
func (r *Router) HandleJoin(ctx context.Context, msg models.ChatMessage, id *auth.Identity, sess SessionAttributes) error {
	if id == nil {
		return ErrUnauthorized
	}

	msg = r.stamp(ctx, msg, id)
	msg.Type = models.MessageTypeJoin
	msg.Recipient = ""

	if sess != nil {
		sess.Set(AttrUsername, id.Subject)
	}

	return r.broadcast(ctx, msg)
}

// HandlePublicMessage рассылает сообщение всем подписчикам общего канала
func (r *Router) HandlePublicMessage(ctx context.Context, msg models.ChatMessage, id *auth.Identity) error {
	if id == nil {
		return ErrUnauthorized
	}

	msg = r.stamp(ctx, msg, id)
	msg.Type = models.MessageTypeChat
	msg.Recipient = ""

	return r.broadcast(ctx, msg)
}

// HandlePrivateMessage доставляет сообщение только в личную очередь получателя.
// Если получатель не подключен, сообщение отбрасывается.
func (r *Router) HandlePrivateMessage(ctx context.Context, msg models.ChatMessage, id *auth.Identity) error {
	if id == nil {
		return ErrUnauthorized
	}

	msg.Recipient = strings.TrimSpace(msg.Recipient)
	if msg.Recipient == "" {
		return ErrMalformedPrivateMessage
	}

	msg = r.stamp(ctx, msg, id)
	msg.Type = models.MessageTypeChat

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	delivered := r.publisher.PublishToUser(msg.Recipient, api.QueuePrivate, payload)
	r.metrics.MessageRouted("private")

	if delivered == 0 {
		r.logger.DebugContext(ctx, "private message dropped: recipient offline",
			slog.String("sender", msg.Sender),
			slog.String("recipient", msg.Recipient))
	}

	return nil
}

// HandleLeave объявляет о выходе, если сессия присоединялась к чату
func (r *Router) HandleLeave(ctx context.Context, sess SessionAttributes) {
	if sess == nil {
		return
	}

	username, ok := sess.Get(AttrUsername)
	if !ok || username == "" {
		return
	}

	msg := models.ChatMessage{
		Sender: username,
		Type:   models.MessageTypeLeave,
	}
	if err := r.broadcast(ctx, msg); err != nil {
		r.logger.ErrorContext(ctx, "failed to announce leave",
			slog.String("username", username),
			slog.Any("error", err))
	}
}

// stamp перезаписывает отправителя identity соединения
func (r *Router) stamp(ctx context.Context, msg models.ChatMessage, id *auth.Identity) models.ChatMessage {
	if msg.Sender != "" && msg.Sender != id.Subject {
		r.logger.DebugContext(ctx, "client supplied sender overridden",
			slog.String("claimed", msg.Sender),
			slog.String("sender", id.Subject))
	}
	msg.Sender = id.Subject
	return msg
}

func (r *Router) broadcast(ctx context.Context, msg models.ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	delivered := r.publisher.Publish(api.TopicPublic, payload)
	r.metrics.MessageRouted(strings.ToLower(string(msg.Type)))

	r.logger.DebugContext(ctx, "message broadcast",
		slog.String("type", string(msg.Type)),
		slog.String("sender", msg.Sender),
		slog.Int("delivered", delivered))

	return nil
}
