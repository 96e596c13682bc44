// Package chat is a STOMP-over-WebSocket client for the chat server.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/pkg/api"
)

const (
	hdrAcceptVersion = "accept-version"
	hdrHost          = "host"
	hdrDestination   = "destination"
	hdrID            = "id"
	hdrReceipt       = "receipt"
	hdrReceiptID     = "receipt-id"
	hdrMessage       = "message"
	hdrContentType   = "content-type"
)

const (
	receiptTimeout = 5 * time.Second
	writeWait      = 10 * time.Second
)

var (
	// ErrRejected сервер ответил ERROR на CONNECT
	ErrRejected = errors.New("connection rejected")
	// ErrClosed соединение закрыто
	ErrClosed = errors.New("connection closed")
)

// Event сообщение, полученное по подписке.
// Для очереди ошибок заполнено Error, а не Message.
type Event struct {
	Destination string
	Error       *api.ErrorResponse
	Message     models.ChatMessage
}

// Client STOMP сессия с сервером чата
type Client struct {
	logger   *slog.Logger
	conn     *websocket.Conn
	events   chan Event
	done     chan struct{}
	receipts map[string]chan struct{}
	err      error
	username string
	seq      int
	mu       sync.Mutex
	writeMu  sync.Mutex
	once     sync.Once
}

// WebSocketURL переводит адрес HTTP сервера в адрес STOMP endpoint
func WebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + api.PathWS

	return u.String(), nil
}

// Dial подключается к серверу и выполняет CONNECT с токеном.
// Пустой token дает анонимную сессию (если сервер ее разрешает).
func Dial(ctx context.Context, logger *slog.Logger, serverURL, token string) (*Client, error) {
	wsURL, err := WebSocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{"v12.stomp"},
		HandshakeTimeout: 10 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Client{
		logger:   logger,
		conn:     conn,
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
		receipts: make(map[string]chan struct{}),
	}

	connect := frame.New(frame.CONNECT,
		hdrAcceptVersion, "1.2",
		hdrHost, hostOf(wsURL),
	)
	if token != "" {
		connect.Header.Set(api.HeaderAuthorization, "Bearer "+token)
	}

	if err := c.write(connect); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	reply, err := c.readFrame()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to read CONNECTED: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch reply.Command {
	case frame.CONNECTED:
		c.username = reply.Header.Get(api.HeaderUserName)
	case frame.ERROR:
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrRejected, reply.Header.Get(hdrMessage))
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected frame %s", reply.Command)
	}

	go c.readLoop()

	return c, nil
}

// Username имя, под которым сервер принял соединение (пусто для анонимного)
func (c *Client) Username() string {
	return c.username
}

// Messages канал полученных сообщений; закрывается при разрыве соединения
func (c *Client) Messages() <-chan Event {
	return c.events
}

// Err причина закрытия соединения
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Subscribe подписывается на destination и ждет подтверждения сервера
func (c *Client) Subscribe(ctx context.Context, destination string) error {
	id := c.nextID("sub")
	return c.sendWithReceipt(ctx, frame.New(frame.SUBSCRIBE,
		hdrID, id,
		hdrDestination, destination,
	))
}

// Join объявляет о входе в чат
func (c *Client) Join(ctx context.Context) error {
	return c.Publish(ctx, api.DestinationAddUser, models.ChatMessage{Type: models.MessageTypeJoin})
}

// SendPublic отправляет сообщение в общий канал
func (c *Client) SendPublic(ctx context.Context, content string) error {
	return c.Publish(ctx, api.DestinationSendMessage, models.ChatMessage{
		Content: content,
		Type:    models.MessageTypeChat,
	})
}

// SendPrivate отправляет личное сообщение recipient
func (c *Client) SendPrivate(ctx context.Context, recipient, content string) error {
	return c.Publish(ctx, api.DestinationSendPrivateMessage, models.ChatMessage{
		Content:   content,
		Recipient: recipient,
		Type:      models.MessageTypeChat,
	})
}

// Publish отправляет сообщение на destination и ждет RECEIPT
func (c *Client) Publish(ctx context.Context, destination string, msg models.ChatMessage) error {
	// Отправитель все равно перезаписывается сервером
	msg.Sender = c.username

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	f := frame.New(frame.SEND,
		hdrDestination, destination,
		hdrContentType, "application/json",
	)
	f.Body = body

	return c.sendWithReceipt(ctx, f)
}

// Close отправляет DISCONNECT и закрывает соединение
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.sendWithReceipt(ctx, frame.New(frame.DISCONNECT)); err != nil {
		c.logger.Debug("disconnect without receipt", slog.Any("error", err))
	}

	c.shutdown(nil)
	return nil
}

func (c *Client) sendWithReceipt(ctx context.Context, f *frame.Frame) error {
	receipt := c.nextID("rcpt")
	wait := make(chan struct{})

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.receipts[receipt] = wait
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.receipts, receipt)
		c.mu.Unlock()
	}()

	f.Header.Set(hdrReceipt, receipt)
	if err := c.write(f); err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, receiptTimeout)
		defer cancel()
	}

	select {
	case <-wait:
		return nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("no receipt for %s: %w", f.Command, ctx.Err())
	}
}

func (c *Client) readLoop() {
	defer close(c.events)

	for {
		f, err := c.readFrame()
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %w", ErrClosed, err))
			return
		}

		switch f.Command {
		case frame.MESSAGE:
			ev, err := decodeEvent(f)
			if err != nil {
				c.logger.Warn("skipping malformed message", slog.Any("error", err))
				continue
			}
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}

		case frame.RECEIPT:
			c.mu.Lock()
			wait, ok := c.receipts[f.Header.Get(hdrReceiptID)]
			delete(c.receipts, f.Header.Get(hdrReceiptID))
			c.mu.Unlock()
			if ok {
				close(wait)
			}

		case frame.ERROR:
			// После ERROR сервер закрывает соединение
			c.shutdown(fmt.Errorf("server error: %s", f.Header.Get(hdrMessage)))
			return
		}
	}
}

func decodeEvent(f *frame.Frame) (Event, error) {
	ev := Event{Destination: f.Header.Get(hdrDestination)}

	if strings.HasSuffix(ev.Destination, api.QueueErrors) {
		ev.Error = &api.ErrorResponse{}
		return ev, json.Unmarshal(f.Body, ev.Error)
	}
	return ev, json.Unmarshal(f.Body, &ev.Message)
}

func (c *Client) shutdown(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		if err == nil {
			err = ErrClosed
		}
		c.err = err
		c.mu.Unlock()

		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) write(f *frame.Frame) error {
	if len(f.Body) > 0 {
		f.Header.Set("content-length", strconv.Itoa(len(f.Body)))
	}

	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send %s: %w", f.Command, err)
	}
	return nil
}

// readFrame читает следующий фрейм, пропуская heart-beat
func (c *Client) readFrame() (*frame.Frame, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		f, err := frame.NewReader(bytes.NewReader(data)).Read()
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
	}
}

func (c *Client) nextID(prefix string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return prefix + "-" + strconv.Itoa(c.seq)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
