// Package cli реализует команды консольного клиента чата.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/gophchat/internal/client/chat"
	"github.com/iudanet/gophchat/internal/client/iocli"
	"github.com/iudanet/gophchat/internal/client/storage"
	"github.com/iudanet/gophchat/pkg/api"
)

// ErrNotAuthenticated нет сохраненной сессии или токен истек
var ErrNotAuthenticated = errors.New("not authenticated, please run 'gophchat login' first")

// APIClient REST API сервера
type APIClient interface {
	BaseURL() string
	Register(ctx context.Context, req api.RegisterRequest) (*api.MessageResponse, error)
	Login(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error)
	ListUsers(ctx context.Context, token string) ([]api.UserResponse, error)
}

// ChatSession STOMP соединение, см. chat.Client
type ChatSession interface {
	Username() string
	Subscribe(ctx context.Context, destination string) error
	Join(ctx context.Context) error
	SendPublic(ctx context.Context, content string) error
	SendPrivate(ctx context.Context, recipient, content string) error
	Messages() <-chan chat.Event
	Err() error
	Close() error
}

// Dialer открывает STOMP сессию с токеном
type Dialer func(ctx context.Context, serverURL, token string) (ChatSession, error)

type Cli struct {
	io      iocli.IO
	logger  *slog.Logger
	api     APIClient
	storage storage.AuthStorage
	dial    Dialer
	now     func() time.Time
}

func New(io iocli.IO, logger *slog.Logger, apiClient APIClient, authStorage storage.AuthStorage) *Cli {
	return &Cli{
		io:      io,
		logger:  logger,
		api:     apiClient,
		storage: authStorage,
		dial: func(ctx context.Context, serverURL, token string) (ChatSession, error) {
			return chat.Dial(ctx, logger, serverURL, token)
		},
		now: time.Now,
	}
}

// session возвращает сохраненный и еще действующий токен
func (c *Cli) session(ctx context.Context) (*storage.AuthData, error) {
	authData, err := c.storage.GetAuth(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("failed to get auth data: %w", err)
	}

	if authData.Expired(c.now()) {
		return nil, fmt.Errorf("token expired: %w", ErrNotAuthenticated)
	}

	return authData, nil
}

func PrintUsage(io iocli.IO) {
	io.Println("GophChat Client")
	io.Println()
	io.Println("Usage:")
	io.Println("  gophchat [OPTIONS] COMMAND")
	io.Println()
	io.Println("Options:")
	io.Println("  --version                    Show version information")
	io.Println("  --server URL                 Server URL (default: http://localhost:8080)")
	io.Println("  --db PATH                    Path to local database (default: gophchat-client.db)")
	io.Println()
	io.Println("Commands:")
	io.Println("  register                Register new user")
	io.Println("  login                   Login to server")
	io.Println("  logout                  Forget saved token")
	io.Println("  status                  Show authentication status")
	io.Println("  users                   List registered users")
	io.Println("  chat                    Join the chat room")
	io.Println()
	io.Println("In chat:")
	io.Println("  <text>                  Send to everyone")
	io.Println("  @<user> <text>          Send a private message")
	io.Println("  /quit                   Leave the chat")
	io.Println()
	io.Println("Examples:")
	io.Println("  gophchat register")
	io.Println("  gophchat --server https://chat.example.com login")
	io.Println("  gophchat chat")
}
