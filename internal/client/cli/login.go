package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/gophchat/internal/client/storage"
	"github.com/iudanet/gophchat/internal/validation"
	"github.com/iudanet/gophchat/pkg/api"
)

func (c *Cli) runLogin(ctx context.Context) error {
	c.io.Println("=== Login ===")
	c.io.Println()

	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return fmt.Errorf("failed to read username: %w", err)
	}

	// Пароль не спрашиваем, если имя заведомо не пройдет проверку сервера
	if err := validation.ValidateUsername(username); err != nil {
		return err
	}

	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	resp, err := c.api.Login(ctx, api.LoginRequest{Username: username, Password: password})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	authData := &storage.AuthData{
		Username:  username,
		Token:     resp.Token,
		ServerURL: c.api.BaseURL(),
		ExpiresAt: c.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	if err := c.storage.SaveAuth(ctx, authData); err != nil {
		return fmt.Errorf("failed to save auth data: %w", err)
	}

	c.logger.DebugContext(ctx, "token saved",
		slog.String("username", username),
		slog.Time("expires_at", authData.ExpiresAt))

	c.io.Println()
	c.io.Println("✓ Login successful!")
	c.io.Printf("Username: %s\n", username)
	c.io.Printf("Token expires: %s\n", authData.ExpiresAt.Format(time.RFC3339))

	return nil
}
