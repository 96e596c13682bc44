package cli

import (
	"context"
	"fmt"

	"github.com/iudanet/gophchat/internal/validation"
	"github.com/iudanet/gophchat/pkg/api"
)

func (c *Cli) runRegister(ctx context.Context) error {
	c.io.Println("=== Registration ===")
	c.io.Println()

	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return fmt.Errorf("failed to read username: %w", err)
	}

	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	confirm, err := c.io.ReadPassword("Confirm password: ")
	if err != nil {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}

	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	// Те же правила, что проверит сервер
	if err := validation.ValidateCredentials(validation.Credentials{Username: username, Password: password}); err != nil {
		return err
	}

	resp, err := c.api.Register(ctx, api.RegisterRequest{Username: username, Password: password})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	c.io.Println()
	c.io.Printf("✓ %s\n", resp.Message)
	c.io.Println("Run 'gophchat login' to join the chat.")

	return nil
}
