package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/gophchat/internal/client/storage"
)

func (c *Cli) runStatus(ctx context.Context) error {
	c.io.Println("=== Authentication Status ===")
	c.io.Println()

	authData, err := c.storage.GetAuth(ctx)
	if errors.Is(err, storage.ErrAuthNotFound) {
		c.io.Println("Status: Not authenticated")
		c.io.Println()
		c.io.Println("Run 'gophchat login' to authenticate.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get auth data: %w", err)
	}

	c.io.Println("Status: Authenticated")
	c.io.Printf("Username: %s\n", authData.Username)
	c.io.Printf("Server: %s\n", authData.ServerURL)
	c.io.Printf("Token expires: %s\n", authData.ExpiresAt.Format(time.RFC3339))

	if authData.Expired(c.now()) {
		c.io.Println("⚠️  Token has expired. Please login again.")
		return nil
	}
	c.io.Printf("Time remaining: %s\n", authData.ExpiresAt.Sub(c.now()).Round(time.Second))

	return nil
}
