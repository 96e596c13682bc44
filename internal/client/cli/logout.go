package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/gophchat/internal/client/storage"
)

// runLogout удаляет локальный токен. Сервер stateless, отзывать нечего.
func (c *Cli) runLogout(ctx context.Context) error {
	err := c.storage.DeleteAuth(ctx)
	if errors.Is(err, storage.ErrAuthNotFound) {
		c.io.Println("Not logged in.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete auth data: %w", err)
	}

	c.io.Println("✓ Logged out")
	return nil
}
