package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/olekukonko/tablewriter"

	clientapi "github.com/iudanet/gophchat/internal/client/api"
)

func (c *Cli) runUsers(ctx context.Context) error {
	authData, err := c.session(ctx)
	if err != nil {
		return err
	}

	users, err := c.api.ListUsers(ctx, authData.Token)
	if err != nil {
		if errors.Is(err, clientapi.ErrUnauthorized) {
			return fmt.Errorf("server rejected the token: %w", ErrNotAuthenticated)
		}
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		c.io.Println("No other users yet.")
		return nil
	}

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })

	table := tablewriter.NewWriter(c.io)
	table.SetHeader([]string{"Username", "ID"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, u := range users {
		table.Append([]string{u.Username, u.ID})
	}
	table.Render()

	return nil
}
