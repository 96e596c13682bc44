package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/iudanet/gophchat/internal/client/chat"
	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/pkg/api"
)

type inputKind int

const (
	inputEmpty inputKind = iota
	inputPublic
	inputPrivate
	inputQuit
	inputHelp
)

type input struct {
	recipient string
	content   string
	kind      inputKind
}

// parseInput разбирает строку чата: "@bob текст" личное, "/quit" выход, иначе общий канал
func parseInput(line string) (input, error) {
	line = strings.TrimSpace(line)

	switch {
	case line == "":
		return input{kind: inputEmpty}, nil
	case line == "/quit" || line == "/exit":
		return input{kind: inputQuit}, nil
	case line == "/help":
		return input{kind: inputHelp}, nil
	case strings.HasPrefix(line, "@"):
		recipient, content, _ := strings.Cut(line[1:], " ")
		content = strings.TrimSpace(content)
		if recipient == "" || content == "" {
			return input{}, fmt.Errorf("usage: @<user> <text>")
		}
		return input{kind: inputPrivate, recipient: recipient, content: content}, nil
	case strings.HasPrefix(line, "/"):
		return input{}, fmt.Errorf("unknown command %s, try /help", line)
	default:
		return input{kind: inputPublic, content: line}, nil
	}
}

// formatEvent строка для вывода входящего события
func formatEvent(ev chat.Event) string {
	if ev.Error != nil {
		return fmt.Sprintf("! %s", ev.Error.Message)
	}

	msg := ev.Message
	switch msg.Type {
	case models.MessageTypeJoin:
		return fmt.Sprintf("* %s joined", msg.Sender)
	case models.MessageTypeLeave:
		return fmt.Sprintf("* %s left", msg.Sender)
	}

	if msg.IsPrivate() {
		return fmt.Sprintf("[private] %s: %s", msg.Sender, msg.Content)
	}
	return fmt.Sprintf("%s: %s", msg.Sender, msg.Content)
}

func (c *Cli) runChat(ctx context.Context) error {
	authData, err := c.session(ctx)
	if err != nil {
		return err
	}

	serverURL := authData.ServerURL
	if serverURL == "" {
		serverURL = c.api.BaseURL()
	}

	sess, err := c.dial(ctx, serverURL, authData.Token)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			c.logger.Warn("failed to close chat session", slog.Any("error", err))
		}
	}()

	// Читаем события до подписок: иначе полный канал событий задержит RECEIPT
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range sess.Messages() {
			c.io.Println(formatEvent(ev))
		}
	}()

	for _, dest := range []string{api.TopicPublic, api.UserQueuePrivate, api.UserQueueErrors} {
		if err := sess.Subscribe(ctx, dest); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", dest, err)
		}
	}

	if err := sess.Join(ctx); err != nil {
		return fmt.Errorf("failed to join: %w", err)
	}

	c.io.Printf("Connected as %s. Type /help for commands.\n", sess.Username())

	for {
		line, err := c.io.ReadInput("")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		in, err := parseInput(line)
		if err != nil {
			c.io.Println(err.Error())
			continue
		}

		switch in.kind {
		case inputQuit:
			return nil
		case inputHelp:
			c.io.Println("<text> to everyone, @<user> <text> privately, /quit to leave")
		case inputPublic:
			err = sess.SendPublic(ctx, in.content)
		case inputPrivate:
			// сервер не возвращает личное сообщение отправителю
			if err = sess.SendPrivate(ctx, in.recipient, in.content); err == nil {
				c.io.Printf("[to %s] %s\n", in.recipient, in.content)
			}
		}

		if err != nil {
			select {
			case <-printed:
				return fmt.Errorf("connection lost: %w", sess.Err())
			default:
			}
			return fmt.Errorf("failed to send: %w", err)
		}
	}
}
