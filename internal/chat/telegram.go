package chat

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
)

// Telegram is a Client backed by the Telegram Bot API. It only ever pushes
// messages; it never starts polling or registers update handlers, since
// inbound ingestion is outside this core's scope.
type Telegram struct {
	bot *bot.Bot
}

var _ Client = (*Telegram)(nil)

// NewTelegram constructs a send-only Telegram client from a bot token.
func NewTelegram(token string) (*Telegram, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("chat: create telegram bot: %w", err)
	}
	return &Telegram{bot: b}, nil
}

// SendMessage renders content (assumed to be markdown, e.g. an LLM summary)
// to HTML and pushes it to chatID. On a render or send failure it falls
// back to plain text so a formatting bug never drops the message entirely.
func (c *Telegram) SendMessage(ctx context.Context, chatID string, content string) error {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("chat: invalid telegram chat id %q: %w", chatID, err)
	}

	rendered := RenderMarkdown(content)
	_, err = c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatIDInt,
		Text:      rendered,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		_, err = c.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatIDInt,
			Text:   content,
		})
	}
	return err
}

// RenderMarkdown converts markdown source to the HTML subset Telegram's
// ParseModeHTML accepts.
func RenderMarkdown(src string) string {
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	return string(markdown.ToHTML([]byte(src), nil, renderer))
}
