// Package chat defines the ChatClient port consumed by send_chat_message
// and daily_summary handlers, plus the Telegram adapter used to implement
// it.
package chat

import "context"

// Client is the minimal surface the job queue core needs from a chat
// platform: push a rendered message to a conversation. Ingestion, webhook
// signature verification, and inbound message handling are outside the
// core and are not part of this port.
type Client interface {
	SendMessage(ctx context.Context, chatID string, content string) error
}
