package handlers

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/eykd/companion-memory/internal/dispatch"
)

// sendChatMessagePayload is the shape other handlers and the Scheduling API
// use when they want to push an already-rendered message to a chat
// destination without going through a higher-level handler.
type sendChatMessagePayload struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

func sendChatMessageRegistration() dispatch.Registration {
	return dispatch.Registration{
		JobType: "send_chat_message",
		Parse: func(raw []byte) (any, error) {
			var p sendChatMessagePayload
			if err := sonic.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("send_chat_message: %w", err)
			}
			if p.ChatID == "" {
				return nil, fmt.Errorf("send_chat_message: chat_id is required")
			}
			return p, nil
		},
		Run: func(ctx context.Context, hctx *dispatch.Context, payload any) dispatch.Outcome {
			p := payload.(sendChatMessagePayload)

			client, ok := chatClient(hctx)
			if !ok {
				return dispatch.Permanent(fmt.Errorf("send_chat_message: no chat client configured"))
			}

			if err := client.SendMessage(ctx, p.ChatID, p.Content); err != nil {
				return dispatch.Retryable(fmt.Errorf("send_chat_message: %w", err))
			}
			return dispatch.OK()
		},
	}
}
