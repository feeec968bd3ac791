package handlers

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/eykd/companion-memory/internal/dispatch"
)

// workSamplingPromptPayload is the shape work_sampling_planner enqueues:
// which user and which randomized slot within their work day this prompt
// belongs to.
type workSamplingPromptPayload struct {
	UserID    string `json:"user_id"`
	SlotIndex int    `json:"slot_index"`
}

const workSamplingPromptText = "What are you working on right now?"

func workSamplingPromptRegistration() dispatch.Registration {
	return dispatch.Registration{
		JobType: "work_sampling_prompt",
		Parse: func(raw []byte) (any, error) {
			var p workSamplingPromptPayload
			if err := sonic.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("work_sampling_prompt: %w", err)
			}
			if p.UserID == "" {
				return nil, fmt.Errorf("work_sampling_prompt: user_id is required")
			}
			return p, nil
		},
		Run: func(ctx context.Context, hctx *dispatch.Context, payload any) dispatch.Outcome {
			p := payload.(workSamplingPromptPayload)

			settings, ok := userSettings(hctx)
			if !ok {
				return dispatch.Permanent(fmt.Errorf("work_sampling_prompt: no user settings store configured"))
			}
			client, ok := chatClient(hctx)
			if !ok {
				return dispatch.Permanent(fmt.Errorf("work_sampling_prompt: no chat client configured"))
			}

			chatID, err := settings.ChatID(ctx, p.UserID)
			if err != nil {
				return dispatch.Retryable(fmt.Errorf("work_sampling_prompt: %w", err))
			}

			if err := client.SendMessage(ctx, chatID, workSamplingPromptText); err != nil {
				return dispatch.Retryable(fmt.Errorf("work_sampling_prompt: slot %d: %w", p.SlotIndex, err))
			}
			return dispatch.OK()
		},
	}
}
