package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/eykd/companion-memory/internal/dispatch"
)

// dailySummaryPayload is the shape the daily_summary_planner trigger
// enqueues: just the user whose prior-day window should be summarized.
type dailySummaryPayload struct {
	UserID string `json:"user_id"`
}

func dailySummaryRegistration() dispatch.Registration {
	return dispatch.Registration{
		JobType: "daily_summary",
		Parse: func(raw []byte) (any, error) {
			var p dailySummaryPayload
			if err := sonic.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("daily_summary: %w", err)
			}
			if p.UserID == "" {
				return nil, fmt.Errorf("daily_summary: user_id is required")
			}
			return p, nil
		},
		Run: runDailySummary,
	}
}

// runDailySummary fetches the last 24h of the user's raw activity log
// entries, asks the LLM to summarize them, and pushes the rendered result
// to their chat destination. Idempotent: re-running it for the same window
// re-fetches and re-sends rather than relying on any local state, so a
// crash-and-retry never leaves a half-sent summary behind — worst case the
// user gets the same recap twice.
func runDailySummary(ctx context.Context, hctx *dispatch.Context, payload any) dispatch.Outcome {
	p := payload.(dailySummaryPayload)

	settings, ok := userSettings(hctx)
	if !ok {
		return dispatch.Permanent(fmt.Errorf("daily_summary: no user settings store configured"))
	}
	store, ok := logStore(hctx)
	if !ok {
		return dispatch.Permanent(fmt.Errorf("daily_summary: no log store configured"))
	}
	llm, ok := llmClient(hctx)
	if !ok {
		return dispatch.Permanent(fmt.Errorf("daily_summary: no llm client configured"))
	}
	client, ok := chatClient(hctx)
	if !ok {
		return dispatch.Permanent(fmt.Errorf("daily_summary: no chat client configured"))
	}

	chatID, err := settings.ChatID(ctx, p.UserID)
	if err != nil {
		return dispatch.Retryable(fmt.Errorf("daily_summary: %w", err))
	}

	now := hctx.Clock.Now()
	entries, err := store.Entries(ctx, p.UserID, now.Add(-24*time.Hour), now)
	if err != nil {
		return dispatch.Retryable(fmt.Errorf("daily_summary: fetch entries: %w", err))
	}

	summary, err := llm.Summarize(ctx, entries)
	if err != nil {
		return dispatch.Retryable(fmt.Errorf("daily_summary: summarize: %w", err))
	}

	if err := client.SendMessage(ctx, chatID, summary); err != nil {
		return dispatch.Retryable(fmt.Errorf("daily_summary: send: %w", err))
	}
	return dispatch.OK()
}
